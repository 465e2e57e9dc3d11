package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"papertrader/internal/advisory"
	"papertrader/internal/feed"
	"papertrader/internal/guard"
	"papertrader/internal/indicators"
	"papertrader/internal/models"
	"papertrader/internal/position"
	"papertrader/internal/store"
	"papertrader/internal/strategy"
	"papertrader/internal/structure"
)

type Config struct {
	Feed        FeedConfig
	Engine      EngineConfig
	Guard       guard.Config
	Strategy    strategy.Config
	Position    position.Config
	Structure   structure.Config
	Indicators  indicators.Params
	Advisory    AdvisoryConfig
	Persistence PersistenceConfig
	Cloud       CloudConfig
	API         APIConfig
	Push        PushConfig
	Runtime     RuntimeConfig
	Instruments []models.Instrument
}

type FeedConfig struct {
	Sources     []string
	WS          feed.WSConfig
	Binance     BinanceConfig
	SeedHistory bool
	Supervisor  feed.Config
}

type BinanceConfig struct {
	ApiKey string
	Secret string
}

type EngineConfig struct {
	InitialBalance    float64
	QueueSize         int
	HousekeepInterval time.Duration
}

type AdvisoryConfig struct {
	Enabled bool
	HTTP    advisory.HTTPConfig
	Cache   advisory.Config
}

type PersistenceConfig struct {
	Path       string
	ArchiveDir string
	ImportPath string
}

type CloudConfig struct {
	Kind      string
	Timeout   time.Duration
	Firebase  FirebaseConfig
	Firestore FirestoreConfig
	Redis     store.RedisConfig
}

type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
}

type FirestoreConfig struct {
	Collection string
	Document   string
}

type APIConfig struct {
	Addr              string
	BroadcastInterval time.Duration
	JWTSecret         string
	CORSOrigins       []string
}

type PushConfig struct {
	Enabled   bool
	QueueSize int
	Timeout   time.Duration
}

type RuntimeConfig struct {
	Log LogConfig
}

type LogConfig struct {
	Level      string
	Format     string
	File       string
	MaxSize    int
	MaxBackups int
	MaxAge     int
	Compress   bool
}

const (
	CloudNone      = "none"
	CloudFirestore = "firestore"
	CloudRedis     = "redis"
)

// Load reads configs/config.* after loading .env into the environment.
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile reads the given config file, or configs/config.* when path is empty.
func LoadFile(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("чтение .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath("configs")
		v.SetConfigName("config")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("чтение конфигурации: %w", err)
		}
	}

	cfg := &Config{}

	cfg.Feed = FeedConfig{
		Sources: v.GetStringSlice("feed.sources"),
		WS: feed.WSConfig{
			Name:         v.GetString("feed.ws.name"),
			URL:          v.GetString("feed.ws.url"),
			APIKey:       envSub(v, "feed.ws.api_key"),
			Secret:       envSub(v, "feed.ws.secret"),
			TopicPrefix:  v.GetString("feed.ws.topic_prefix"),
			PingInterval: v.GetDuration("feed.ws.ping_interval"),
			ReadTimeout:  v.GetDuration("feed.ws.read_timeout"),
		},
		Binance: BinanceConfig{
			ApiKey: envSub(v, "feed.binance.api_key"),
			Secret: envSub(v, "feed.binance.secret"),
		},
		SeedHistory: v.GetBool("feed.seed_history"),
		Supervisor: feed.Config{
			StaleAfter:    v.GetDuration("feed.stale_after"),
			BackoffMin:    v.GetDuration("feed.backoff_min"),
			BackoffMax:    v.GetDuration("feed.backoff_max"),
			FailoverAfter: v.GetInt("feed.failover_after"),
		},
	}

	cfg.Engine = EngineConfig{
		InitialBalance:    v.GetFloat64("engine.initial_balance"),
		QueueSize:         v.GetInt("engine.queue_size"),
		HousekeepInterval: v.GetDuration("engine.housekeep_interval"),
	}

	cfg.Guard = guard.DefaultConfig()
	cfg.Strategy = strategy.DefaultConfig()
	cfg.Position = position.DefaultConfig()
	cfg.Structure = structure.DefaultConfig()
	cfg.Indicators = indicators.DefaultParams()
	cfg.Advisory.Cache = advisory.DefaultConfig()
	tuning := map[string]any{
		"guard":          &cfg.Guard,
		"strategy":       &cfg.Strategy,
		"position":       &cfg.Position,
		"structure":      &cfg.Structure,
		"indicators":     &cfg.Indicators,
		"advisory.cache": &cfg.Advisory.Cache,
	}
	for key, target := range tuning {
		if !v.IsSet(key) {
			continue
		}
		if err := v.UnmarshalKey(key, target); err != nil {
			return nil, fmt.Errorf("раздел %s: %w", key, err)
		}
	}

	cfg.Advisory.Enabled = v.GetBool("advisory.enabled")
	cfg.Advisory.HTTP = advisory.HTTPConfig{
		URL:     envSub(v, "advisory.url"),
		APIKey:  envSub(v, "advisory.api_key"),
		Secret:  envSub(v, "advisory.secret"),
		Timeout: cfg.Advisory.Cache.Timeout,
	}

	cfg.Persistence = PersistenceConfig{
		Path:       v.GetString("persistence.path"),
		ArchiveDir: v.GetString("persistence.archive_dir"),
		ImportPath: v.GetString("persistence.import_path"),
	}

	cfg.Cloud = CloudConfig{
		Kind:    strings.ToLower(v.GetString("cloud.kind")),
		Timeout: v.GetDuration("cloud.timeout"),
		Firebase: FirebaseConfig{
			ProjectID:       v.GetString("cloud.firebase.project_id"),
			CredentialsFile: envSub(v, "cloud.firebase.credentials_file"),
		},
		Firestore: FirestoreConfig{
			Collection: v.GetString("cloud.firestore.collection"),
			Document:   v.GetString("cloud.firestore.document"),
		},
		Redis: store.RedisConfig{
			Address:  envSub(v, "cloud.redis.address"),
			Password: envSub(v, "cloud.redis.password"),
			DB:       v.GetInt("cloud.redis.db"),
			Key:      v.GetString("cloud.redis.key"),
		},
	}

	cfg.API = APIConfig{
		Addr:              v.GetString("api.addr"),
		BroadcastInterval: v.GetDuration("api.broadcast_interval"),
		JWTSecret:         envSub(v, "api.jwt_secret"),
		CORSOrigins:       v.GetStringSlice("api.cors_origins"),
	}

	cfg.Push = PushConfig{
		Enabled:   v.GetBool("push.enabled"),
		QueueSize: v.GetInt("push.queue_size"),
		Timeout:   v.GetDuration("push.timeout"),
	}

	cfg.Runtime = RuntimeConfig{
		Log: LogConfig{
			Level:      v.GetString("runtime.log.level"),
			Format:     v.GetString("runtime.log.format"),
			File:       v.GetString("runtime.log.file"),
			MaxSize:    v.GetInt("runtime.log.max_size"),
			MaxBackups: v.GetInt("runtime.log.max_backups"),
			MaxAge:     v.GetInt("runtime.log.max_age"),
			Compress:   v.GetBool("runtime.log.compress"),
		},
	}

	if v.IsSet("instruments") {
		if err := v.UnmarshalKey("instruments", &cfg.Instruments); err != nil {
			return nil, fmt.Errorf("раздел instruments: %w", err)
		}
	} else {
		cfg.Instruments = DefaultInstruments()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if len(c.Instruments) == 0 {
		return errors.New("не задано ни одного инструмента")
	}
	if c.Engine.InitialBalance <= 0 {
		return fmt.Errorf("engine.initial_balance должен быть > 0: %v", c.Engine.InitialBalance)
	}
	if c.Persistence.Path == "" {
		return errors.New("не задан persistence.path")
	}
	switch c.Cloud.Kind {
	case "", CloudNone, CloudFirestore, CloudRedis:
	default:
		return fmt.Errorf("неизвестное облачное хранилище: %s", c.Cloud.Kind)
	}
	for _, src := range c.Feed.Sources {
		if src != "ws" && src != "binance" {
			return fmt.Errorf("неизвестный источник котировок: %s", src)
		}
	}
	if c.Advisory.Enabled && c.Advisory.HTTP.URL == "" {
		return errors.New("advisory.enabled без advisory.url")
	}
	return c.Guard.Validate()
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("feed.sources", []string{"ws", "binance"})
	v.SetDefault("feed.ws.name", "ws")
	v.SetDefault("feed.ws.topic_prefix", "tickers.")
	v.SetDefault("feed.ws.ping_interval", 20*time.Second)
	v.SetDefault("feed.ws.read_timeout", 60*time.Second)
	v.SetDefault("feed.seed_history", true)
	v.SetDefault("feed.stale_after", 30*time.Second)
	v.SetDefault("feed.backoff_min", time.Second)
	v.SetDefault("feed.backoff_max", 30*time.Second)
	v.SetDefault("feed.failover_after", 3)

	v.SetDefault("engine.initial_balance", 10000.0)
	v.SetDefault("engine.queue_size", 1024)
	v.SetDefault("engine.housekeep_interval", 15*time.Second)

	v.SetDefault("persistence.path", "data/state.json")
	v.SetDefault("persistence.archive_dir", "data/archive")

	v.SetDefault("cloud.kind", CloudNone)
	v.SetDefault("cloud.timeout", 10*time.Second)
	v.SetDefault("cloud.firestore.collection", "papertrader")
	v.SetDefault("cloud.firestore.document", "state")
	v.SetDefault("cloud.redis.address", "localhost:6379")
	v.SetDefault("cloud.redis.key", "papertrader:state")

	v.SetDefault("api.addr", ":8080")
	v.SetDefault("api.broadcast_interval", time.Second)
	v.SetDefault("api.cors_origins", []string{"*"})

	v.SetDefault("push.queue_size", 100)
	v.SetDefault("push.timeout", 10*time.Second)

	v.SetDefault("runtime.log.level", "info")
	v.SetDefault("runtime.log.format", "text")
	v.SetDefault("runtime.log.max_size", 50)
	v.SetDefault("runtime.log.max_backups", 5)
	v.SetDefault("runtime.log.max_age", 14)
}

// DefaultInstruments is used when the config has no instruments section.
func DefaultInstruments() []models.Instrument {
	return []models.Instrument{
		{
			Symbol: "XAUUSD", FeedSymbol: "PAXGUSDT", StartPrice: 2000, Volatility: 0.0004,
			MinLot: 0.01, MaxLot: 50, LotStep: 0.01, DefaultLot: 1, Precision: 2, SpreadPct: 0.0002,
			SessionStart: "07:00", SessionEnd: "16:00", HardClose: "20:45",
			HardCloseStrategies:   []string{models.StrategySession},
			AdvisoryMinConfidence: 70,
			Strategies:            []string{models.StrategyTrend, models.StrategySession, models.StrategyAdvisory},
			Active:                true,
		},
		{
			Symbol: "BTCUSD", FeedSymbol: "BTCUSDT", StartPrice: 60000, Volatility: 0.0008,
			MinLot: 0.001, MaxLot: 5, LotStep: 0.001, DefaultLot: 0.05, Precision: 2, SpreadPct: 0.0001,
			SessionStart: "13:00", SessionEnd: "21:00",
			AdvisoryMinConfidence: 70,
			Strategies:            []string{models.StrategyTrend, models.StrategyAdvisory, models.StrategyMeanReversion},
			Active:                true,
		},
		{
			Symbol: "EURUSD", FeedSymbol: "EURUSDT", StartPrice: 1.08, Volatility: 0.0002,
			MinLot: 1000, MaxLot: 1000000, LotStep: 1000, DefaultLot: 10000, Precision: 5, SpreadPct: 0.0001,
			SessionStart: "07:00", SessionEnd: "16:00", HardClose: "20:45",
			HardCloseStrategies:   []string{models.StrategySession},
			AdvisoryMinConfidence: 75,
			Strategies:            []string{models.StrategySession, models.StrategyMeanReversion},
			Active:                false,
		},
	}
}

var envPattern = regexp.MustCompile(`\$\{(\w+)\}`)

func envSub(v *viper.Viper, key string) string {
	val := v.GetString(key)
	if val == "" {
		return ""
	}

	return envPattern.ReplaceAllStringFunc(val, func(match string) string {
		envKey := strings.TrimSuffix(strings.TrimPrefix(match, "${"), "}")
		return os.Getenv(envKey)
	})
}

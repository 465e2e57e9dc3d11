package models

const SnapshotVersion = 1

type AssetConfig struct {
	BotActive  bool     `json:"bot_active"`
	Strategies []string `json:"strategies"`
}

type PersistedSnapshot struct {
	Version           int                    `json:"version"`
	SavedAt           int64                  `json:"saved_at"`
	Account           Account                `json:"account"`
	Trades            []Trade                `json:"trades"`
	PushSubscriptions []string               `json:"push_subscriptions"`
	AssetsConfig      map[string]AssetConfig `json:"assets_config"`
}

func (s PersistedSnapshot) Clone() PersistedSnapshot {
	out := s
	out.Trades = CloneTrades(s.Trades)
	if s.PushSubscriptions != nil {
		out.PushSubscriptions = append([]string(nil), s.PushSubscriptions...)
	}
	if s.AssetsConfig != nil {
		out.AssetsConfig = make(map[string]AssetConfig, len(s.AssetsConfig))
		for k, v := range s.AssetsConfig {
			v.Strategies = append([]string(nil), v.Strategies...)
			out.AssetsConfig[k] = v
		}
	}
	return out
}

package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"papertrader/internal/logger"
	"papertrader/internal/metrics"
	"papertrader/internal/models"
)

var ErrNoSnapshot = errors.New("снапшот не найден")

const (
	SourcePrimary = "primary"
	SourceBackup  = "backup"
)

// LocalStore keeps the snapshot in one JSON file with a .bak copy of the previous version.
type LocalStore struct {
	path string
	log  *logger.Logger
}

func NewLocalStore(path string, log *logger.Logger) *LocalStore {
	return &LocalStore{path: path, log: log}
}

func (s *LocalStore) Path() string {
	return s.path
}

func (s *LocalStore) BackupPath() string {
	return s.path + ".bak"
}

func (s *LocalStore) logEntry() *logrus.Entry {
	return s.log.WithComponent("store").WithField("path", s.path)
}

// Save writes to a temp file, fsyncs it, copies the current primary to .bak and renames
// the temp file over the primary.
func (s *LocalStore) Save(snap models.PersistedSnapshot) error {
	err := s.save(snap)
	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.PersistWrites.WithLabelValues("local", result).Inc()
	return err
}

func (s *LocalStore) save(snap models.PersistedSnapshot) error {
	snap.Version = models.SnapshotVersion
	if snap.SavedAt == 0 {
		snap.SavedAt = time.Now().UnixMilli()
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("сериализация снапшота: %w", err)
	}
	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("создание каталога: %w", err)
		}
	}

	tmp := s.path + ".tmp"
	if err := writeSynced(tmp, data); err != nil {
		return err
	}

	if current, err := os.ReadFile(s.path); err == nil {
		if json.Valid(current) {
			if err := writeSynced(s.BackupPath(), current); err != nil {
				s.logEntry().WithError(err).Warn("Не удалось обновить резервную копию.")
			}
		} else {
			s.logEntry().Warn("Основной файл повреждён, резервная копия не перезаписана.")
		}
	}

	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("переименование %s: %w", tmp, err)
	}
	return nil
}

// Load reads the primary file and falls back to .bak when it is missing or unparsable.
func (s *LocalStore) Load() (models.PersistedSnapshot, string, error) {
	snap, primaryErr := readSnapshot(s.path)
	if primaryErr == nil {
		return snap, SourcePrimary, nil
	}
	if !errors.Is(primaryErr, fs.ErrNotExist) {
		s.logEntry().WithError(primaryErr).Error("Основной снапшот повреждён, пробуем резервную копию.")
	}

	snap, backupErr := readSnapshot(s.BackupPath())
	if backupErr == nil {
		s.logEntry().Warn("Состояние восстановлено из резервной копии.")
		return snap, SourceBackup, nil
	}
	if errors.Is(primaryErr, fs.ErrNotExist) && errors.Is(backupErr, fs.ErrNotExist) {
		return models.PersistedSnapshot{}, "", ErrNoSnapshot
	}
	return models.PersistedSnapshot{}, "", fmt.Errorf("основной: %v; резервный: %w", primaryErr, backupErr)
}

// Archive writes the snapshot to dir/state-<unixms>-<id>.json and returns the path.
func Archive(dir string, snap models.PersistedSnapshot, now time.Time) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("создание архива: %w", err)
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return "", err
	}
	id := strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
	path := filepath.Join(dir, fmt.Sprintf("state-%d-%s.json", now.UnixMilli(), id))
	if err := writeSynced(path, data); err != nil {
		return "", err
	}
	return path, nil
}

func readSnapshot(path string) (models.PersistedSnapshot, error) {
	var snap models.PersistedSnapshot
	data, err := os.ReadFile(path)
	if err != nil {
		return snap, err
	}
	if err := json.Unmarshal(data, &snap); err != nil {
		return snap, fmt.Errorf("разбор %s: %w", path, err)
	}
	return snap, nil
}

func writeSynced(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("открытие %s: %w", path, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("запись %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("fsync %s: %w", path, err)
	}
	return f.Close()
}

// Quarantine moves an unreadable primary aside so a fresh start does not overwrite it.
func (s *LocalStore) Quarantine(now time.Time) (string, error) {
	target := fmt.Sprintf("%s.corrupt-%d", s.path, now.UnixMilli())
	if err := os.Rename(s.path, target); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("не удалось отложить повреждённый снапшот: %w", err)
	}
	s.logEntry().WithField("target", target).Warn("Повреждённый снапшот отложен.")
	return target, nil
}

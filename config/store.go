package config

import (
	"encoding/json"

	"github.com/dgraph-io/badger/v2"
	log "github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/pkg/errors"
)

var configKey = []byte("metergw:config")

// Store persists the gateway Config in badger. An unreadable or invalid
// stored config is replaced with defaults and re-saved, so Load always
// yields something usable.
type Store struct {
	logger log.Logger
	db     *badger.DB
}

// NewStore returns a Store on top of an open badger DB.
func NewStore(logger log.Logger, db *badger.DB) *Store {
	logger = log.With(logger, "component", "configstore")
	return &Store{logger: logger, db: db}
}

// Load reads the stored config, falling back to (and persisting) defaults
// when nothing valid is stored.
func (s *Store) Load() (Config, error) {
	var raw []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(configKey)
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})

	switch {
	case errors.Is(err, badger.ErrKeyNotFound):
		level.Info(s.logger).Log("msg", "no stored config, writing defaults")
		return s.reset()
	case err != nil:
		return Config{}, errors.Wrap(err, "read config")
	}

	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		level.Error(s.logger).Log("msg", "stored config unreadable, resetting", "error", err)
		return s.reset()
	}
	if err := cfg.Validate(); err != nil {
		level.Error(s.logger).Log("msg", "stored config invalid, resetting", "error", err)
		return s.reset()
	}
	return cfg, nil
}

// Save validates and persists cfg.
func (s *Store) Save(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "refusing to save invalid config")
	}
	raw, err := json.Marshal(cfg)
	if err != nil {
		return errors.Wrap(err, "marshal config")
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(configKey, raw)
	})
	return errors.Wrap(err, "write config")
}

func (s *Store) reset() (Config, error) {
	cfg := Default()
	if err := s.Save(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

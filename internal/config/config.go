// Package config resolves command line options, falling back to the
// environment and then to defaults.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/docopt/docopt-go"
	"github.com/google/uuid"
)

const (
	DefaultAddr     = ":8080"
	DefaultDataDir  = "seqcrdt-data"
	DefaultAutosave = 60 * time.Second
)

type Config struct {
	Addr        string
	Replica     string
	DataDir     string
	DatabaseURL string
	RedisAddr   string
	Autosave    time.Duration
}

// lookup returns the option if it was given, else the env var, else def.
func lookup(opts docopt.Opts, key, env, def string) string {
	if v, ok := opts[key].(string); ok && v != "" {
		return v
	}
	if v := os.Getenv(env); v != "" {
		return v
	}
	return def
}

func FromOpts(opts docopt.Opts) (Config, error) {
	cfg := Config{
		Addr:        lookup(opts, "--addr", "SEQCRDT_ADDR", DefaultAddr),
		Replica:     lookup(opts, "--replica", "SEQCRDT_REPLICA", ""),
		DataDir:     lookup(opts, "--data", "SEQCRDT_DATA", DefaultDataDir),
		DatabaseURL: lookup(opts, "--postgres", "DATABASE_URL", ""),
		RedisAddr:   lookup(opts, "--redis", "REDIS_ADDR", ""),
		Autosave:    DefaultAutosave,
	}
	if cfg.Replica == "" {
		cfg.Replica = uuid.NewString()
	}
	if s := lookup(opts, "--autosave", "SEQCRDT_AUTOSAVE", ""); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil || d < 0 {
			return cfg, fmt.Errorf("config: bad autosave interval %q", s)
		}
		cfg.Autosave = d
	}
	return cfg, nil
}

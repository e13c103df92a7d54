package main

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/lyhniupi1/flexgate/internal/store"
)

type config struct {
	Server serverConfig `yaml:"server"`
	Redis  redisConfig  `yaml:"redis"`
	Seed   seedConfig   `yaml:"seed"`
}

type serverConfig struct {
	Addr         string `yaml:"addr"`
	ReadTimeout  string `yaml:"read_timeout"`
	WriteTimeout string `yaml:"write_timeout"`
	IdleTimeout  string `yaml:"idle_timeout"`

	// RateLimit is requests per second; 0 disables limiting.
	RateLimit        int   `yaml:"rate_limit"`
	RateBurst        int   `yaml:"rate_burst"`
	MaxInflightBytes int64 `yaml:"max_inflight_bytes"`
}

type redisConfig struct {
	Addr         string `yaml:"addr"`
	Password     string `yaml:"password"`
	DB           int    `yaml:"db"`
	KeyPrefix    string `yaml:"key_prefix"`
	DialTimeout  string `yaml:"dial_timeout"`
	ReadTimeout  string `yaml:"read_timeout"`
	WriteTimeout string `yaml:"write_timeout"`
}

// seedConfig lists records loaded into the store at startup so the cpay
// screens have something to show in local dev.
type seedConfig struct {
	CpayErrors []store.CpayError `yaml:"cpay_errors"`
}

func defaultConfig() config {
	return config{
		Server: serverConfig{
			Addr:         ":8080",
			ReadTimeout:  "10s",
			WriteTimeout: "10s",
			IdleTimeout:  "60s",
		},
		Redis: redisConfig{
			Addr:         "",
			Password:     "",
			DB:           0,
			KeyPrefix:    "flexgate:",
			DialTimeout:  "1s",
			ReadTimeout:  "1s",
			WriteTimeout: "1s",
		},
	}
}

// loadConfig reads path (a missing file is fine), then applies .env and
// FLEXGATE_* environment overrides. It reports whether the file was read.
func loadConfig(path string) (config, bool, error) {
	cfg := defaultConfig()
	loaded := false
	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(b, &cfg); err != nil {
				return config{}, false, fmt.Errorf("parse %s: %w", path, err)
			}
			loaded = true
		case errors.Is(err, os.ErrNotExist):
		default:
			return config{}, false, err
		}
	}

	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("load .env error: %v", err)
	}
	if err := applyEnv(&cfg); err != nil {
		return config{}, false, err
	}

	fillDefaults(&cfg)
	return cfg, loaded, nil
}

func fillDefaults(cfg *config) {
	def := defaultConfig()
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = def.Server.Addr
	}
	if cfg.Server.ReadTimeout == "" {
		cfg.Server.ReadTimeout = def.Server.ReadTimeout
	}
	if cfg.Server.WriteTimeout == "" {
		cfg.Server.WriteTimeout = def.Server.WriteTimeout
	}
	if cfg.Server.IdleTimeout == "" {
		cfg.Server.IdleTimeout = def.Server.IdleTimeout
	}
	if cfg.Redis.KeyPrefix == "" {
		cfg.Redis.KeyPrefix = def.Redis.KeyPrefix
	}
	if cfg.Redis.DialTimeout == "" {
		cfg.Redis.DialTimeout = def.Redis.DialTimeout
	}
	if cfg.Redis.ReadTimeout == "" {
		cfg.Redis.ReadTimeout = def.Redis.ReadTimeout
	}
	if cfg.Redis.WriteTimeout == "" {
		cfg.Redis.WriteTimeout = def.Redis.WriteTimeout
	}
}

func applyEnv(cfg *config) error {
	if v, ok := os.LookupEnv("FLEXGATE_ADDR"); ok && v != "" {
		cfg.Server.Addr = v
	}
	if v, ok := os.LookupEnv("FLEXGATE_REDIS_ADDR"); ok {
		cfg.Redis.Addr = v
	}
	if v, ok := os.LookupEnv("FLEXGATE_REDIS_PASSWORD"); ok {
		cfg.Redis.Password = v
	}
	if v, ok := os.LookupEnv("FLEXGATE_REDIS_KEY_PREFIX"); ok && v != "" {
		cfg.Redis.KeyPrefix = v
	}
	if v, ok := os.LookupEnv("FLEXGATE_REDIS_DB"); ok && v != "" {
		db, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("env FLEXGATE_REDIS_DB invalid int: %w", err)
		}
		cfg.Redis.DB = db
	}
	return nil
}

func (c config) serverTimeouts() (read time.Duration, write time.Duration, idle time.Duration, err error) {
	read, err = time.ParseDuration(c.Server.ReadTimeout)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("server.read_timeout invalid duration: %w", err)
	}
	write, err = time.ParseDuration(c.Server.WriteTimeout)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("server.write_timeout invalid duration: %w", err)
	}
	idle, err = time.ParseDuration(c.Server.IdleTimeout)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("server.idle_timeout invalid duration: %w", err)
	}
	return read, write, idle, nil
}

func (c config) redisTimeouts() (dial time.Duration, read time.Duration, write time.Duration, err error) {
	dial, err = time.ParseDuration(c.Redis.DialTimeout)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("redis.dial_timeout invalid duration: %w", err)
	}
	read, err = time.ParseDuration(c.Redis.ReadTimeout)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("redis.read_timeout invalid duration: %w", err)
	}
	write, err = time.ParseDuration(c.Redis.WriteTimeout)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("redis.write_timeout invalid duration: %w", err)
	}
	return dial, read, write, nil
}

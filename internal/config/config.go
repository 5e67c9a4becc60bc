// Package config loads server settings from the environment, with an
// optional .env file for development.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	Addr        string `env:"ADDR" envDefault:":8080"`
	Store       string `env:"STORE" envDefault:"memory"` // memory | sqlite | postgres
	SQLitePath  string `env:"SQLITE_PATH" envDefault:"matchbox.db"`
	PostgresDSN string `env:"POSTGRES_DSN"`
	APISecret   string `env:"API_SECRET"`
	LogDev      bool   `env:"LOG_DEV"`
}

func Load() (Config, error) {
	_ = godotenv.Load()
	var c Config
	if err := env.Parse(&c); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return c, nil
}

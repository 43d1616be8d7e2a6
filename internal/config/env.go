package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// LoadEnv loads a .env file if one exists. A missing file is not an error.
func LoadEnv(filenames ...string) error {
	if err := godotenv.Load(filenames...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// ApplyEnv overrides connection settings and secrets from the environment.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("TRAFFICLENS_NATS_URL"); v != "" {
		c.NATS.URL = v
	}
	if v := os.Getenv("TRAFFICLENS_CLICKHOUSE_HOST"); v != "" {
		c.Storage.ClickHouse.Host = v
	}
	if v := os.Getenv("TRAFFICLENS_CLICKHOUSE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Storage.ClickHouse.Port = port
		}
	}
	if v := os.Getenv("TRAFFICLENS_CLICKHOUSE_USER"); v != "" {
		c.Storage.ClickHouse.Username = v
	}
	if v := os.Getenv("TRAFFICLENS_CLICKHOUSE_PASSWORD"); v != "" {
		c.Storage.ClickHouse.Password = v
	}
	if v := os.Getenv("TRAFFICLENS_SMTP_PASSWORD"); v != "" {
		c.SMTP.Password = v
	}
	if v := os.Getenv("TRAFFICLENS_SCORER_ADDR"); v != "" {
		c.Alerts.Statistical.ServiceAddr = v
	}
}

// Package config loads service configuration from the environment, with
// an optional .env file for local development.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Service holds the process-level settings of the backtest service. Run
// parameters live in engine.Config; this covers only the surrounding
// plumbing.
type Service struct {
	HTTPAddr string
	GRPCAddr string

	DataDir  string // directory of per-symbol CSV files
	LogLevel string // debug, info, warn, error
	Workers  int

	ClickHouseEnabled  bool
	ClickHouseAddr     string
	ClickHouseDatabase string
	ClickHouseUser     string
	ClickHousePassword string
}

// Load reads the environment, after merging an optional .env file. A
// missing .env is not an error; unset variables fall back to defaults.
func Load() (Service, error) {
	_ = godotenv.Load()

	svc := Service{
		HTTPAddr:           getenv("BACKTEST_HTTP_ADDR", ":8080"),
		GRPCAddr:           getenv("BACKTEST_GRPC_ADDR", ":9090"),
		DataDir:            getenv("BACKTEST_DATA_DIR", "./data"),
		LogLevel:           getenv("BACKTEST_LOG_LEVEL", "info"),
		ClickHouseAddr:     getenv("CLICKHOUSE_ADDR", "localhost:9000"),
		ClickHouseDatabase: getenv("CLICKHOUSE_DATABASE", "backtest"),
		ClickHouseUser:     getenv("CLICKHOUSE_USER", "backtest"),
		ClickHousePassword: os.Getenv("CLICKHOUSE_PASSWORD"),
	}

	var err error
	svc.Workers, err = getenvInt("BACKTEST_WORKERS", 4)
	if err != nil {
		return Service{}, err
	}
	if svc.Workers < 1 {
		return Service{}, fmt.Errorf("BACKTEST_WORKERS must be at least 1, got %d", svc.Workers)
	}
	svc.ClickHouseEnabled, err = getenvBool("CLICKHOUSE_ENABLED", false)
	if err != nil {
		return Service{}, err
	}

	switch svc.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return Service{}, fmt.Errorf("BACKTEST_LOG_LEVEL must be debug, info, warn, or error, got %q", svc.LogLevel)
	}
	return svc, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func getenvBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s must be a boolean, got %q", key, v)
	}
	return b, nil
}

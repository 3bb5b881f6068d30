package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/eppraise/eppraise/internal/store/shared"
)

// Config holds process settings read from the environment.
type Config struct {
	Environment    string
	LogLevel       string
	Port           string
	StoreConfig    string
	EbayConfigPath string
	UpdateInterval time.Duration
	RPSLimit       float64
	RPSBurst       int
	MaxRetries     int
}

// Load reads a .env file when one exists, then the process environment.
// Malformed numeric values fall back to their defaults with a warning.
func Load(logger *zap.Logger) *Config {
	if err := godotenv.Load(); err != nil {
		logger.Debug("no .env file loaded", zap.Error(err))
	}

	cfg := &Config{
		Environment:    getEnv("ENVIRONMENT", "production"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		Port:           getEnv("PORT", "8080"),
		StoreConfig:    getEnv("STORE_CONFIG", ""),
		EbayConfigPath: getEnv("EBAY_CONFIG", "ebay.yaml"),
		UpdateInterval: getDuration(logger, "UPDATE_INTERVAL", time.Hour),
		RPSLimit:       getFloat(logger, "RPS_LIMIT", 10),
		RPSBurst:       getInt(logger, "RPS_BURST", 20),
		MaxRetries:     getInt(logger, "MAX_RETRIES", 10),
	}

	logger.Info("configuration loaded",
		zap.String("environment", cfg.Environment),
		zap.String("log_level", cfg.LogLevel),
		zap.String("port", cfg.Port),
		zap.Duration("update_interval", cfg.UpdateInterval),
		zap.Int("max_retries", cfg.MaxRetries),
	)
	return cfg
}

// StoreJSON returns the record store provider document, defaulting to a
// sqlite file in the working directory.
func (c *Config) StoreJSON() string {
	if c.StoreConfig != "" {
		return c.StoreConfig
	}
	b, _ := json.Marshal(shared.DbProviderConfig{
		DbType:       shared.DbTypeSqlite,
		ExtraDetails: map[string]interface{}{"path": "eppraise.db"},
	})
	return string(b)
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getInt(logger *zap.Logger, key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		logger.Warn("invalid integer setting, using default", zap.String("key", key), zap.String("value", v))
		return def
	}
	return n
}

func getFloat(logger *zap.Logger, key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		logger.Warn("invalid number setting, using default", zap.String("key", key), zap.String("value", v))
		return def
	}
	return f
}

func getDuration(logger *zap.Logger, key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		logger.Warn("invalid duration setting, using default", zap.String("key", key), zap.String("value", v))
		return def
	}
	return d
}

// Ebay is the search API credential file.
type Ebay struct {
	AppID    string `yaml:"id"`
	Site     string `yaml:"site"`
	Endpoint string `yaml:"endpoint"`
}

type ebayFile struct {
	Ebay Ebay `yaml:"ebay"`
}

// LoadEbay reads the YAML credential file:
//
//	ebay:
//	  id: <application id>
//	  site: EBAY-US
func LoadEbay(path string) (Ebay, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Ebay{}, fmt.Errorf("failed to read ebay config: %w", err)
	}
	var f ebayFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return Ebay{}, fmt.Errorf("failed to parse ebay config %s: %w", path, err)
	}
	if f.Ebay.AppID == "" {
		return Ebay{}, fmt.Errorf("ebay config %s: ebay.id is required", path)
	}
	return f.Ebay, nil
}

package config

import (
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config корневая структура конфигурации сервера мира.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Cache     CacheConfig     `yaml:"cache"`
	EventBus  EventBusConfig  `yaml:"eventbus"`
	World     WorldConfig     `yaml:"world"`
	Snapshots SnapshotsConfig `yaml:"snapshots"`
}

type ServerConfig struct {
	RESTPort    int `yaml:"rest_port"`
	MetricsPort int `yaml:"metrics_port"`
}

// StorageConfig выбирает durable-хранилище.
// Backend: memory | maria | mongo.
type StorageConfig struct {
	Backend  string `yaml:"backend"`
	MariaDSN string `yaml:"maria_dsn"`

	MongoURI      string `yaml:"mongo_uri"`
	MongoDatabase string `yaml:"mongo_database"`
}

type CacheConfig struct {
	RedisURL      string `yaml:"redis_url"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
}

type EventBusConfig struct {
	URL       string `yaml:"url"`
	Stream    string `yaml:"stream"`
	Retention int    `yaml:"retention_hours"`
}

type WorldConfig struct {
	SpawnSeed int64 `yaml:"spawn_seed"`
}

type SnapshotsConfig struct {
	DataPath string `yaml:"data_path"`
	Keep     int    `yaml:"keep"`
}

// GetRESTPort возвращает REST API порт с поддержкой fallback значений
func (s *ServerConfig) GetRESTPort() int {
	return getPortWithEnvFallback(s.RESTPort, "REEF_REST_PORT", 8088)
}

// GetMetricsPort возвращает Prometheus метрики порт с поддержкой fallback значений
func (s *ServerConfig) GetMetricsPort() int {
	return getPortWithEnvFallback(s.MetricsPort, "REEF_METRICS_PORT", 2112)
}

// GetBackend возвращает бэкенд хранилища с приоритетом: config -> env -> memory
func (s *StorageConfig) GetBackend() string {
	if s.Backend != "" {
		return s.Backend
	}
	if env := os.Getenv("REEF_STORAGE_BACKEND"); env != "" {
		return env
	}
	return "memory"
}

// GetRedisURL возвращает адрес Redis с приоритетом: config -> env
func (c *CacheConfig) GetRedisURL() string {
	if c.RedisURL != "" {
		return c.RedisURL
	}
	return os.Getenv("REEF_REDIS_URL")
}

// GetNATSURL возвращает адрес NATS с приоритетом: config -> env
func (e *EventBusConfig) GetNATSURL() string {
	if e.URL != "" {
		return e.URL
	}
	return os.Getenv("REEF_NATS_URL")
}

// GetDataPath возвращает каталог данных для архива снимков
func (s *SnapshotsConfig) GetDataPath() string {
	if s.DataPath != "" {
		return s.DataPath
	}
	if env := os.Getenv("REEF_DATA_PATH"); env != "" {
		return env
	}
	return "./data"
}

// getPortWithEnvFallback возвращает порт с приоритетом: config -> env -> default
func getPortWithEnvFallback(configPort int, envVar string, defaultPort int) int {
	if configPort > 0 {
		return configPort
	}

	if envVal := os.Getenv(envVar); envVal != "" {
		if port, err := strconv.Atoi(envVal); err == nil && port > 0 {
			return port
		}
	}

	return defaultPort
}

// Load читает YAML файл конфигурации.
// Если path == "", пытается прочитать из ENV REEF_CONFIG или возвращает nil, nil.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("REEF_CONFIG")
		if path == "" {
			return nil, nil // конфиг не задан — использовать дефолты
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

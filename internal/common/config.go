// Package common provides configuration and progress counters shared by the
// solar-germany commands.
package common

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/KI7MT/ki7mt-solar-germany/internal/warehouse"
)

// ConfigPathEnvVar overrides the config file location.
const ConfigPathEnvVar = "SOLAR_CONFIG"

// DefaultConfigPath is read when present and SOLAR_CONFIG is unset.
const DefaultConfigPath = "solar.yaml"

// Config holds common configuration for all applications.
type Config struct {
	ClickHouse ClickHouseConfig `koanf:"clickhouse"`
	Data       DataConfig       `koanf:"data"`
	Storage    StorageConfig    `koanf:"storage"`
	Predict    PredictConfig    `koanf:"predict"`
	Cache      CacheConfig      `koanf:"cache"`
	Log        LogConfig        `koanf:"log"`
}

type ClickHouseConfig struct {
	Host     string `koanf:"host" validate:"required"`
	Port     int    `koanf:"port" validate:"min=1,max=65535"`
	Database string `koanf:"database" validate:"required"`
	Table    string `koanf:"table" validate:"required"`
	User     string `koanf:"user"`
	Password string `koanf:"password"`
	Driver   string `koanf:"driver" validate:"oneof=native std"`
}

// Addr returns host:port.
func (c ClickHouseConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// WarehouseOptions converts the section to connection options.
func (c ClickHouseConfig) WarehouseOptions() warehouse.Options {
	return warehouse.Options{
		Addr:     c.Addr(),
		Database: c.Database,
		Table:    c.Table,
		User:     c.User,
		Password: c.Password,
		Driver:   warehouse.Driver(c.Driver),
	}
}

type DataConfig struct {
	Dir       string `koanf:"dir" validate:"required"`
	ChunkSize int    `koanf:"chunk_size" validate:"min=1"`
	MinYear   int    `koanf:"min_year" validate:"min=1900"`
	MaxYear   int    `koanf:"max_year" validate:"gtefield=MinYear"`
}

type StorageConfig struct {
	Bucket        string        `koanf:"bucket"`
	CSVObject     string        `koanf:"csv_object"`
	GeoJSONObject string        `koanf:"geojson_object"`
	Timeout       time.Duration `koanf:"timeout" validate:"min=0"`
}

type PredictConfig struct {
	URL              string        `koanf:"url" validate:"omitempty,url"`
	Timeout          time.Duration `koanf:"timeout" validate:"min=0"`
	FailureThreshold uint32        `koanf:"failure_threshold" validate:"min=1"`
}

type CacheConfig struct {
	TTL time.Duration `koanf:"ttl" validate:"min=0"` // 0 disables expiry
}

type LogConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error fatal disabled"`
	Format string `koanf:"format" validate:"oneof=console json"`
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		ClickHouse: ClickHouseConfig{
			Host:     "localhost",
			Port:     9000,
			Database: "solar",
			Table:    "registry",
			User:     "default",
			Driver:   "native",
		},
		Data: DataConfig{
			Dir:       "/var/lib/ki7mt-ai-lab/solar",
			ChunkSize: 100_000,
			MinYear:   2000,
			MaxYear:   2024,
		},
		Storage: StorageConfig{
			Bucket:        "solar_germany",
			CSVObject:     "solar_germany.csv",
			GeoJSONObject: "germany_states.geojson",
			Timeout:       5 * time.Minute,
		},
		Predict: PredictConfig{
			Timeout:          10 * time.Second,
			FailureThreshold: 5,
		},
		Cache: CacheConfig{
			TTL: time.Hour,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// SolarDataDir returns the solar data directory path.
func (c *Config) SolarDataDir() string {
	return filepath.Clean(c.Data.Dir)
}

// LoadConfig layers defaults, an optional YAML file and the environment,
// then validates the result. An empty path means SOLAR_CONFIG, then
// solar.yaml if it exists.
func LoadConfig(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(DefaultConfig(), "koanf"), nil); err != nil {
		return nil, errors.Wrap(err, "load defaults")
	}

	if path == "" {
		path = findConfigFile()
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, errors.Wrapf(err, "load config file %s", path)
		}
	}

	if err := k.Load(env.Provider("", ".", envKey), nil); err != nil {
		return nil, errors.Wrap(err, "load environment")
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, errors.Wrap(err, "unmarshal config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		return p
	}
	if _, err := os.Stat(DefaultConfigPath); err == nil {
		return DefaultConfigPath
	}
	return ""
}

// legacyEnv maps the historical lab variable names onto config keys.
var legacyEnv = map[string]string{
	"CLICKHOUSE_HOST":     "clickhouse.host",
	"CLICKHOUSE_PORT":     "clickhouse.port",
	"CLICKHOUSE_DATABASE": "clickhouse.database",
	"CLICKHOUSE_USER":     "clickhouse.user",
	"CLICKHOUSE_PASSWORD": "clickhouse.password",
	"KI7MT_DATA_DIR":      "data.dir",
	"LOG_LEVEL":           "log.level",
}

var sections = []string{"clickhouse", "data", "storage", "predict", "cache", "log"}

// envKey maps SOLAR_<SECTION>_<KEY> to section.key, e.g.
// SOLAR_DATA_CHUNK_SIZE -> data.chunk_size. Anything else is ignored.
func envKey(name string) string {
	if key, ok := legacyEnv[name]; ok {
		return key
	}
	rest, ok := strings.CutPrefix(name, "SOLAR_")
	if !ok || name == ConfigPathEnvVar {
		return ""
	}
	rest = strings.ToLower(rest)
	for _, s := range sections {
		if field, ok := strings.CutPrefix(rest, s+"_"); ok && field != "" {
			return s + "." + field
		}
	}
	return ""
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
		}
		return errors.Wrap(err, "validate config")
	}
	return nil
}

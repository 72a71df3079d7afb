// Package config loads the CRM settings from a YAML file, an optional .env
// file and CRM_* environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/gartstein/crm/internal/crm/db"
	e "github.com/gartstein/crm/internal/crm/errors"
	"github.com/gartstein/crm/internal/crm/models"
	"github.com/gartstein/crm/internal/crm/segments"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	BackendJSON     = "json"
	BackendSQLite   = db.DriverSQLite
	BackendPostgres = db.DriverPostgres

	DefaultDataFile = "customers.json"
	DefaultTopic    = "customers"
)

// Config mirrors the YAML file.
type Config struct {
	DataFile          string   `yaml:"DATA_FILE"`
	Backend           string   `yaml:"BACKEND"`
	DBDSN             string   `yaml:"DB_DSN"`
	DBHost            string   `yaml:"DB_HOST"`
	DBPort            int      `yaml:"DB_PORT"`
	DBUser            string   `yaml:"DB_USER"`
	DBPassword        string   `yaml:"DB_PASSWORD"`
	DBName            string   `yaml:"DB_NAME"`
	DBSSLMode         string   `yaml:"DB_SSLMODE"`
	KafkaBrokers      []string `yaml:"KAFKA_BROKERS"`
	Topic             string   `yaml:"TOPIC"`
	VIPCompanies      []string `yaml:"VIP_COMPANIES"`
	HighValueIndustry string   `yaml:"HIGH_VALUE_INDUSTRY"`
	GrowthWindow      string   `yaml:"GROWTH_WINDOW"`
	Timezone          string   `yaml:"TIMEZONE"`
	LogLevel          string   `yaml:"LOG_LEVEL"`
}

// Default returns the settings used when no file is present.
func Default() *Config {
	return &Config{
		DataFile:          DefaultDataFile,
		Backend:           BackendJSON,
		Topic:             DefaultTopic,
		HighValueIndustry: string(models.Technology),
		GrowthWindow:      segments.DefaultGrowthWindow.String(),
		Timezone:          "UTC",
		LogLevel:          "info",
	}
}

// Load reads path over the defaults. A missing file is not an error. envFiles
// are passed to godotenv; when none are given ".env" is tried.
func Load(path string, envFiles ...string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("%w: parse config %s: %w", e.ErrInvalidInput, path, err)
			}
		}
	}

	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load env file: %w", err)
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	overrides := map[string]*string{
		"CRM_DATA_FILE": &c.DataFile,
		"CRM_BACKEND":   &c.Backend,
		"CRM_DB_DSN":    &c.DBDSN,
		"CRM_LOG_LEVEL": &c.LogLevel,
	}
	for key, field := range overrides {
		if v, ok := os.LookupEnv(key); ok {
			*field = strings.TrimSpace(v)
		}
	}
}

func (c *Config) Validate() error {
	switch c.Backend {
	case BackendJSON:
		if strings.TrimSpace(c.DataFile) == "" {
			return fmt.Errorf("%w: DATA_FILE is required for the json backend", e.ErrInvalidInput)
		}
	case BackendSQLite, BackendPostgres:
	default:
		return fmt.Errorf("%w: unknown BACKEND %q", e.ErrInvalidInput, c.Backend)
	}
	if _, err := c.Segments(); err != nil {
		return err
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// Segments converts the segment settings.
func (c *Config) Segments() (segments.Config, error) {
	window, err := time.ParseDuration(c.GrowthWindow)
	if err != nil {
		return segments.Config{}, fmt.Errorf("%w: GROWTH_WINDOW: %w", e.ErrInvalidInput, err)
	}
	if window <= 0 {
		return segments.Config{}, fmt.Errorf("%w: GROWTH_WINDOW must be positive", e.ErrInvalidInput)
	}
	industry, ok := models.ParseIndustry(c.HighValueIndustry)
	if !ok || industry == models.IndustryUnspecified {
		return segments.Config{}, fmt.Errorf("%w: unknown HIGH_VALUE_INDUSTRY %q", e.ErrInvalidInput, c.HighValueIndustry)
	}
	return segments.Config{
		VIPCompanies:      c.VIPCompanies,
		HighValueIndustry: industry,
		GrowthWindow:      window,
	}, nil
}

// Location resolves TIMEZONE; empty means UTC.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("%w: TIMEZONE: %w", e.ErrInvalidInput, err)
	}
	return loc, nil
}

// Database returns the gorm settings for the sqlite and postgres backends.
func (c *Config) Database() *db.Config {
	return &db.Config{
		Driver:   c.Backend,
		DSN:      c.DBDSN,
		Host:     c.DBHost,
		Port:     c.DBPort,
		User:     c.DBUser,
		Password: c.DBPassword,
		DBName:   c.DBName,
		SSLMode:  c.DBSSLMode,
	}
}

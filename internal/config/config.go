// Package config loads runtime configuration from configs/config.yaml and
// the environment. Environment variables override file values (PHI-adjacent
// credentials never live in the file).
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server struct {
		Host    string        `mapstructure:"host"`
		Port    int           `mapstructure:"port"`
		Mode    string        `mapstructure:"mode"`
		Timeout time.Duration `mapstructure:"timeout"`
	} `mapstructure:"server"`

	Database struct {
		Host        string        `mapstructure:"host"`
		Port        int           `mapstructure:"port"`
		User        string        `mapstructure:"user"`
		Password    string        `mapstructure:"password"`
		Name        string        `mapstructure:"name"`
		SSLMode     string        `mapstructure:"sslmode"`
		MaxPoolSize int           `mapstructure:"max_pool_size"`
		ConnTimeout time.Duration `mapstructure:"conn_timeout"`
	} `mapstructure:"database"`

	Mongo struct {
		URI      string `mapstructure:"uri"`
		Database string `mapstructure:"database"`
	} `mapstructure:"mongo"`

	Elasticsearch struct {
		URL      string `mapstructure:"url"`
		Username string `mapstructure:"username"`
		Password string `mapstructure:"password"`
	} `mapstructure:"elasticsearch"`

	CRM struct {
		BaseURL string `mapstructure:"base_url"`
		APIKey  string `mapstructure:"api_key"`
	} `mapstructure:"crm"`

	Data struct {
		// SearchPaths are scanned in order; the first directory containing a
		// matching workbook wins.
		SearchPaths        []string `mapstructure:"search_paths"`
		RosterPatterns     []string `mapstructure:"roster_patterns"`
		EnrollmentPatterns []string `mapstructure:"enrollment_patterns"`
		ColumnAliasFile    string   `mapstructure:"column_alias_file"`

		Roster struct {
			Sheet     string `mapstructure:"sheet"`
			HeaderRow int    `mapstructure:"header_row"`
		} `mapstructure:"roster"`

		Enrollment struct {
			ActiveSheet      string `mapstructure:"active_sheet"`
			RemovedSheet     string `mapstructure:"removed_sheet"`
			ActiveHeaderRow  int    `mapstructure:"active_header_row"`
			RemovedHeaderRow int    `mapstructure:"removed_header_row"`
		} `mapstructure:"enrollment"`
	} `mapstructure:"data"`

	Consent struct {
		TokenTTLDays int    `mapstructure:"token_ttl_days"`
		LinkBaseURL  string `mapstructure:"link_base_url"`
	} `mapstructure:"consent"`

	RateLimit struct {
		RequestsPerSecond float64 `mapstructure:"requests_per_second"`
		Burst             int     `mapstructure:"burst"`
	} `mapstructure:"rate_limit"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath("../configs")
	v.AddConfigPath("/etc/clinic-sync")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// A missing file is fine; env vars and defaults carry it.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.timeout", "30s")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "clinic_sync")
	v.SetDefault("database.name", "clinic_sync")
	v.SetDefault("database.sslmode", "require")
	v.SetDefault("database.max_pool_size", 10)
	v.SetDefault("database.conn_timeout", "5s")

	v.SetDefault("mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("mongo.database", "clinic_sync")

	v.SetDefault("elasticsearch.url", "http://localhost:9200")

	v.SetDefault("data.search_paths", []string{"./data", "./imports"})
	v.SetDefault("data.roster_patterns", []string{"*Roster*.xlsx", "*roster*.xlsx"})
	v.SetDefault("data.enrollment_patterns", []string{"*Enrollment*.xlsx", "*enrollment*.xlsx"})
	v.SetDefault("data.roster.sheet", "Sheet1")
	v.SetDefault("data.roster.header_row", 1)
	v.SetDefault("data.enrollment.active_sheet", "Active")
	v.SetDefault("data.enrollment.removed_sheet", "Removed")
	v.SetDefault("data.enrollment.active_header_row", 1)
	v.SetDefault("data.enrollment.removed_header_row", 1)

	v.SetDefault("consent.token_ttl_days", 30)
	v.SetDefault("consent.link_base_url", "https://consent.example.com/c")

	v.SetDefault("rate_limit.requests_per_second", 20)
	v.SetDefault("rate_limit.burst", 40)
}

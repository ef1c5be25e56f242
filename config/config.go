/*
 * Copyright 2025 tomoncle.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package config loads application settings. ISOLEVEL_* environment
// variables override the optional YAML file, which overrides the defaults.
package config

import (
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"github.com/tomoncle/isolevel"
	"github.com/tomoncle/isolevel/database"
	"gopkg.in/yaml.v3"
)

const envPrefix = "ISOLEVEL"

type Config struct {
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`
	Migrate  MigrateConfig  `mapstructure:"migrate" yaml:"migrate"`
	Seed     SeedConfig     `mapstructure:"seed" yaml:"seed"`
	Log      LogConfig      `mapstructure:"log" yaml:"log"`
	Retry    RetryConfig    `mapstructure:"retry" yaml:"retry"`
}

type DatabaseConfig struct {
	Type            string        `mapstructure:"type" yaml:"type"`
	Host            string        `mapstructure:"host" yaml:"host"`
	Port            int           `mapstructure:"port" yaml:"port"`
	Username        string        `mapstructure:"username" yaml:"username"`
	Password        string        `mapstructure:"password" yaml:"-"`
	Name            string        `mapstructure:"name" yaml:"name"`
	SSLMode         string        `mapstructure:"ssl_mode" yaml:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" yaml:"conn_max_lifetime"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout"`
	LockTimeout     time.Duration `mapstructure:"lock_timeout" yaml:"lock_timeout"`
	SlowQueryTime   time.Duration `mapstructure:"slow_query_time" yaml:"slow_query_time"`
	QueryLog        bool          `mapstructure:"query_log" yaml:"query_log"`
}

type MigrateConfig struct {
	OnStartup bool `mapstructure:"on_startup" yaml:"on_startup"`
}

type SeedConfig struct {
	OnStartup   bool   `mapstructure:"on_startup" yaml:"on_startup"`
	Path        string `mapstructure:"path" yaml:"path"`
	Environment string `mapstructure:"environment" yaml:"environment"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"` // text or json
}

type RetryConfig struct {
	Attempts uint          `mapstructure:"attempts" yaml:"attempts"`
	Delay    time.Duration `mapstructure:"delay" yaml:"delay"`
	MaxDelay time.Duration `mapstructure:"max_delay" yaml:"max_delay"`
}

var _ database.AbstractDatabaseConfigProvider = (*Config)(nil)

// Load reads path when it is not empty, otherwise looks for isolevel.yaml in
// the working directory and ./configs. A missing default file is not an
// error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("isolevel")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	def := database.DefaultConnectionConfig()

	v.SetDefault("database.type", def.Type)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 0)
	v.SetDefault("database.username", "")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", def.DBName)
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", def.MaxOpenConns)
	v.SetDefault("database.max_idle_conns", def.MaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", def.ConnMaxLifetime)
	v.SetDefault("database.connect_timeout", def.ConnectTimeout)
	v.SetDefault("database.lock_timeout", def.LockTimeout)
	v.SetDefault("database.slow_query_time", def.SlowQueryTime)
	v.SetDefault("database.query_log", false)

	v.SetDefault("migrate.on_startup", true)

	v.SetDefault("seed.on_startup", false)
	v.SetDefault("seed.path", database.DefaultSQLRootPath)
	v.SetDefault("seed.environment", "dev")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	retry := isolevel.DefaultRetryPolicy()
	v.SetDefault("retry.attempts", retry.Attempts)
	v.SetDefault("retry.delay", retry.Delay)
	v.SetDefault("retry.max_delay", retry.MaxDelay)
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var errs []error

	if !slices.Contains(database.SupportedTypes, strings.ToLower(c.Database.Type)) {
		errs = append(errs, fmt.Errorf("database.type must be one of %v, got %q", database.SupportedTypes, c.Database.Type))
	}
	if c.Database.Name == "" {
		errs = append(errs, errors.New("database.name is required"))
	}
	if !c.isSQLite() {
		if c.Database.Host == "" {
			errs = append(errs, errors.New("database.host is required"))
		}
		if c.Database.Port <= 0 || c.Database.Port > 65535 {
			errs = append(errs, fmt.Errorf("database.port must be between 1 and 65535, got %d", c.Database.Port))
		}
	}
	if c.Database.LockTimeout < 0 {
		errs = append(errs, errors.New("database.lock_timeout must not be negative"))
	}
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}
	if c.Retry.Attempts == 0 {
		errs = append(errs, errors.New("retry.attempts must be positive"))
	}

	return errors.Join(errs...)
}

func (c *Config) isSQLite() bool {
	t := strings.ToLower(c.Database.Type)
	return t == "sqlite" || t == "sqlite3"
}

// ConfigLoader converts the settings into the database package's form.
func (c *Config) ConfigLoader() *database.Config {
	conn := *database.DefaultConnectionConfig()
	conn.Type = c.Database.Type
	conn.Host = c.Database.Host
	conn.Port = c.Database.Port
	conn.Username = c.Database.Username
	conn.Password = c.Database.Password
	conn.DBName = c.Database.Name
	conn.SSLMode = c.Database.SSLMode
	conn.MaxOpenConns = c.Database.MaxOpenConns
	conn.MaxIdleConns = c.Database.MaxIdleConns
	conn.ConnMaxLifetime = c.Database.ConnMaxLifetime
	conn.ConnectTimeout = c.Database.ConnectTimeout
	conn.LockTimeout = c.Database.LockTimeout
	conn.SlowQueryTime = c.Database.SlowQueryTime
	conn.EnableQueryLog = c.Database.QueryLog

	return &database.Config{
		ConnectionConfig:  conn,
		DataMigrateConfig: database.DataMigrateConfig{EnableMigrateOnStartup: c.Migrate.OnStartup},
		DataInitConfig: database.DataInitConfig{
			AutoInitOnStartup: c.Seed.OnStartup,
			Filepath:          c.Seed.Path,
			Environment:       c.Seed.Environment,
		},
	}
}

// RetryPolicy returns the caller-side retry settings.
func (c *Config) RetryPolicy() isolevel.RetryPolicy {
	return isolevel.RetryPolicy{
		Attempts: c.Retry.Attempts,
		Delay:    c.Retry.Delay,
		MaxDelay: c.Retry.MaxDelay,
	}
}

// Dump writes the effective settings as YAML. The password is omitted.
func (c *Config) Dump(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return err
	}
	return enc.Close()
}

// Package config loads the application configuration. The Config struct is
// built once at process start and passed by reference into each component's
// constructor.
package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// ArgumentSpec describes one dynamic argument of a workflow definition as
// presented to the owner before scheduling.
type ArgumentSpec struct {
	Type        string `mapstructure:"type" json:"type"`
	Label       string `mapstructure:"label" json:"label"`
	Description string `mapstructure:"description" json:"description,omitempty"`
}

// WorkflowDefinition is one runnable pipeline definition known to this
// deployment. Source is opaque to the coordinator and handed through to the
// runner.
type WorkflowDefinition struct {
	Engine    string                  `mapstructure:"engine" json:"engine"`
	Source    string                  `mapstructure:"source" json:"source"`
	Arguments map[string]ArgumentSpec `mapstructure:"arguments" json:"arguments"`
}

// Config holds the configuration for the application.
type Config struct {
	Environment string `mapstructure:"environment"`

	HTTP struct {
		Port int `mapstructure:"port"`
	} `mapstructure:"http"`

	DB struct {
		Host     string `mapstructure:"host"`
		Port     int    `mapstructure:"port"`
		User     string `mapstructure:"user"`
		Password string `mapstructure:"password"`
		Name     string `mapstructure:"name"`
		SSLMode  string `mapstructure:"sslmode"`
	} `mapstructure:"db"`

	Queue struct {
		Addr     string `mapstructure:"addr"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
		Name     string `mapstructure:"name"`
	} `mapstructure:"queue"`

	Auth struct {
		Secret string `mapstructure:"secret"`
		Worker struct {
			Username string `mapstructure:"username"`
			Password string `mapstructure:"password"`
		} `mapstructure:"worker"`
	} `mapstructure:"auth"`

	TLS struct {
		Enable    bool     `mapstructure:"enable"`
		CertFile  string   `mapstructure:"cert_file"`
		KeyFile   string   `mapstructure:"key_file"`
		Hostnames []string `mapstructure:"hostnames"`
	} `mapstructure:"tls"`

	Tracking struct {
		Enabled   bool   `mapstructure:"enabled"`
		URL       string `mapstructure:"url"`
		SiteID    string `mapstructure:"site_id"`
		AuthToken string `mapstructure:"auth_token"`
	} `mapstructure:"tracking"`

	Workflows map[string]WorkflowDefinition `mapstructure:"workflows"`
}

// LoadConfig loads the configuration from a file and the environment.
func LoadConfig(path string) (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	if path != "" {
		viper.SetConfigFile(path)
	}
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AutomaticEnv()

	viper.SetDefault("environment", "dev")
	viper.SetDefault("http.port", 8080)
	viper.SetDefault("db.sslmode", "disable")
	viper.SetDefault("queue.name", "workflow-runs")

	if err := viper.ReadInConfig(); err != nil {
		return nil, err
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// DatabaseDSN builds the Postgres connection string from the DB section.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host, c.DB.Port, c.DB.User, c.DB.Password, c.DB.Name, c.DB.SSLMode,
	)
}

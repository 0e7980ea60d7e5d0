// Package config assembles the immutable run configuration once at startup.
// Every component receives the pieces it needs explicitly; nothing reads the
// environment after Load returns.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration.
type Config struct {
	Mail     MailConfig     `mapstructure:"mail"`
	Database DatabaseConfig `mapstructure:"database"`
	Ingest   IngestConfig   `mapstructure:"ingest"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// MailConfig describes the mailbox the report arrives in and the filters
// that select the report message.
type MailConfig struct {
	Type        string        `mapstructure:"type"` // imap, imaps, pop3, pop3s
	Host        string        `mapstructure:"host"`
	Port        int           `mapstructure:"port"`
	Username    string        `mapstructure:"username"`
	Password    string        `mapstructure:"password"`
	Folder      string        `mapstructure:"folder"`
	Sender      string        `mapstructure:"sender"`
	Subject     string        `mapstructure:"subject"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

// DatabaseConfig describes the destination table.
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"` // postgres, mysql, sqlite3
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Name     string `mapstructure:"name"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	SSLMode  string `mapstructure:"ssl_mode"`
	Schema   string `mapstructure:"schema"`
	Table    string `mapstructure:"table"`
}

// IngestConfig holds local filesystem settings. Attachments are written to
// and archives extracted into the same directory; runs are not isolated from
// each other.
type IngestConfig struct {
	AttachmentDir string `mapstructure:"attachment_dir"`
}

type LoggingConfig struct {
	File string `mapstructure:"file"`
}

// Load builds the configuration from an optional YAML file plus ADMITSYNC_*
// environment variable overrides (ADMITSYNC_MAIL_HOST, ADMITSYNC_DATABASE_NAME,
// and so on). Pass an empty path to use the environment alone.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	setDefaults(v)

	v.SetEnvPrefix("ADMITSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return cfg, nil
}

// Every key needs a default registered so AutomaticEnv can surface it
// through Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("mail.type", "imaps")
	v.SetDefault("mail.host", "")
	v.SetDefault("mail.port", 0)
	v.SetDefault("mail.username", "")
	v.SetDefault("mail.password", "")
	v.SetDefault("mail.folder", "INBOX")
	v.SetDefault("mail.sender", "")
	v.SetDefault("mail.subject", "")
	v.SetDefault("mail.dial_timeout", 10*time.Second)

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "")
	v.SetDefault("database.port", 0)
	v.SetDefault("database.name", "")
	v.SetDefault("database.user", "")
	v.SetDefault("database.password", "")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.schema", "")
	v.SetDefault("database.table", "patient_admissions")

	v.SetDefault("ingest.attachment_dir", "attachments")

	v.SetDefault("logging.file", "admitsync.log")
}

// DSN returns the driver-specific connection string.
func (c *DatabaseConfig) DSN() string {
	switch c.Driver {
	case "mysql":
		host := c.Host
		if host == "" {
			host = "localhost"
		}
		port := c.Port
		if port == 0 {
			port = 3306
		}
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
			c.User, c.Password, host, port, c.Name)
	case "sqlite3":
		return c.Name
	default:
		port := c.Port
		if port == 0 {
			port = 5432
		}
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			c.Host, port, c.User, c.Password, c.Name, c.SSLMode,
		)
	}
}

// QualifiedTable returns the schema-qualified table name when a schema is
// configured.
func (c *DatabaseConfig) QualifiedTable() string {
	if c.Schema != "" {
		return c.Schema + "." + c.Table
	}
	return c.Table
}

// Package config handles loading and validating the application
// configuration from a relay.json file.
//
// The configuration file is expected to be a JSON object with database
// connection details, the HTTP listen address, and the Jetstream
// subscription settings.
package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"time"
)

// Config holds all application configuration loaded from relay.json.
// The file is read once at startup; changes require a restart.
type Config struct {
	// DBConn is the PostgreSQL host:port (e.g., "localhost:5432").
	DBConn string `json:"dbConn"`

	// DBName is the PostgreSQL database name.
	DBName string `json:"dbName"`

	// DBUser is the PostgreSQL username.
	DBUser string `json:"dbUser"`

	// DBPass is the PostgreSQL password.
	DBPass string `json:"dbPass"`

	// ListenAddr is the HTTP listen address (default ":3000").
	ListenAddr string `json:"listenAddr"`

	// JetstreamEndpoint is the Jetstream WebSocket base URL
	// (default "wss://jetstream2.us-east.bsky.network").
	JetstreamEndpoint string `json:"jetstreamEndpoint"`

	// CursorFile is the path of the resume-cursor file
	// (default "cursor.txt").
	CursorFile string `json:"cursorFile"`

	// CheckpointSeconds is the cursor flush interval (default 60).
	CheckpointSeconds int `json:"checkpointSeconds"`
}

// Load reads and parses configuration from the given file path.
// It returns an error if the file cannot be read, parsed, or is missing
// required fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":3000"
	}
	if cfg.JetstreamEndpoint == "" {
		cfg.JetstreamEndpoint = "wss://jetstream2.us-east.bsky.network"
	}
	if cfg.CursorFile == "" {
		cfg.CursorFile = "cursor.txt"
	}
	if cfg.CheckpointSeconds == 0 {
		cfg.CheckpointSeconds = 60
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// validate checks that all required fields are present.
func (c *Config) validate() error {
	switch {
	case c.DBConn == "":
		return fmt.Errorf("config: dbConn is required")
	case c.DBName == "":
		return fmt.Errorf("config: dbName is required")
	case c.DBUser == "":
		return fmt.Errorf("config: dbUser is required")
	case c.DBPass == "":
		return fmt.Errorf("config: dbPass is required")
	}
	return nil
}

// ConnString builds a PostgreSQL connection URI from the config fields.
// The password is URL-encoded to handle special characters safely.
func (c *Config) ConnString() string {
	return fmt.Sprintf("postgres://%s:%s@%s/%s?sslmode=disable",
		url.QueryEscape(c.DBUser),
		url.QueryEscape(c.DBPass),
		c.DBConn,
		url.QueryEscape(c.DBName),
	)
}

// CheckpointInterval returns the cursor flush interval as a Duration.
func (c *Config) CheckpointInterval() time.Duration {
	return time.Duration(c.CheckpointSeconds) * time.Second
}

package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"gopkg.in/yaml.v3"

	"pgted/internal/dblib"
)

// ConnectionFlags are the connection overrides given on the command line.
type ConnectionFlags struct {
	Database string
	Host     string
	Port     string
	Username string
	Password string
}

// DatabaseConfig is one named connection in config.yaml.
type DatabaseConfig struct {
	Type     string `yaml:"type,omitempty"`
	DBName   string `yaml:"dbname"`
	Host     string `yaml:"host,omitempty"`
	Port     string `yaml:"port,omitempty"`
	User     string `yaml:"user,omitempty"`
	Password string `yaml:"password,omitempty"`
	Schema   string `yaml:"schema,omitempty"`
}

// Config holds the named connections.
type Config struct {
	Databases map[string]DatabaseConfig `yaml:"databases"`
}

func getConfigPath() (string, error) {
	configDir, err := getConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "config.yaml"), nil
}

// loadConfig reads config.yaml. A missing file is an empty config.
func loadConfig() (*Config, error) {
	path, err := getConfigPath()
	if err != nil {
		return nil, err
	}
	return loadConfigFile(path)
}

func loadConfigFile(path string) (*Config, error) {
	config := &Config{Databases: map[string]DatabaseConfig{}}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return config, nil
		}
		return nil, fmt.Errorf("could not read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("could not parse config file %s: %w", path, err)
	}
	if config.Databases == nil {
		config.Databases = map[string]DatabaseConfig{}
	}
	return config, nil
}

func (c *Config) GetDatabase(name string) (DatabaseConfig, bool) {
	db, ok := c.Databases[name]
	if ok && db.DBName == "" {
		db.DBName = name
	}
	return db, ok
}

// resolveDatabase picks the named connection, or treats name as a database
// name or sqlite file, and applies the flag overrides on top.
func (c *Config) resolveDatabase(name string, flags ConnectionFlags) DatabaseConfig {
	dbConfig, found := c.GetDatabase(name)
	if !found {
		dbConfig = DatabaseConfig{DBName: name}
	}
	if flags.Database != "" {
		dbConfig.DBName = flags.Database
	}
	if flags.Host != "" {
		dbConfig.Host = flags.Host
	}
	if flags.Port != "" {
		dbConfig.Port = flags.Port
	}
	if flags.Username != "" {
		dbConfig.User = flags.Username
	}
	if flags.Password != "" {
		dbConfig.Password = flags.Password
	}
	return dbConfig
}

func (d DatabaseConfig) detectDatabaseType() (dblib.DatabaseType, error) {
	switch strings.ToLower(d.Type) {
	case "postgres", "postgresql":
		return dblib.PostgreSQL, nil
	case "sqlite", "sqlite3":
		return dblib.SQLite, nil
	case "":
	default:
		return dblib.PostgreSQL, fmt.Errorf("unsupported database type %q", d.Type)
	}
	for _, suffix := range []string{".sqlite", ".sqlite3", ".db"} {
		if strings.HasSuffix(d.DBName, suffix) {
			return dblib.SQLite, nil
		}
	}
	return dblib.PostgreSQL, nil
}

// schema returns the configured schema or the database default.
func (d DatabaseConfig) schema(dbType dblib.DatabaseType) string {
	if d.Schema != "" {
		return d.Schema
	}
	return dbType.DefaultSchema()
}

func (d DatabaseConfig) buildConnectionString() (string, dblib.DatabaseType, error) {
	dbType, err := d.detectDatabaseType()
	if err != nil {
		return "", dbType, err
	}

	switch dbType {
	case dblib.SQLite:
		if _, err := os.Stat(d.DBName); os.IsNotExist(err) {
			return "", dbType, fmt.Errorf("sqlite file does not exist: %s", d.DBName)
		}
		return d.DBName, dbType, nil

	case dblib.PostgreSQL:
		connStr := fmt.Sprintf("dbname=%s", quoteConnValue(d.DBName))

		if d.Host != "" {
			connStr += fmt.Sprintf(" host=%s", quoteConnValue(d.Host))
		}
		if d.Port != "" {
			connStr += fmt.Sprintf(" port=%s", quoteConnValue(d.Port))
		}
		if d.User != "" {
			connStr += fmt.Sprintf(" user=%s", quoteConnValue(d.User))
		} else if currentUser, err := user.Current(); err == nil {
			connStr += fmt.Sprintf(" user=%s", quoteConnValue(currentUser.Username))
		}
		if d.Password != "" {
			connStr += fmt.Sprintf(" password=%s", quoteConnValue(d.Password))
		}
		connStr += " sslmode=disable"

		return connStr, dbType, nil

	default:
		return "", dbType, fmt.Errorf("unsupported database type")
	}
}

// quoteConnValue quotes a libpq keyword/value when it contains spaces or
// quotes.
func quoteConnValue(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

// Connection is an open database handle with its dialect.
type Connection struct {
	DB     *sql.DB
	Type   dblib.DatabaseType
	Schema string
}

func (c *Connection) Close() error {
	return c.DB.Close()
}

func connectToDatabase(ctx context.Context, dbConfig DatabaseConfig) (*Connection, error) {
	connStr, dbType, err := dbConfig.buildConnectionString()
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(dbType.DriverName(), connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	debugLog("connected to %s database %s\n", dbType, dbConfig.DBName)

	return &Connection{DB: db, Type: dbType, Schema: dbConfig.schema(dbType)}, nil
}

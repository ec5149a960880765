package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"pgted/internal/dblib"
)

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	config, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig failed: %v", err)
	}
	if len(config.Databases) != 0 {
		t.Errorf("Expected empty config when the file is missing, got %v", config.Databases)
	}

	if err := os.MkdirAll(filepath.Join(dir, "pgted"), 0o755); err != nil {
		t.Fatal(err)
	}
	yamlConfig := `
databases:
  prod:
    dbname: shop
    host: db.internal
    port: "6432"
    user: app
    schema: sales
  local:
    type: sqlite
    dbname: ./local.db
  bare: {}
`
	if err := os.WriteFile(filepath.Join(dir, "pgted", "config.yaml"), []byte(yamlConfig), 0o644); err != nil {
		t.Fatal(err)
	}
	config, err = loadConfig()
	if err != nil {
		t.Fatalf("loadConfig failed: %v", err)
	}
	prod, ok := config.GetDatabase("prod")
	if !ok || prod.Host != "db.internal" || prod.Port != "6432" || prod.Schema != "sales" {
		t.Errorf("Unexpected prod config %+v", prod)
	}
	if bare, _ := config.GetDatabase("bare"); bare.DBName != "bare" {
		t.Errorf("Expected dbname to default to the entry name, got %q", bare.DBName)
	}

	if err := os.WriteFile(filepath.Join(dir, "pgted", "config.yaml"), []byte("databases: ["), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := loadConfig(); err == nil {
		t.Error("Expected error for invalid yaml")
	}
}

func TestResolveDatabase(t *testing.T) {
	config := &Config{Databases: map[string]DatabaseConfig{
		"prod": {DBName: "shop", Host: "db.internal", User: "app"},
	}}

	got := config.resolveDatabase("prod", ConnectionFlags{Host: "replica", Password: "pw"})
	if got.DBName != "shop" || got.Host != "replica" || got.User != "app" || got.Password != "pw" {
		t.Errorf("Unexpected resolved config %+v", got)
	}

	got = config.resolveDatabase("other", ConnectionFlags{})
	if got.DBName != "other" || got.Host != "" {
		t.Errorf("Expected unnamed database to pass through, got %+v", got)
	}
}

func TestDetectDatabaseType(t *testing.T) {
	tests := []struct {
		config  DatabaseConfig
		want    dblib.DatabaseType
		wantErr bool
	}{
		{DatabaseConfig{DBName: "shop"}, dblib.PostgreSQL, false},
		{DatabaseConfig{DBName: "data.db"}, dblib.SQLite, false},
		{DatabaseConfig{DBName: "data.sqlite3"}, dblib.SQLite, false},
		{DatabaseConfig{DBName: "data.db", Type: "postgres"}, dblib.PostgreSQL, false},
		{DatabaseConfig{DBName: "shop", Type: "SQLite"}, dblib.SQLite, false},
		{DatabaseConfig{DBName: "shop", Type: "mysql"}, dblib.PostgreSQL, true},
	}
	for _, tt := range tests {
		t.Run(tt.config.DBName+"/"+tt.config.Type, func(t *testing.T) {
			got, err := tt.config.detectDatabaseType()
			if (err != nil) != tt.wantErr {
				t.Fatalf("detectDatabaseType error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("detectDatabaseType() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBuildConnectionString(t *testing.T) {
	d := DatabaseConfig{DBName: "shop", Host: "localhost", Port: "5432", User: "app", Password: "it's secret"}
	connStr, dbType, err := d.buildConnectionString()
	if err != nil {
		t.Fatalf("buildConnectionString failed: %v", err)
	}
	if dbType != dblib.PostgreSQL {
		t.Errorf("Expected postgres, got %v", dbType)
	}
	want := `dbname=shop host=localhost port=5432 user=app password='it\'s secret' sslmode=disable`
	if connStr != want {
		t.Errorf("got  %s\nwant %s", connStr, want)
	}

	if _, _, err := (DatabaseConfig{DBName: "/nonexistent/x.db"}).buildConnectionString(); err == nil {
		t.Error("Expected error for missing sqlite file")
	}
}

func TestConnectToDatabase_SQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	conn, err := connectToDatabase(context.Background(), DatabaseConfig{DBName: path})
	if err != nil {
		t.Fatalf("connectToDatabase failed: %v", err)
	}
	defer conn.Close()
	if conn.Type != dblib.SQLite || conn.Schema != "main" {
		t.Errorf("Unexpected connection %+v", conn)
	}
}

func TestSettings_Defaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	s, err := LoadSettings()
	if err != nil {
		t.Fatalf("LoadSettings failed: %v", err)
	}
	if s.TelemetryEnabled || s.LockTimeoutMS != 5000 {
		t.Errorf("Unexpected defaults %+v", s)
	}

	s.TelemetryEnabled = true
	s.StatementTimeoutMS = 30000
	if err := SaveSettings(s); err != nil {
		t.Fatalf("SaveSettings failed: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "pgted", "settings.json"))
	if err != nil || !strings.Contains(string(data), `"statement_timeout_ms": 30000`) {
		t.Errorf("Unexpected settings file %s (%v)", data, err)
	}

	// fields missing from the file keep their defaults
	if err := os.WriteFile(filepath.Join(dir, "pgted", "settings.json"), []byte(`{"telemetry_enabled": true}`), 0o644); err != nil {
		t.Fatal(err)
	}
	s, err = LoadSettings()
	if err != nil {
		t.Fatalf("LoadSettings failed: %v", err)
	}
	if !s.TelemetryEnabled || s.LockTimeoutMS != 5000 {
		t.Errorf("Unexpected merged settings %+v", s)
	}
}

func TestTimeoutOr(t *testing.T) {
	if got := timeoutOr(-1, 5000); got != 5000 {
		t.Errorf("Expected setting, got %d", got)
	}
	if got := timeoutOr(0, 5000); got != 0 {
		t.Errorf("Expected explicit zero to win, got %d", got)
	}
}

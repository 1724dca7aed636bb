package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Server.Port != 8086 {
		t.Errorf("Server.Port = %d, want 8086", cfg.Server.Port)
	}
	if cfg.GRPC.Port != 9086 {
		t.Errorf("GRPC.Port = %d, want 9086", cfg.GRPC.Port)
	}
	if cfg.Commission.OfficeFraction != "0.5" {
		t.Errorf("Commission.OfficeFraction = %q, want 0.5", cfg.Commission.OfficeFraction)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() on defaults: %v", err)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("HTTP_PORT", "18086")
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("COMMISSION_OFFICE_FRACTION", "0.4")
	t.Setenv("SHUTDOWN_TIMEOUT", "5s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Server.Port != 18086 {
		t.Errorf("Server.Port = %d, want 18086", cfg.Server.Port)
	}
	if cfg.Database.Host != "db.internal" {
		t.Errorf("Database.Host = %q, want db.internal", cfg.Database.Host)
	}
	if cfg.Server.ShutdownTimeout != 5*time.Second {
		t.Errorf("ShutdownTimeout = %v, want 5s", cfg.Server.ShutdownTimeout)
	}
	fraction, err := cfg.OfficeFraction()
	if err != nil {
		t.Fatal(err)
	}
	if fraction.String() != "0.4" {
		t.Errorf("OfficeFraction() = %s, want 0.4", fraction)
	}
}

func TestLoad_YAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := []byte(`
service:
  name: commissions-test
database:
  host: yaml-db
  port: 6543
commission:
  office_fraction: "0.6"
`)
	if err := os.WriteFile(path, body, 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("DB_HOST", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Service.Name != "commissions-test" {
		t.Errorf("Service.Name = %q", cfg.Service.Name)
	}
	if cfg.Database.Host != "yaml-db" || cfg.Database.Port != 6543 {
		t.Errorf("Database = %s:%d, want yaml-db:6543", cfg.Database.Host, cfg.Database.Port)
	}
	if cfg.Commission.OfficeFraction != "0.6" {
		t.Errorf("OfficeFraction = %q, want 0.6", cfg.Commission.OfficeFraction)
	}
}

func TestValidate_OfficeFraction(t *testing.T) {
	tests := []struct {
		fraction string
		wantErr  bool
	}{
		{"0.5", false},
		{"0.01", false},
		{"0", true},
		{"1", true},
		{"1.5", true},
		{"-0.2", true},
		{"half", true},
	}

	for _, tt := range tests {
		t.Run(tt.fraction, func(t *testing.T) {
			cfg := Default()
			cfg.Commission.OfficeFraction = tt.fraction
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDatabaseConfig_DSN(t *testing.T) {
	d := DatabaseConfig{User: "u", Password: "p", Host: "h", Port: 5432, Database: "db", SSLMode: "disable"}
	want := "postgres://u:p@h:5432/db?sslmode=disable"
	if got := d.DSN(); got != want {
		t.Errorf("DSN() = %q, want %q", got, want)
	}
}

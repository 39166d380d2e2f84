package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DB_DRIVER", "")
	t.Setenv("COMPANION_RETENTION", "")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Database.Driver != DriverPostgres {
		t.Errorf("driver = %q", cfg.Database.Driver)
	}
	if cfg.Companion.Retention != 24*time.Hour {
		t.Errorf("retention = %v", cfg.Companion.Retention)
	}
	if cfg.Mirror.SubscriberBuffer != 64 {
		t.Errorf("subscriber buffer = %d", cfg.Mirror.SubscriberBuffer)
	}
}

func TestLoadEnvFile(t *testing.T) {
	for _, k := range []string{"DB_DRIVER", "DB_SQLITE_PATH", "JWT_SECRET", "CORS_ALLOWED_ORIGINS", "REPAIR_INTERVAL"} {
		if _, ok := os.LookupEnv(k); ok {
			t.Skipf("%s set in the environment", k)
		}
	}
	env := filepath.Join(t.TempDir(), ".env")
	content := strings.Join([]string{
		"DB_DRIVER=SQLite",
		"DB_SQLITE_PATH=/tmp/gosafe.db",
		"JWT_SECRET=s3cret",
		"CORS_ALLOWED_ORIGINS=https://a.example, https://b.example",
		"REPAIR_INTERVAL=45s",
	}, "\n")
	if err := os.WriteFile(env, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		for _, k := range []string{"DB_DRIVER", "DB_SQLITE_PATH", "JWT_SECRET", "CORS_ALLOWED_ORIGINS", "REPAIR_INTERVAL"} {
			os.Unsetenv(k)
		}
	})

	cfg, err := Load(env)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.Database.Driver != DriverSQLite || cfg.Database.SQLitePath != "/tmp/gosafe.db" {
		t.Errorf("database = %+v", cfg.Database)
	}
	want := []string{"https://a.example", "https://b.example"}
	if !reflect.DeepEqual(cfg.CORS.AllowedOrigins, want) {
		t.Errorf("origins = %v, want %v", cfg.CORS.AllowedOrigins, want)
	}
	if cfg.Repair.Interval != 45*time.Second {
		t.Errorf("repair interval = %v", cfg.Repair.Interval)
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Database:  DatabaseConfig{Driver: DriverPostgres, Password: "pw"},
			Mirror:    MirrorConfig{Path: "mirror.db"},
			JWT:       JWTConfig{Secret: "s"},
			Companion: CompanionConfig{Retention: time.Hour},
		}
	}
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"postgres without password", func(c *Config) { c.Database.Password = "" }, "DB_PASSWORD"},
		{"sqlite without path", func(c *Config) { c.Database.Driver = DriverSQLite }, "DB_SQLITE_PATH"},
		{"unknown driver", func(c *Config) { c.Database.Driver = "mysql" }, "DB_DRIVER"},
		{"no secret", func(c *Config) { c.JWT.Secret = "" }, "JWT_SECRET"},
		{"no retention", func(c *Config) { c.Companion.Retention = 0 }, "COMPANION_RETENTION"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("err = %v, want mention of %s", err, tt.wantErr)
			}
		})
	}
}

func TestGetDSN(t *testing.T) {
	c := &Config{Database: DatabaseConfig{
		User: "u", Password: "p", Host: "db", Port: "5432", Name: "gosafe", SSLMode: "require", ConnTimeout: 10 * time.Second,
	}}
	want := "postgres://u:p@db:5432/gosafe?sslmode=require&connect_timeout=10"
	if got := c.GetDSN(); got != want {
		t.Errorf("GetDSN = %q, want %q", got, want)
	}
}

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// writeConfigFile writes a temporary YAML config and returns its path.
func writeConfigFile(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

const validConfig = `
fleet:
  id: fleet-test
  namespace: acme

database:
  path: ./data/test.db

mqtt:
  broker:
    host: broker.local
    port: 1883
  qos: 1

security:
  jwt:
    secret: "0123456789abcdef0123456789abcdef"
`

func TestLoad(t *testing.T) {
	t.Run("loads valid config", func(t *testing.T) {
		path := writeConfigFile(t, validConfig)

		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}

		if cfg.Fleet.Namespace != "acme" {
			t.Errorf("Fleet.Namespace = %q, want %q", cfg.Fleet.Namespace, "acme")
		}
		if cfg.MQTT.Broker.Host != "broker.local" {
			t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "broker.local")
		}
	})

	t.Run("applies defaults for omitted sections", func(t *testing.T) {
		path := writeConfigFile(t, validConfig)

		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}

		if cfg.API.Port != 8080 {
			t.Errorf("API.Port = %d, want default 8080", cfg.API.Port)
		}
		if cfg.Telemetry.LockShards != 64 {
			t.Errorf("Telemetry.LockShards = %d, want default 64", cfg.Telemetry.LockShards)
		}
		if cfg.MessageTimeout() != 5*time.Second {
			t.Errorf("MessageTimeout() = %v, want 5s", cfg.MessageTimeout())
		}
	})

	t.Run("fails for missing file", func(t *testing.T) {
		_, err := Load("/nonexistent/config.yaml")
		if err == nil {
			t.Fatal("Load() should fail for missing file")
		}
	})

	t.Run("fails for malformed YAML", func(t *testing.T) {
		path := writeConfigFile(t, "fleet: [unclosed")
		_, err := Load(path)
		if err == nil {
			t.Fatal("Load() should fail for malformed YAML")
		}
	})
}

func TestEnvOverrides(t *testing.T) {
	path := writeConfigFile(t, validConfig)

	t.Setenv("FLEETCORE_MQTT_HOST", "override.local")
	t.Setenv("FLEETCORE_FLEET_NAMESPACE", "override-ns")
	t.Setenv("FLEETCORE_JWT_SECRET", strings.Repeat("s", 48))

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.MQTT.Broker.Host != "override.local" {
		t.Errorf("MQTT.Broker.Host = %q, want env override", cfg.MQTT.Broker.Host)
	}
	if cfg.Fleet.Namespace != "override-ns" {
		t.Errorf("Fleet.Namespace = %q, want env override", cfg.Fleet.Namespace)
	}
	if cfg.Security.JWT.Secret != strings.Repeat("s", 48) {
		t.Error("Security.JWT.Secret not overridden from environment")
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg := defaultConfig()
		cfg.Security.JWT.Secret = strings.Repeat("x", 32)
		return cfg
	}

	t.Run("accepts valid defaults", func(t *testing.T) {
		if err := base().Validate(); err != nil {
			t.Errorf("Validate() error = %v", err)
		}
	})

	t.Run("rejects empty namespace", func(t *testing.T) {
		cfg := base()
		cfg.Fleet.Namespace = ""
		if err := cfg.Validate(); err == nil {
			t.Error("Validate() should reject empty namespace")
		}
	})

	t.Run("rejects namespace with topic separators", func(t *testing.T) {
		cfg := base()
		cfg.Fleet.Namespace = "acme/fleet"
		if err := cfg.Validate(); err == nil {
			t.Error("Validate() should reject namespace containing '/'")
		}
	})

	t.Run("rejects invalid qos", func(t *testing.T) {
		cfg := base()
		cfg.MQTT.QoS = 3
		if err := cfg.Validate(); err == nil {
			t.Error("Validate() should reject qos 3")
		}
	})

	t.Run("rejects missing jwt secret", func(t *testing.T) {
		cfg := base()
		cfg.Security.JWT.Secret = ""
		if err := cfg.Validate(); err == nil {
			t.Error("Validate() should reject empty jwt secret")
		}
	})

	t.Run("rejects short jwt secret", func(t *testing.T) {
		cfg := base()
		cfg.Security.JWT.Secret = "short"
		if err := cfg.Validate(); err == nil {
			t.Error("Validate() should reject short jwt secret")
		}
	})

	t.Run("rejects zero lock shards", func(t *testing.T) {
		cfg := base()
		cfg.Telemetry.LockShards = 0
		if err := cfg.Validate(); err == nil {
			t.Error("Validate() should reject zero lock shards")
		}
	})
}

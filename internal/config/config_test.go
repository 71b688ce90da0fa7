package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	tests := []struct {
		name  string
		check func(*Config) bool
	}{
		{"default mode is serve", func(c *Config) bool { return c.Mode == "serve" }},
		{"default host is 0.0.0.0", func(c *Config) bool { return c.Host == "0.0.0.0" }},
		{"default port is 8080", func(c *Config) bool { return c.Port == 8080 }},
		{"default log level is info", func(c *Config) bool { return c.LogLevel == "info" }},
		{"default log format is json", func(c *Config) bool { return c.LogFormat == "json" }},
		{"default sync batch size is 5", func(c *Config) bool { return c.SyncBatchSize == 5 }},
		{"default replication slot name", func(c *Config) bool { return c.ReplicationSlotName == "events_slot" }},
		{"default replication tables include accounts", func(c *Config) bool {
			for _, t := range c.ReplicationTables {
				if t == "accounts" {
					return true
				}
			}
			return false
		}},
		{"listen addr format", func(c *Config) bool { return c.ListenAddr() == "0.0.0.0:8080" }},
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !tt.check(cfg) {
				t.Errorf("unexpected config value for %s", tt.name)
			}
		})
	}
}

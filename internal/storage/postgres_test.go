package storage

import "testing"

func TestPostgresConfigDefaults(t *testing.T) {
	cfg := PostgresConfig{DSN: "postgres://localhost:5432/flowsense"}.withDefaults()

	if cfg.MaxOpenConns != 10 {
		t.Errorf("expected MaxOpenConns=10, got %d", cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns != 5 {
		t.Errorf("expected MaxIdleConns=5, got %d", cfg.MaxIdleConns)
	}
	if cfg.RetryAttempts != 5 {
		t.Errorf("expected RetryAttempts=5, got %d", cfg.RetryAttempts)
	}
}

func TestPostgresConfigDefaultsPreservesExplicitValues(t *testing.T) {
	cfg := PostgresConfig{DSN: "x", MaxOpenConns: 50, RetryAttempts: 1}.withDefaults()

	if cfg.MaxOpenConns != 50 {
		t.Errorf("expected explicit MaxOpenConns=50 to survive, got %d", cfg.MaxOpenConns)
	}
	if cfg.RetryAttempts != 1 {
		t.Errorf("expected explicit RetryAttempts=1 to survive, got %d", cfg.RetryAttempts)
	}
	if cfg.MaxIdleConns != 5 {
		t.Errorf("expected unset MaxIdleConns to still default to 5, got %d", cfg.MaxIdleConns)
	}
}

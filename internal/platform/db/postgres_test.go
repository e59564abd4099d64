package db

import (
	"testing"
	"time"
)

func TestOptionsNormalizedFillsDefaults(t *testing.T) {
	got := Options{}.normalized()
	if got.MaxOpenConns != defaultMaxOpenConns ||
		got.MaxIdleConns != defaultMaxIdleConns ||
		got.ConnMaxLifetime != defaultConnMaxLifetime {
		t.Fatalf("unexpected defaults: %+v", got)
	}
}

func TestOptionsNormalizedCapsIdleAtOpen(t *testing.T) {
	got := Options{MaxOpenConns: 3, MaxIdleConns: 8, ConnMaxLifetime: time.Hour}.normalized()
	if got.MaxIdleConns != 3 {
		t.Fatalf("idle connections must not exceed open connections, got %d", got.MaxIdleConns)
	}
	if got.MaxOpenConns != 3 || got.ConnMaxLifetime != time.Hour {
		t.Fatalf("explicit values must be preserved, got %+v", got)
	}
}

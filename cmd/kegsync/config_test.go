package main

import (
	"testing"
	"time"

	"github.com/xraph/kegsync"
)

func TestParseFlags(t *testing.T) {
	t.Setenv("KEGSYNC_ENDPOINT", "http://cloud.test/api/batches")
	t.Setenv("KEGSYNC_CONCURRENCY", "8")

	cfg, err := parseFlags([]string{"-mac-id", "AA", "-duplicates", "block", "-retry-interval", "5s"})
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	if cfg.delivery.Endpoint != "http://cloud.test/api/batches" || cfg.delivery.MacID != "AA" {
		t.Errorf("delivery = %+v", cfg.delivery)
	}
	if cfg.station.Concurrency != 8 {
		t.Errorf("Concurrency = %d, want 8 from env", cfg.station.Concurrency)
	}
	if cfg.station.DuplicatePolicy != kegsync.DuplicateBlock {
		t.Errorf("DuplicatePolicy = %q", cfg.station.DuplicatePolicy)
	}
	if cfg.station.RetryInterval != 5*time.Second {
		t.Errorf("RetryInterval = %v", cfg.station.RetryInterval)
	}
}

func TestParseFlagsErrors(t *testing.T) {
	tests := []struct {
		name     string
		endpoint string
		args     []string
	}{
		{"missing endpoint", "", nil},
		{"bad policy", "http://cloud.test", []string{"-duplicates", "maybe"}},
		{"unknown flag", "http://cloud.test", []string{"-nope"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("KEGSYNC_ENDPOINT", tt.endpoint)
			if _, err := parseFlags(tt.args); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

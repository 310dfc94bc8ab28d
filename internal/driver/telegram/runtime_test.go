package telegram

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

func TestParseRuntimeConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		raw     string
		check   func(*testing.T, parsedRuntimeConfig)
		wantErr bool
	}{
		{
			name: "bot token with defaults",
			raw:  `{"app_id": 1, "app_hash": " hash ", "bot_token": "123:abc"}`,
			check: func(t *testing.T, cfg parsedRuntimeConfig) {
				if cfg.appHash != "hash" {
					t.Fatalf("app hash = %q, want hash", cfg.appHash)
				}
				if cfg.publishTimeout != defaultRuntimePublishDelay {
					t.Fatalf("publish timeout = %v, want %v", cfg.publishTimeout, defaultRuntimePublishDelay)
				}
				if cfg.updateBuffer != defaultRuntimeUpdateBuffer {
					t.Fatalf("update buffer = %d, want %d", cfg.updateBuffer, defaultRuntimeUpdateBuffer)
				}
				if cfg.sessionFile != defaultRuntimeSessionFile {
					t.Fatalf("session file = %q, want %q", cfg.sessionFile, defaultRuntimeSessionFile)
				}
				if cfg.snapshotTTL != defaultSnapshotTTL {
					t.Fatalf("snapshot ttl = %v, want %v", cfg.snapshotTTL, defaultSnapshotTTL)
				}
				if cfg.rateLimit != defaultOutboundRate || cfg.rateBurst != defaultOutboundBurst {
					t.Fatalf("rate = %v/%d, want defaults", cfg.rateLimit, cfg.rateBurst)
				}
			},
		},
		{
			name: "overrides",
			raw: `{"app_id": 1, "app_hash": "h", "phone": "+100", "publish_timeout": "5s",
				"auth_timeout": "1m", "snapshot_ttl": "12h", "snapshot_max_entries": 50,
				"rate_limit": 2.5, "rate_burst": 3, "update_buffer": 16}`,
			check: func(t *testing.T, cfg parsedRuntimeConfig) {
				if cfg.publishTimeout != 5*time.Second || cfg.authTimeout != time.Minute || cfg.snapshotTTL != 12*time.Hour {
					t.Fatalf("durations = %v/%v/%v, want 5s/1m/12h", cfg.publishTimeout, cfg.authTimeout, cfg.snapshotTTL)
				}
				if cfg.snapshotMaxEntries != 50 || cfg.updateBuffer != 16 {
					t.Fatalf("sizes = %d/%d, want 50/16", cfg.snapshotMaxEntries, cfg.updateBuffer)
				}
				if cfg.rateLimit != rate.Limit(2.5) || cfg.rateBurst != 3 {
					t.Fatalf("rate = %v/%d, want 2.5/3", cfg.rateLimit, cfg.rateBurst)
				}
			},
		},
		{name: "empty", raw: ``, wantErr: true},
		{name: "malformed", raw: `{`, wantErr: true},
		{name: "missing app id", raw: `{"app_hash": "h", "bot_token": "t"}`, wantErr: true},
		{name: "missing app hash", raw: `{"app_id": 1, "bot_token": "t"}`, wantErr: true},
		{name: "missing credentials", raw: `{"app_id": 1, "app_hash": "h"}`, wantErr: true},
		{name: "bad duration", raw: `{"app_id": 1, "app_hash": "h", "bot_token": "t", "snapshot_ttl": "soon"}`, wantErr: true},
		{name: "non positive duration", raw: `{"app_id": 1, "app_hash": "h", "bot_token": "t", "publish_timeout": "0s"}`, wantErr: true},
		{name: "negative rate", raw: `{"app_id": 1, "app_hash": "h", "bot_token": "t", "rate_limit": -1}`, wantErr: true},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			cfg, err := parseRuntimeConfig([]byte(testCase.raw))
			if testCase.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("parse failed: %v", err)
			}
			testCase.check(t, cfg)
		})
	}
}

func TestNewGotdSessionStorageCreatesDirectory(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "session.json")
	storage, err := newGotdSessionStorage(path)
	if err != nil {
		t.Fatalf("new session storage failed: %v", err)
	}
	if storage.Path != path {
		t.Fatalf("path = %q, want %q", storage.Path, path)
	}
	info, err := os.Stat(filepath.Dir(path))
	if err != nil {
		t.Fatalf("stat session dir failed: %v", err)
	}
	if !info.IsDir() {
		t.Fatal("session dir is not a directory")
	}

	if _, err := newGotdSessionStorage("  "); err == nil {
		t.Fatal("expected empty path error")
	}
}

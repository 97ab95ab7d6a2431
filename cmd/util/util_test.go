package util

import (
	"strings"
	"testing"
	"time"

	"github.com/ValentinKolb/dHammer/lib/common"
	"github.com/spf13/viper"
)

func TestWrapString(t *testing.T) {
	tests := []struct {
		name  string
		input string
		lines int
	}{
		{"empty", "", 0},
		{"short", "one line only", 1},
		{"long", strings.Repeat("word ", 30), 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := WrapString(tt.input)
			var lines []string
			if out != "" {
				lines = strings.Split(out, "\n")
			}
			if len(lines) != tt.lines {
				t.Errorf("Expected %d lines, got %d: %q", tt.lines, len(lines), out)
			}
			for _, l := range lines {
				if len(l) > Wrap {
					t.Errorf("Expected lines of at most %d characters, got %d", Wrap, len(l))
				}
			}
		})
	}
}

func TestGetHarnessConfigFromEnv(t *testing.T) {
	viper.Reset()
	defer viper.Reset()

	t.Setenv("DHAMMER_WORKERS", "7")
	t.Setenv("DHAMMER_DELETE_INTERVAL", "250ms")
	t.Setenv("DHAMMER_STORAGE", "SQLite")
	t.Setenv("DHAMMER_CHAOS_FAIL_RATE", "0.25")
	InitConfig()

	cfg := GetHarnessConfig()
	if cfg.Workers != 7 {
		t.Errorf("Expected 7 workers, got %d", cfg.Workers)
	}
	if cfg.DeleteInterval != 250*time.Millisecond {
		t.Errorf("Expected a delete interval of 250ms, got %s", cfg.DeleteInterval)
	}
	if cfg.Storage != common.BackendSQLite {
		t.Errorf("Expected the sqlite backend, got %s", cfg.Storage)
	}
	if cfg.Chaos.FailRate != 0.25 {
		t.Errorf("Expected a fail rate of 0.25, got %v", cfg.Chaos.FailRate)
	}
}

func TestGetBackend(t *testing.T) {
	tests := []struct {
		storage common.StorageBackend
		chaos   common.ChaosConfig
		name    string
		wantErr bool
	}{
		{common.BackendMemory, common.ChaosConfig{}, "memory", false},
		{common.BackendSQLite, common.ChaosConfig{}, "sqlite", false},
		{common.BackendRaft, common.ChaosConfig{}, "raft", false},
		{common.BackendMemory, common.ChaosConfig{FailRate: 0.1}, "memory+chaos", false},
		{"mongo", common.ChaosConfig{}, "", true},
	}

	for _, tt := range tests {
		t.Run(string(tt.storage)+"/"+tt.name, func(t *testing.T) {
			cfg := common.DefaultHarnessConfig()
			cfg.Storage = tt.storage
			cfg.Chaos = tt.chaos
			cfg.Location = t.TempDir()

			b, err := GetBackend(cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Expected error=%v, got %v", tt.wantErr, err)
			}
			if err != nil {
				return
			}
			if b.Name != tt.name {
				t.Errorf("Expected backend %s, got %s", tt.name, b.Name)
			}
			if b.Open == nil || b.Clear == nil {
				t.Error("Expected Open and Clear to be set")
			}
		})
	}
}

package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Storage.Driver != DriverSQLite || cfg.Saves.KeepCount != 3 || cfg.App.LogLevel != "info" {
		t.Fatalf("cfg=%+v", cfg)
	}
	if !filepath.IsAbs(cfg.Storage.DBPath) || !filepath.IsAbs(cfg.Storage.BadgerDir) {
		t.Fatalf("paths not resolved: %+v", cfg.Storage)
	}
}

func TestWriteFileThenLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config", "config.yaml")
	in := &Config{
		App:     AppConfig{Name: "vault", Version: "1.2.3", LogLevel: "debug"},
		Storage: StorageConfig{Driver: DriverBadger, DBPath: "/tmp/x.db", BadgerDir: "/tmp/badger", SyncWrites: false, GCIntervalSec: 30},
		Saves:   SavesConfig{KeepCount: 5},
	}
	if err := WriteFile(path, in); err != nil {
		t.Fatalf("WriteFile error: %v", err)
	}

	out, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if *out != *in {
		t.Fatalf("round trip mismatch\n got=%+v\nwant=%+v", *out, *in)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("storage:\n  driver: sqlite\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("SAVEVAULT_SAVES_KEEP_COUNT", "7")
	t.Setenv("SAVEVAULT_STORAGE_DRIVER", "BADGER")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Saves.KeepCount != 7 || cfg.Storage.Driver != DriverBadger {
		t.Fatalf("cfg=%+v", cfg)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"driver":     "storage:\n  driver: postgres\n",
		"keep count": "saves:\n  keep_count: 0\n",
		"log level":  "app:\n  log_level: loud\n",
	}
	for name, body := range cases {
		path := filepath.Join(t.TempDir(), "config.yaml")
		if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
			t.Fatalf("write: %v", err)
		}
		_, err := Load(path)
		if err == nil || !strings.Contains(err.Error(), "配置校验失败") {
			t.Fatalf("%s: err=%v", name, err)
		}
	}
}

func TestParseLevel(t *testing.T) {
	if ParseLevel("DEBUG") != slog.LevelDebug || ParseLevel("warn") != slog.LevelWarn || ParseLevel("???") != slog.LevelInfo {
		t.Fatalf("unexpected level mapping")
	}
}

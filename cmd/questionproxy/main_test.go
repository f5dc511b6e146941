package main

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/hyperifyio/questionproxy/internal/app"
)

// Precedence: defaults < config file < dotenv/env < explicit flags.
func TestResolveConfig_Precedence(t *testing.T) {
	for _, k := range []string{"LISTEN_ADDR", "DB_PATH", "DB_MAX_ROWS", "RECENT_SIZE", "MAX_CONNS", "LLM_BASE_URL", "LLM_MODEL", "LLM_API_KEY", "OPENAI_API_KEY", "LLM_TIMEOUT", "LLM_REQUIRE_KEY", "DB_STRICT_PERMS", "VERBOSE"} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "questionproxy.yaml")
	if err := os.WriteFile(cfgPath, []byte("listen: \":7000\"\ndb:\n  maxRows: 10\nllm:\n  model: from-file\n  timeout: 20s\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	envPath := filepath.Join(dir, ".env")
	if err := os.WriteFile(envPath, []byte("OPENAI_API_KEY=sk-dotenv\nLLM_MODEL=from-env\n"), 0o600); err != nil {
		t.Fatalf("write env: %v", err)
	}

	flagCfg := app.DefaultConfig()
	flagCfg.MaxRows = 7
	flagCfg.ListenAddr = ":9999" // not marked explicit, must not apply
	cfg, err := resolveConfig(cfgPath, []string{envPath}, flagCfg, map[string]bool{"db.maxRows": true})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if cfg.ListenAddr != ":7000" {
		t.Fatalf("ListenAddr=%q, want file value", cfg.ListenAddr)
	}
	if cfg.LLMModel != "from-env" {
		t.Fatalf("LLMModel=%q, want env over file", cfg.LLMModel)
	}
	if cfg.LLMAPIKey != "sk-dotenv" {
		t.Fatalf("LLMAPIKey=%q, want dotenv value", cfg.LLMAPIKey)
	}
	if cfg.MaxRows != 7 {
		t.Fatalf("MaxRows=%d, want explicit flag", cfg.MaxRows)
	}
	if cfg.LLMTimeout != 20*time.Second {
		t.Fatalf("LLMTimeout=%v, want file value", cfg.LLMTimeout)
	}
}

func TestResolveConfig_InvalidFails(t *testing.T) {
	flagCfg := app.DefaultConfig()
	flagCfg.MaxRows = 0
	if _, err := resolveConfig("", nil, flagCfg, map[string]bool{"db.maxRows": true}); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestSplitList(t *testing.T) {
	if got, want := splitList(" .env, ,.env.local "), []string{".env", ".env.local"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("splitList=%v, want %v", got, want)
	}
}

package app

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// ApplyEnvOverrides overrides cfg fields with environment variables that are
// set. Env sits above the config file and below explicit flags.
func ApplyEnvOverrides(cfg *Config) {
	if cfg == nil {
		return
	}

	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	setInt(&cfg.MaxRows, "DB_MAX_ROWS")
	setInt(&cfg.RecentSize, "RECENT_SIZE")
	setInt(&cfg.MaxConns, "MAX_CONNS")

	if v := os.Getenv("LLM_BASE_URL"); v != "" {
		cfg.LLMBaseURL = v
	}
	if v := os.Getenv("LLM_MODEL"); v != "" {
		cfg.LLMModel = v
	}
	// OPENAI_API_KEY is what the original deployment's .env files carry.
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.LLMAPIKey = v
	}
	if v := os.Getenv("LLM_API_KEY"); v != "" {
		cfg.LLMAPIKey = v
	}
	if s := os.Getenv("LLM_TIMEOUT"); s != "" {
		if d, err := time.ParseDuration(s); err == nil {
			cfg.LLMTimeout = d
		}
	}

	setBool(&cfg.DBStrictPerms, "DB_STRICT_PERMS")
	setBool(&cfg.RequireAPIKey, "LLM_REQUIRE_KEY")
	setBool(&cfg.Verbose, "VERBOSE")
}

func setInt(dst *int, envKey string) {
	if s := strings.TrimSpace(os.Getenv(envKey)); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, envKey string) {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(envKey))) {
	case "1", "true", "yes", "on":
		*dst = true
	case "0", "false", "no", "off":
		*dst = false
	}
}

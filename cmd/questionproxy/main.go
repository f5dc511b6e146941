package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/hyperifyio/questionproxy/internal/app"
)

func main() {
	// Logging setup
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	var (
		configPath  string
		envFiles    string
		showVersion bool
		flagCfg     = app.DefaultConfig()
	)

	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	fs.StringVar(&configPath, "config", os.Getenv("QUESTIONPROXY_CONFIG"), "Path to YAML or JSON config file (optional)")
	fs.StringVar(&envFiles, "env", ".env", "Comma-separated dotenv files to load before reading the environment")
	fs.BoolVar(&showVersion, "version", false, "Print version and exit")
	fs.StringVar(&flagCfg.ListenAddr, "listen", flagCfg.ListenAddr, "HTTP listen address")
	fs.IntVar(&flagCfg.MaxConns, "server.maxConns", flagCfg.MaxConns, "Maximum concurrent connections (0 = unlimited)")
	fs.StringVar(&flagCfg.DBPath, "db.path", flagCfg.DBPath, "SQLite file holding cached responses")
	fs.BoolVar(&flagCfg.DBStrictPerms, "db.strictPerms", flagCfg.DBStrictPerms, "Restrict database permissions (0700 dir, 0600 file)")
	fs.IntVar(&flagCfg.MaxRows, "db.maxRows", flagCfg.MaxRows, "Number of most recent responses to retain")
	fs.IntVar(&flagCfg.RecentSize, "recent.size", flagCfg.RecentSize, "Number of recently served cached responses never repeated in offline mode")
	fs.StringVar(&flagCfg.LLMBaseURL, "llm.base", flagCfg.LLMBaseURL, "OpenAI-compatible base URL (default api.openai.com)")
	fs.StringVar(&flagCfg.LLMModel, "llm.model", flagCfg.LLMModel, "Chat completion model")
	fs.StringVar(&flagCfg.LLMAPIKey, "llm.key", flagCfg.LLMAPIKey, "API key (prefer OPENAI_API_KEY or LLM_API_KEY)")
	fs.DurationVar(&flagCfg.LLMTimeout, "llm.timeout", flagCfg.LLMTimeout, "Timeout for a single completion call")
	fs.BoolVar(&flagCfg.RequireAPIKey, "llm.requireKey", flagCfg.RequireAPIKey, "Fail at startup when no API key is configured")
	fs.BoolVar(&flagCfg.Verbose, "v", flagCfg.Verbose, "Verbose logging")
	_ = fs.Parse(os.Args[1:])

	if showVersion {
		fmt.Println(app.VersionString())
		return
	}

	explicit := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	cfg, err := resolveConfig(configPath, splitList(envFiles), flagCfg, explicit)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	if cfg.Verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	if err := run(cfg); err != nil {
		log.Error().Err(err).Msg("run failed")
		os.Exit(1)
	}
}

// resolveConfig layers defaults, config file, environment and explicitly set
// flags, in increasing order of precedence.
func resolveConfig(configPath string, envFiles []string, flagCfg app.Config, explicit map[string]bool) (app.Config, error) {
	if err := app.LoadEnvFiles(envFiles...); err != nil {
		return app.Config{}, fmt.Errorf("load env files: %w", err)
	}

	cfg := app.DefaultConfig()
	if strings.TrimSpace(configPath) != "" {
		fc, err := app.LoadConfigFile(configPath)
		if err != nil {
			return app.Config{}, fmt.Errorf("config file %s: %w", configPath, err)
		}
		app.ApplyFileConfig(&cfg, fc)
	}
	app.ApplyEnvOverrides(&cfg)

	overlay := map[string]func(){
		"listen":          func() { cfg.ListenAddr = flagCfg.ListenAddr },
		"server.maxConns": func() { cfg.MaxConns = flagCfg.MaxConns },
		"db.path":         func() { cfg.DBPath = flagCfg.DBPath },
		"db.strictPerms":  func() { cfg.DBStrictPerms = flagCfg.DBStrictPerms },
		"db.maxRows":      func() { cfg.MaxRows = flagCfg.MaxRows },
		"recent.size":     func() { cfg.RecentSize = flagCfg.RecentSize },
		"llm.base":        func() { cfg.LLMBaseURL = flagCfg.LLMBaseURL },
		"llm.model":       func() { cfg.LLMModel = flagCfg.LLMModel },
		"llm.key":         func() { cfg.LLMAPIKey = flagCfg.LLMAPIKey },
		"llm.timeout":     func() { cfg.LLMTimeout = flagCfg.LLMTimeout },
		"llm.requireKey":  func() { cfg.RequireAPIKey = flagCfg.RequireAPIKey },
		"v":               func() { cfg.Verbose = flagCfg.Verbose },
	}
	for name, apply := range overlay {
		if explicit[name] {
			apply()
		}
	}
	return cfg, app.ValidateConfig(cfg)
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func run(cfg app.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("init app: %w", err)
	}
	defer a.Close()

	log.Info().
		Str("version", app.BuildVersion).
		Str("db", cfg.DBPath).
		Int("max_rows", cfg.MaxRows).
		Str("model", cfg.LLMModel).
		Msg("questionproxy starting")
	return a.Serve(ctx)
}

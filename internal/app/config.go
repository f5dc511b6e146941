package app

import "time"

// Config holds runtime configuration for the service.
type Config struct {
	ListenAddr string
	// MaxConns caps concurrent connections on the listener; 0 disables the cap.
	MaxConns int

	// Response store
	DBPath        string
	DBStrictPerms bool
	MaxRows       int
	RecentSize    int

	// LLM
	LLMBaseURL    string
	LLMModel      string
	LLMAPIKey     string
	LLMTimeout    time.Duration
	RequireAPIKey bool

	Verbose bool
}

// Defaults used when neither flags, env nor config file set a value.
const (
	DefaultListenAddr = ":5001"
	DefaultDBPath     = "responses.db"
	DefaultMaxRows    = 20
	DefaultRecentSize = 3
	DefaultLLMModel   = "gpt-3.5-turbo"
	DefaultLLMTimeout = 60 * time.Second
)

// DefaultConfig returns a Config populated with defaults.
func DefaultConfig() Config {
	return Config{
		ListenAddr: DefaultListenAddr,
		DBPath:     DefaultDBPath,
		MaxRows:    DefaultMaxRows,
		RecentSize: DefaultRecentSize,
		LLMModel:   DefaultLLMModel,
		LLMTimeout: DefaultLLMTimeout,
	}
}

// Package config loads the daemon configuration: a YAML file for the
// defaults, then environment variables on top.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bdobrica/l2r/common/environment"
)

// Config is the full daemon configuration.
type Config struct {
	Log     LogConfig     `yaml:"log"`
	Store   StoreConfig   `yaml:"store"`
	Matrix  MatrixConfig  `yaml:"matrix"`
	LLM     LLMConfig     `yaml:"llm"`
	Session SessionConfig `yaml:"session"`
	Chess   ChessConfig   `yaml:"chess"`
	Images  ImagesConfig  `yaml:"images"`
	HTTP    HTTPConfig    `yaml:"http"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// StoreConfig selects the key-value backend. An empty path or ":memory:"
// keeps state in process only.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// Memory reports whether state is kept in process only.
func (s StoreConfig) Memory() bool {
	return s.Path == "" || s.Path == ":memory:"
}

type MatrixConfig struct {
	Homeserver  string `yaml:"homeserver"`
	UserID      string `yaml:"user_id"`
	AccessToken string `yaml:"access_token"`
	// ChatRoom is where the counterpart talks.
	ChatRoom string `yaml:"chat_room"`
	// Counterpart restricts observed chat messages to one sender.
	Counterpart string `yaml:"counterpart"`
	// AdminRoom receives notices and accepts !l2r commands from Operator.
	AdminRoom string `yaml:"admin_room"`
	Operator  string `yaml:"operator"`
}

type ProviderConfig struct {
	APIKey  string        `yaml:"api_key"`
	BaseURL string        `yaml:"base_url"`
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"`
}

type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	Jitter      time.Duration `yaml:"jitter"`
}

type LLMConfig struct {
	// Provider is the initial provider until the operator switches:
	// "openai" or "gemini".
	Provider string         `yaml:"provider"`
	OpenAI   ProviderConfig `yaml:"openai"`
	Gemini   ProviderConfig `yaml:"gemini"`
	Retry    RetryConfig    `yaml:"retry"`
}

type SessionConfig struct {
	MaxMessages    int     `yaml:"max_messages"`
	MaxChars       int     `yaml:"max_chars"`
	MinMessages    int     `yaml:"min_messages"`
	RequestWindow  int     `yaml:"request_window"`
	Temperature    float64 `yaml:"temperature"`
	MaxOutputChars int     `yaml:"max_output_chars"`
	MaxTurns       int     `yaml:"max_turns"`
	// SystemPrompt seeds the global system message on first start.
	SystemPrompt string `yaml:"system_prompt"`
}

type ChessConfig struct {
	PlayerName      string `yaml:"player_name"`
	CounterpartName string `yaml:"counterpart_name"`
	Commentary      bool   `yaml:"commentary"`
}

type ImagesConfig struct {
	MaxGallery int `yaml:"max_gallery"`
}

// HTTPConfig enables the health and status endpoints. An empty Addr
// disables them.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Log:   LogConfig{Level: "info", Format: "text"},
		Store: StoreConfig{Path: "./l2r.db"},
		LLM: LLMConfig{
			Provider: "openai",
			OpenAI:   ProviderConfig{Model: "gpt-4o-mini", Timeout: 60 * time.Second},
			Gemini:   ProviderConfig{Model: "gemini-1.5-pro-latest", Timeout: 60 * time.Second},
			Retry:    RetryConfig{MaxAttempts: 3, BaseDelay: 300 * time.Millisecond, Jitter: 100 * time.Millisecond},
		},
		Session: SessionConfig{
			MaxMessages:    32,
			MaxChars:       15000,
			MinMessages:    8,
			RequestWindow:  16,
			Temperature:    0.7,
			MaxOutputChars: 800,
			MaxTurns:       2000,
			SystemPrompt:   "You are 'OpenAI Link'. Reply concisely and naturally.",
		},
		Chess:  ChessConfig{PlayerName: "Player", CounterpartName: "Partner"},
		Images: ImagesConfig{MaxGallery: 9999},
	}
}

// Load reads path (when non-empty) over the defaults, applies the process
// environment and validates the result.
func Load(path string) (Config, error) {
	return LoadWith(path, environment.Source{})
}

// LoadWith is Load with an explicit environment source.
func LoadWith(path string, env environment.Source) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config yaml: %w", err)
		}
	}
	if err := cfg.ApplyEnv(env); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overlays environment variables. Unset variables leave the current
// value alone.
func (c *Config) ApplyEnv(env environment.Source) error {
	env.OverrideString(&c.Log.Level, "LOG_LEVEL")
	env.OverrideString(&c.Log.Format, "LOG_FORMAT")
	env.OverrideString(&c.Store.Path, "L2R_STORE_PATH", "DATABASE_PATH")

	env.OverrideString(&c.Matrix.Homeserver, "MATRIX_HOMESERVER")
	env.OverrideString(&c.Matrix.UserID, "MATRIX_USER_ID")
	env.OverrideString(&c.Matrix.AccessToken, "MATRIX_ACCESS_TOKEN")
	env.OverrideString(&c.Matrix.ChatRoom, "MATRIX_CHAT_ROOM")
	env.OverrideString(&c.Matrix.Counterpart, "MATRIX_COUNTERPART")
	env.OverrideString(&c.Matrix.AdminRoom, "MATRIX_ADMIN_ROOM")
	env.OverrideString(&c.Matrix.Operator, "MATRIX_OPERATOR")

	env.OverrideString(&c.LLM.Provider, "L2R_PROVIDER")
	env.OverrideString(&c.LLM.OpenAI.APIKey, "OPENAI_API_KEY")
	env.OverrideString(&c.LLM.OpenAI.BaseURL, "OPENAI_BASE_URL")
	env.OverrideString(&c.LLM.OpenAI.Model, "OPENAI_MODEL")
	env.OverrideString(&c.LLM.Gemini.APIKey, "GEMINI_API_KEY", "GOOGLE_API_KEY")
	env.OverrideString(&c.LLM.Gemini.BaseURL, "GEMINI_BASE_URL")
	env.OverrideString(&c.LLM.Gemini.Model, "GEMINI_MODEL")

	env.OverrideString(&c.HTTP.Addr, "L2R_HTTP_ADDR")

	env.OverrideString(&c.Session.SystemPrompt, "L2R_SYSTEM_PROMPT")
	env.OverrideString(&c.Chess.PlayerName, "L2R_CHESS_PLAYER")
	env.OverrideString(&c.Chess.CounterpartName, "L2R_CHESS_COUNTERPART")

	return errors.Join(
		env.OverrideDuration(&c.LLM.OpenAI.Timeout, "OPENAI_TIMEOUT"),
		env.OverrideDuration(&c.LLM.Gemini.Timeout, "GEMINI_TIMEOUT"),
		env.OverrideInt(&c.LLM.Retry.MaxAttempts, "L2R_RETRY_ATTEMPTS"),
		env.OverrideInt(&c.Session.MaxTurns, "L2R_MAX_TURNS"),
		env.OverrideInt(&c.Session.MaxOutputChars, "L2R_MAX_OUTPUT_CHARS"),
		env.OverrideBool(&c.Chess.Commentary, "L2R_CHESS_COMMENTARY"),
	)
}

// Validate reports every problem at once.
func (c Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		add("log.level %q must be debug, info, warn or error", c.Log.Level)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		add("log.format %q must be text or json", c.Log.Format)
	}

	if c.Matrix.Homeserver == "" {
		add("matrix.homeserver is required (MATRIX_HOMESERVER)")
	}
	if c.Matrix.UserID == "" {
		add("matrix.user_id is required (MATRIX_USER_ID)")
	}
	if c.Matrix.AccessToken == "" {
		add("matrix.access_token is required (MATRIX_ACCESS_TOKEN)")
	}
	if c.Matrix.ChatRoom == "" {
		add("matrix.chat_room is required (MATRIX_CHAT_ROOM)")
	}
	if c.Matrix.AdminRoom != "" && c.Matrix.Operator == "" {
		add("matrix.operator is required when matrix.admin_room is set (MATRIX_OPERATOR)")
	}
	if c.Matrix.AdminRoom != "" && c.Matrix.AdminRoom == c.Matrix.ChatRoom {
		add("matrix.admin_room must differ from matrix.chat_room")
	}

	switch strings.ToLower(c.LLM.Provider) {
	case "openai", "gemini":
	default:
		add("llm.provider %q must be openai or gemini", c.LLM.Provider)
	}
	if c.LLM.Retry.MaxAttempts < 1 {
		add("llm.retry.max_attempts must be at least 1")
	}

	s := c.Session
	if s.MaxMessages <= 0 || s.MaxChars <= 0 || s.MinMessages <= 0 || s.RequestWindow <= 0 {
		add("session limits must be positive")
	}
	if s.MinMessages > s.MaxMessages {
		add("session.min_messages (%d) exceeds session.max_messages (%d)", s.MinMessages, s.MaxMessages)
	}
	if s.MaxTurns < 1 {
		add("session.max_turns must be at least 1")
	}
	if s.MaxOutputChars < 0 {
		add("session.max_output_chars must not be negative")
	}
	if s.Temperature < 0 || s.Temperature > 2 {
		add("session.temperature %.2f must be within [0, 2]", s.Temperature)
	}
	if c.Images.MaxGallery <= 0 {
		add("images.max_gallery must be positive")
	}
	return errors.Join(errs...)
}

// Secrets returns the credential values that must never reach a log line.
func (c Config) Secrets() []string {
	var out []string
	for _, s := range []string{c.Matrix.AccessToken, c.LLM.OpenAI.APIKey, c.LLM.Gemini.APIKey} {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

package openai

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// DefaultSystemPrompt asks the model for literal content only, since its
// output is spliced directly into a structured document.
const DefaultSystemPrompt = "You are a content generator for structured output. " +
	"Return ONLY the literal content requested. " +
	"Do not provide multiple options, alternatives, explanations, or meta-commentary. " +
	"If the request uses singular form (e.g., 'a title', 'a name'), return exactly one item. " +
	"If the request specifies a quantity or length, match it exactly. " +
	"Do not add formatting, numbering, or markdown unless explicitly requested in the prompt. " +
	"Be direct and literal."

const (
	defaultBaseURL        = "https://api.openai.com/v1"
	defaultTimeout        = 120 * time.Second
	defaultMaxRetries     = 4
	defaultMaxConcurrency = 10
	defaultInitialBackoff = time.Second
	defaultMaxBackoff     = 10 * time.Second
)

// Config describes an OpenAI-compatible chat completions endpoint.
type Config struct {
	Model   string `validate:"required"`
	APIKey  string
	BaseURL string `validate:"required,url"`

	// SystemPrompt is sent before every prompt unless DisableSystemPrompt is
	// set. Empty means DefaultSystemPrompt.
	SystemPrompt        string
	DisableSystemPrompt bool

	// Temperature and MaxTokens apply when a request leaves them unset.
	Temperature *float64 `validate:"omitempty,gte=0,lte=2"`
	MaxTokens   *int     `validate:"omitempty,gt=0"`

	Timeout        time.Duration `validate:"gt=0"`
	MaxRetries     int           `validate:"gte=0,lte=10"`
	MaxConcurrency int           `validate:"gte=1"`
	InitialBackoff time.Duration `validate:"gte=0"`
	MaxBackoff     time.Duration `validate:"gte=0"`
}

// DefaultConfig returns a configuration with every field but Model set.
func DefaultConfig() Config {
	return Config{
		BaseURL:        defaultBaseURL,
		Timeout:        defaultTimeout,
		MaxRetries:     defaultMaxRetries,
		MaxConcurrency: defaultMaxConcurrency,
		InitialBackoff: defaultInitialBackoff,
		MaxBackoff:     defaultMaxBackoff,
	}
}

// ConfigFromEnv starts from DefaultConfig and applies GENTPL_* variables.
// OPENAI_API_KEY is used when GENTPL_API_KEY is unset. Unparseable numbers
// keep the default.
func ConfigFromEnv() Config {
	cfg := DefaultConfig()
	cfg.Model = env("GENTPL_MODEL")
	cfg.APIKey = env("GENTPL_API_KEY")
	if cfg.APIKey == "" {
		cfg.APIKey = env("OPENAI_API_KEY")
	}
	if v := env("GENTPL_BASE_URL"); v != "" {
		cfg.BaseURL = v
	}
	if v := env("GENTPL_SYSTEM_PROMPT"); v != "" {
		cfg.SystemPrompt = v
	}
	cfg.DisableSystemPrompt = parseBoolEnv("GENTPL_DISABLE_SYSTEM_PROMPT", false)

	if v := env("GENTPL_TIMEOUT_SECONDS"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			cfg.Timeout = time.Duration(secs) * time.Second
		}
	}
	if v := env("GENTPL_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.MaxRetries = n
		}
	}
	if v := env("GENTPL_MAX_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxConcurrency = n
		}
	}
	if v := env("GENTPL_TEMPERATURE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Temperature = &f
		}
	}
	if v := env("GENTPL_MAX_TOKENS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxTokens = &n
		}
	}
	return cfg
}

var validate = validator.New()

// Validate checks the configuration.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("openai: validation failed: %w", err)
	}
	return nil
}

func (c Config) systemPrompt() string {
	if c.DisableSystemPrompt {
		return ""
	}
	if strings.TrimSpace(c.SystemPrompt) != "" {
		return c.SystemPrompt
	}
	return DefaultSystemPrompt
}

func env(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func parseBoolEnv(key string, def bool) bool {
	v := strings.ToLower(env(key))
	switch v {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

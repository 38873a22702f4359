// Package config loads parley settings from an optional YAML or JSON file,
// then applies PARLEY_* environment overrides.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"github.com/aretw0/parley/pkg/domain"
)

// DefaultPath is read when no --config flag is given. A missing file is not an error.
const DefaultPath = "parley.yaml"

// EnvPrefix namespaces environment overrides.
const EnvPrefix = "PARLEY_"

// Config is the full application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	Chat      ChatConfig      `mapstructure:"chat"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Inference InferenceConfig `mapstructure:"inference"`
	Workflow  WorkflowConfig  `mapstructure:"workflow"`
}

type ServerConfig struct {
	Addr           string   `mapstructure:"addr"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	Metrics        bool     `mapstructure:"metrics"`
	ResumeOnStart  bool     `mapstructure:"resume_on_start"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type ChatConfig struct {
	DefaultSessionID string   `mapstructure:"default_session_id"`
	DefaultMessage   string   `mapstructure:"default_message"`
	WorkflowMessage  string   `mapstructure:"workflow_message"`
	SystemPrompt     string   `mapstructure:"system_prompt"`
	MaxTokens        int      `mapstructure:"max_tokens"`
	HistoryLimit     int      `mapstructure:"history_limit"`
	CorruptPolicy    string   `mapstructure:"corrupt_policy"`
	RedactPatterns   []string `mapstructure:"redact_patterns"`
}

type StorageConfig struct {
	Backend string        `mapstructure:"backend"`
	LockTTL time.Duration `mapstructure:"lock_ttl"`
	File    FileConfig    `mapstructure:"file"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Dynamo  DynamoConfig  `mapstructure:"dynamodb"`

	// EncryptionKey is a base64 AES-256 key. When set, turn text is sealed at rest.
	EncryptionKey string   `mapstructure:"encryption_key"`
	FallbackKeys  []string `mapstructure:"fallback_keys"`
}

type FileConfig struct {
	Dir string `mapstructure:"dir"`
}

type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Prefix   string        `mapstructure:"prefix"`
	TTL      time.Duration `mapstructure:"ttl"`
	Lock     bool          `mapstructure:"lock"`
}

type DynamoConfig struct {
	Region   string        `mapstructure:"region"`
	Endpoint string        `mapstructure:"endpoint"`
	Table    string        `mapstructure:"table"`
	TTL      time.Duration `mapstructure:"ttl"`
}

type InferenceConfig struct {
	Provider  string        `mapstructure:"provider"`
	Model     string        `mapstructure:"model"`
	APIKey    string        `mapstructure:"api_key"`
	AccountID string        `mapstructure:"account_id"`
	APIToken  string        `mapstructure:"api_token"`
	BaseURL   string        `mapstructure:"base_url"`
	Reply     string        `mapstructure:"reply"`
	Timeout   time.Duration `mapstructure:"timeout"`
	Command   string        `mapstructure:"command"`
	Args      []string      `mapstructure:"args"`
}

type WorkflowConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
	StepTimeout time.Duration `mapstructure:"step_timeout"`
}

// Backends and providers.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendRedis  = "redis"
	BackendDynamo = "dynamodb"

	ProviderStatic    = "static"
	ProviderAnthropic = "anthropic"
	ProviderWorkersAI = "workersai"
	ProviderProcess   = "process"
)

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:           ":8787",
			AllowedOrigins: []string{"*"},
			Metrics:        true,
			ResumeOnStart:  true,
		},
		Log: LogConfig{Level: "info", Format: "text"},
		Chat: ChatConfig{
			DefaultSessionID: domain.DefaultSessionID,
			DefaultMessage:   domain.DefaultMessage,
			WorkflowMessage:  domain.DefaultWorkflowMessage,
			SystemPrompt:     domain.DefaultSystemPrompt,
			MaxTokens:        domain.DefaultMaxTokens,
			HistoryLimit:     domain.DefaultHistoryLimit,
			CorruptPolicy:    "reset",
		},
		Storage: StorageConfig{
			Backend: BackendFile,
			LockTTL: 30 * time.Second,
			File:    FileConfig{Dir: ".parley"},
			Redis:   RedisConfig{Addr: "localhost:6379"},
			Dynamo:  DynamoConfig{Table: "parley"},
		},
		Inference: InferenceConfig{
			Provider: ProviderStatic,
			Timeout:  30 * time.Second,
		},
		Workflow: WorkflowConfig{
			MaxAttempts: 3,
			BaseDelay:   500 * time.Millisecond,
			MaxDelay:    10 * time.Second,
			StepTimeout: 60 * time.Second,
		},
	}
}

// Load reads path (YAML, or JSON by extension) over the defaults and applies
// environment overrides. An empty or missing path yields defaults plus env.
func Load(path string) (Config, error) {
	return load(path, os.LookupEnv)
}

func load(path string, lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()

	raw, err := readFile(path)
	if err != nil {
		return cfg, err
	}
	if raw != nil {
		if err := decode(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to decode config %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg, lookup); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func readFile(path string) (map[string]any, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	raw := map[string]any{}
	if strings.ToLower(filepath.Ext(path)) == ".json" {
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		return raw, nil
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return raw, nil
}

func decode(input any, out *Config) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(input)
}

// envKeys maps PARLEY_* variables onto the nested config keys they override.
var envKeys = map[string][]string{
	"ADDR":              {"server", "addr"},
	"ALLOWED_ORIGINS":   {"server", "allowed_origins"},
	"METRICS":           {"server", "metrics"},
	"RESUME_ON_START":   {"server", "resume_on_start"},
	"LOG_LEVEL":         {"log", "level"},
	"LOG_FORMAT":        {"log", "format"},
	"SESSION_ID":        {"chat", "default_session_id"},
	"SYSTEM_PROMPT":     {"chat", "system_prompt"},
	"MAX_TOKENS":        {"chat", "max_tokens"},
	"HISTORY_LIMIT":     {"chat", "history_limit"},
	"CORRUPT_POLICY":    {"chat", "corrupt_policy"},
	"REDACT_PATTERNS":   {"chat", "redact_patterns"},
	"STORE":             {"storage", "backend"},
	"ENCRYPTION_KEY":    {"storage", "encryption_key"},
	"LOCK_TTL":          {"storage", "lock_ttl"},
	"FILE_DIR":          {"storage", "file", "dir"},
	"REDIS_ADDR":        {"storage", "redis", "addr"},
	"REDIS_PASSWORD":    {"storage", "redis", "password"},
	"REDIS_DB":          {"storage", "redis", "db"},
	"REDIS_PREFIX":      {"storage", "redis", "prefix"},
	"REDIS_TTL":         {"storage", "redis", "ttl"},
	"REDIS_LOCK":        {"storage", "redis", "lock"},
	"DYNAMODB_REGION":   {"storage", "dynamodb", "region"},
	"DYNAMODB_ENDPOINT": {"storage", "dynamodb", "endpoint"},
	"DYNAMODB_TABLE":    {"storage", "dynamodb", "table"},
	"DYNAMODB_TTL":      {"storage", "dynamodb", "ttl"},
	"INFERENCE":         {"inference", "provider"},
	"MODEL":             {"inference", "model"},
	"ANTHROPIC_API_KEY": {"inference", "api_key"},
	"CF_ACCOUNT_ID":     {"inference", "account_id"},
	"CF_API_TOKEN":      {"inference", "api_token"},
	"INFERENCE_URL":     {"inference", "base_url"},
	"STATIC_REPLY":      {"inference", "reply"},
	"INFERENCE_COMMAND": {"inference", "command"},
	"MAX_ATTEMPTS":      {"workflow", "max_attempts"},
	"RETRY_BASE_DELAY":  {"workflow", "base_delay"},
	"RETRY_MAX_DELAY":   {"workflow", "max_delay"},
	"STEP_TIMEOUT":      {"workflow", "step_timeout"},
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	overrides := map[string]any{}
	for suffix, keys := range envKeys {
		v, ok := lookup(EnvPrefix + suffix)
		if !ok {
			continue
		}
		setNested(overrides, keys, v)
	}
	if len(overrides) == 0 {
		return nil
	}
	if err := decode(overrides, cfg); err != nil {
		return fmt.Errorf("invalid %s environment override: %w", EnvPrefix, err)
	}
	return nil
}

func setNested(m map[string]any, keys []string, v any) {
	for _, k := range keys[:len(keys)-1] {
		next, ok := m[k].(map[string]any)
		if !ok {
			next = map[string]any{}
			m[k] = next
		}
		m = next
	}
	m[keys[len(keys)-1]] = v
}

// Validate rejects unknown backends, providers and out-of-range numbers.
func (c Config) Validate() error {
	switch c.Storage.Backend {
	case BackendMemory, BackendFile, BackendRedis, BackendDynamo:
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	switch c.Inference.Provider {
	case ProviderStatic, ProviderAnthropic, ProviderWorkersAI, ProviderProcess:
	default:
		return fmt.Errorf("unknown inference provider %q", c.Inference.Provider)
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.Log.Format)
	}
	if c.Chat.HistoryLimit <= 0 {
		return fmt.Errorf("chat.history_limit must be positive, got %d", c.Chat.HistoryLimit)
	}
	if c.Chat.MaxTokens <= 0 {
		return fmt.Errorf("chat.max_tokens must be positive, got %d", c.Chat.MaxTokens)
	}
	if c.Workflow.MaxAttempts <= 0 {
		return fmt.Errorf("workflow.max_attempts must be positive, got %d", c.Workflow.MaxAttempts)
	}
	return nil
}

package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/argon2"
	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	AWS        AWSConfig        `yaml:"aws"`
	Generation GenerationConfig `yaml:"generation"`
	Models     ModelsConfig     `yaml:"models"`
	Logger     LoggerConfig     `yaml:"logger"`
	Tracer     TracerConfig     `yaml:"tracer"`
}

// ServerConfig holds HTTP relay settings.
type ServerConfig struct {
	Addr              string          `yaml:"addr"`
	StreamFormat      string          `yaml:"stream_format"` // "raw" or "sse"
	MaxBodyBytes      int64           `yaml:"max_body_bytes"`
	ReadHeaderTimeout time.Duration   `yaml:"read_header_timeout"`
	ReadTimeout       time.Duration   `yaml:"read_timeout"`
	WriteTimeout      time.Duration   `yaml:"write_timeout"` // 0 = unbounded, streams may run long
	ShutdownTimeout   time.Duration   `yaml:"shutdown_timeout"`
	RateLimit         RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig holds per-client rate limiting settings.
type RateLimitConfig struct {
	Enabled        bool     `yaml:"enabled"`
	RequestsPerMin int      `yaml:"requests_per_min"`
	BurstSize      int      `yaml:"burst_size"`
	TrustedProxies []string `yaml:"trusted_proxies,omitempty"`
}

// AWSConfig holds credentials and transport settings for the upstream service.
// Empty keys fall back to the default AWS credential chain.
type AWSConfig struct {
	Region          string        `yaml:"region"`
	AccessKeyID     string        `yaml:"access_key_id,omitempty"`
	SecretAccessKey string        `yaml:"secret_access_key,omitempty"`
	SessionToken    string        `yaml:"session_token,omitempty"`
	ConnTimeout     time.Duration `yaml:"conn_timeout"`
	RespTimeout     time.Duration `yaml:"resp_timeout"`
	Pool            PoolConfig    `yaml:"pool"`
}

// PoolConfig holds HTTP connection pool settings for the upstream client.
type PoolConfig struct {
	MaxIdleConns        int           `yaml:"max_idle_conns"`
	MaxIdleConnsPerHost int           `yaml:"max_idle_conns_per_host"`
	MaxConnsPerHost     int           `yaml:"max_conns_per_host"`
	IdleConnTimeout     time.Duration `yaml:"idle_conn_timeout"`
}

// GenerationConfig selects and configures the upstream generation strategy.
type GenerationConfig struct {
	Strategy        string               `yaml:"strategy"` // "converse" or "knowledge_base"
	KnowledgeBaseID string               `yaml:"knowledge_base_id,omitempty"`
	ModelARNPrefix  string               `yaml:"model_arn_prefix,omitempty"`
	StreamBuffer    int                  `yaml:"stream_buffer"`
	CircuitBreaker  CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// CircuitBreakerConfig holds circuit breaker settings for stream setup.
type CircuitBreakerConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
	Interval    time.Duration `yaml:"interval"`
}

// ModelsConfig maps user-facing model names to upstream model identifiers.
type ModelsConfig struct {
	Default string       `yaml:"default"`
	Catalog []ModelEntry `yaml:"catalog"`
}

// ModelEntry is one catalog row.
type ModelEntry struct {
	Name string `yaml:"name" json:"name"`
	ID   string `yaml:"id" json:"id"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:              ":8000",
			StreamFormat:      "raw",
			MaxBodyBytes:      1 << 20,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			ShutdownTimeout:   10 * time.Second,
			RateLimit: RateLimitConfig{
				Enabled:        false,
				RequestsPerMin: 100,
				BurstSize:      20,
			},
		},
		AWS: AWSConfig{
			Region:      "us-east-1",
			ConnTimeout: 30 * time.Second,
			RespTimeout: 120 * time.Second,
		},
		Generation: GenerationConfig{
			Strategy:     "converse",
			StreamBuffer: 16,
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:     false,
				MaxFailures: 5,
				Timeout:     30 * time.Second,
				Interval:    60 * time.Second,
			},
		},
		Models: ModelsConfig{
			Default: "us.anthropic.claude-3-haiku-20240307-v1:0",
			Catalog: []ModelEntry{
				{Name: "Claude 3 Haiku", ID: "us.anthropic.claude-3-haiku-20240307-v1:0"},
				{Name: "Claude 3 Sonnet", ID: "us.anthropic.claude-3-sonnet-20240229-v1:0"},
				{Name: "Claude 3 Opus", ID: "us.anthropic.claude-3-opus-20240229-v1:0"},
			},
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Enabled:  false,
			Exporter: "noop",
		},
	}
}

// Load reads a YAML config file, applies env var overrides, and decrypts secrets.
// A missing file yields defaults plus env overrides.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("resolve config path: %w", err)
		}
		if err := validatePermissions(absPath); err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	ApplyEnvOverrides(cfg)

	if passphrase := os.Getenv("RELAY_CONFIG_KEY"); passphrase != "" {
		if err := decryptSecrets(cfg, passphrase); err != nil {
			return nil, fmt.Errorf("decrypt secrets: %w", err)
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides maps RELAY_* env vars to config fields. ACCESS_KEY and
// SECRET_KEY are honoured for compatibility with existing deployments.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("RELAY_SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("RELAY_STREAM_FORMAT"); v != "" {
		cfg.Server.StreamFormat = strings.ToLower(v)
	}
	if v := os.Getenv("RELAY_MAX_BODY_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			cfg.Server.MaxBodyBytes = n
		}
	}
	if v := os.Getenv("RELAY_WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d >= 0 {
			cfg.Server.WriteTimeout = d
		}
	}
	if v := os.Getenv("RELAY_RATE_LIMIT_ENABLED"); v == "true" {
		cfg.Server.RateLimit.Enabled = true
	}
	if v := os.Getenv("RELAY_RATE_LIMIT_REQUESTS_PER_MIN"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Server.RateLimit.RequestsPerMin = n
		}
	}
	if v := os.Getenv("RELAY_RATE_LIMIT_TRUSTED_PROXIES"); v != "" {
		cfg.Server.RateLimit.TrustedProxies = splitAndTrim(v, ",")
	}

	if v := os.Getenv("AWS_REGION"); v != "" {
		cfg.AWS.Region = v
	}
	if v := os.Getenv("RELAY_AWS_REGION"); v != "" {
		cfg.AWS.Region = v
	}
	if v := os.Getenv("ACCESS_KEY"); v != "" {
		cfg.AWS.AccessKeyID = v
	}
	if v := os.Getenv("RELAY_AWS_ACCESS_KEY_ID"); v != "" {
		cfg.AWS.AccessKeyID = v
	}
	if v := os.Getenv("SECRET_KEY"); v != "" {
		cfg.AWS.SecretAccessKey = v
	}
	if v := os.Getenv("RELAY_AWS_SECRET_ACCESS_KEY"); v != "" {
		cfg.AWS.SecretAccessKey = v
	}
	if v := os.Getenv("RELAY_AWS_SESSION_TOKEN"); v != "" {
		cfg.AWS.SessionToken = v
	}

	if v := os.Getenv("RELAY_GENERATION_STRATEGY"); v != "" {
		cfg.Generation.Strategy = v
	}
	if v := os.Getenv("RELAY_KNOWLEDGE_BASE_ID"); v != "" {
		cfg.Generation.KnowledgeBaseID = v
	}
	if v := os.Getenv("RELAY_MODEL_ARN_PREFIX"); v != "" {
		cfg.Generation.ModelARNPrefix = v
	}
	if v := os.Getenv("RELAY_CIRCUIT_BREAKER_ENABLED"); v == "true" {
		cfg.Generation.CircuitBreaker.Enabled = true
	}
	if v := os.Getenv("RELAY_DEFAULT_MODEL"); v != "" {
		cfg.Models.Default = v
	}

	if v := os.Getenv("RELAY_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("RELAY_LOGGER_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv("RELAY_LOGGER_OUTPUT"); v != "" {
		cfg.Logger.Output = v
	}
	if v := os.Getenv("RELAY_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv("RELAY_TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}
}

// ModelARNPrefix returns the configured ARN prefix, or the foundation-model
// prefix for the configured region.
func (c *Config) ModelARNPrefix() string {
	if c.Generation.ModelARNPrefix != "" {
		return c.Generation.ModelARNPrefix
	}
	return fmt.Sprintf("arn:aws:bedrock:%s::foundation-model/", c.AWS.Region)
}

// splitAndTrim splits s by sep and trims whitespace from each element.
func splitAndTrim(s, sep string) []string {
	parts := strings.Split(s, sep)
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// decryptSecrets finds "enc:..." values among the AWS credentials and decrypts them.
func decryptSecrets(cfg *Config, passphrase string) error {
	fields := map[string]*string{
		"aws.access_key_id":     &cfg.AWS.AccessKeyID,
		"aws.secret_access_key": &cfg.AWS.SecretAccessKey,
		"aws.session_token":     &cfg.AWS.SessionToken,
	}
	for name, fp := range fields {
		if !strings.HasPrefix(*fp, "enc:") {
			continue
		}
		decrypted, err := DecryptValue(strings.TrimPrefix(*fp, "enc:"), passphrase)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		*fp = decrypted
	}
	return nil
}

// EncryptValue encrypts a plaintext value with AES-256-GCM using a passphrase.
func EncryptValue(plaintext, passphrase string) (string, error) {
	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	// Format: hex(salt) + ":" + hex(nonce+ciphertext)
	return hex.EncodeToString(salt) + ":" + hex.EncodeToString(ciphertext), nil
}

// DecryptValue decrypts a value produced by EncryptValue.
func DecryptValue(encrypted, passphrase string) (string, error) {
	saltHex, dataHex, ok := strings.Cut(encrypted, ":")
	if !ok {
		return "", fmt.Errorf("invalid encrypted format")
	}

	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return "", fmt.Errorf("decode salt: %w", err)
	}
	data, err := hex.DecodeString(dataHex)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return "", err
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}

	plaintext, err := gcm.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}
	return string(plaintext), nil
}

func newGCM(passphrase string, salt []byte) (cipher.AEAD, error) {
	// Argon2id, 64 MiB, 4 lanes.
	key := argon2.IDKey([]byte(passphrase), salt, 1, 64*1024, 4, 32)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return gcm, nil
}

// validatePermissions rejects config files writable by group or others,
// since they may carry AWS credentials.
func validatePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}
	mode := info.Mode().Perm()
	if mode&0o022 != 0 {
		return fmt.Errorf("config file %s has insecure permissions %o (want 0600 or 0644)", path, mode)
	}
	return nil
}

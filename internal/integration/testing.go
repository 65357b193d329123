package integration

import (
	"context"
	"os"
	"testing"
	"time"
)

// Config holds integration test configuration from environment
type Config struct {
	Region          string
	AccessKey       string
	SecretKey       string
	ModelID         string
	KnowledgeBaseID string
	TestTimeout     time.Duration
	SkipSlow        bool
}

// LoadConfig loads integration test configuration from environment
func LoadConfig() *Config {
	cfg := &Config{
		Region:          os.Getenv("AWS_REGION"),
		AccessKey:       os.Getenv("ACCESS_KEY"),
		SecretKey:       os.Getenv("SECRET_KEY"),
		ModelID:         os.Getenv("RELAY_IT_MODEL_ID"),
		KnowledgeBaseID: os.Getenv("RELAY_IT_KNOWLEDGE_BASE_ID"),
		TestTimeout:     60 * time.Second,
		SkipSlow:        os.Getenv("SKIP_SLOW_TESTS") == "1",
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	if cfg.ModelID == "" {
		cfg.ModelID = "us.anthropic.claude-3-haiku-20240307-v1:0"
	}
	return cfg
}

// SkipIfNoCredentials skips the test unless Bedrock access is explicitly
// enabled. The default credential chain may be used when no static keys are set.
func SkipIfNoCredentials(t *testing.T) {
	t.Helper()
	if os.Getenv("RELAY_IT_BEDROCK") != "1" {
		t.Skip("Skipping Bedrock integration test: RELAY_IT_BEDROCK not set")
	}
}

// SkipIfShort skips integration tests in short mode
func SkipIfShort(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
}

// NewTestContext creates a context with timeout for integration tests
func NewTestContext(t *testing.T, timeout time.Duration) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	t.Cleanup(cancel)
	return ctx
}

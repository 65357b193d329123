package config

import (
	"fmt"
	"net"
	"strings"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...interface{}) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// when one or more problems are found, allowing callers to inspect all issues.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateServer(cfg, ve)
	validateAWS(cfg, ve)
	validateGeneration(cfg, ve)
	validateModels(cfg, ve)
	validateLogger(cfg, ve)
	validateTracer(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

var validStreamFormats = map[string]bool{
	"raw": true,
	"sse": true,
}

func validateServer(cfg *Config, ve *ValidationError) {
	s := cfg.Server
	if s.Addr == "" {
		ve.Add("server.addr must not be empty")
	} else if _, _, err := net.SplitHostPort(s.Addr); err != nil {
		ve.Add("server.addr %q is invalid: %v", s.Addr, err)
	}
	if !validStreamFormats[s.StreamFormat] {
		ve.Add("server.stream_format %q is invalid (want: raw, sse)", s.StreamFormat)
	}
	if s.MaxBodyBytes <= 0 {
		ve.Add("server.max_body_bytes must be > 0")
	}
	if s.ReadHeaderTimeout < 0 || s.ReadTimeout < 0 || s.WriteTimeout < 0 {
		ve.Add("server timeouts must be >= 0")
	}
	if s.ShutdownTimeout <= 0 {
		ve.Add("server.shutdown_timeout must be > 0")
	}
	if s.RateLimit.Enabled {
		if s.RateLimit.RequestsPerMin <= 0 {
			ve.Add("server.rate_limit.requests_per_min must be > 0 when rate limiting is enabled")
		}
		if s.RateLimit.BurstSize <= 0 {
			ve.Add("server.rate_limit.burst_size must be > 0 when rate limiting is enabled")
		}
	}
}

func validateAWS(cfg *Config, ve *ValidationError) {
	a := cfg.AWS
	if a.Region == "" {
		ve.Add("aws.region must not be empty (set via AWS_REGION or RELAY_AWS_REGION)")
	}
	if (a.AccessKeyID == "") != (a.SecretAccessKey == "") {
		ve.Add("aws.access_key_id and aws.secret_access_key must be set together")
	}
	if a.ConnTimeout < 0 || a.RespTimeout < 0 {
		ve.Add("aws timeouts must be >= 0")
	}
}

var validStrategies = map[string]bool{
	"converse":       true,
	"knowledge_base": true,
}

func validateGeneration(cfg *Config, ve *ValidationError) {
	g := cfg.Generation
	if !validStrategies[g.Strategy] {
		ve.Add("generation.strategy %q is invalid (want: converse, knowledge_base)", g.Strategy)
	}
	if g.Strategy == "knowledge_base" && g.KnowledgeBaseID == "" {
		ve.Add("generation.knowledge_base_id is required for the knowledge_base strategy (set via RELAY_KNOWLEDGE_BASE_ID)")
	}
	if g.StreamBuffer < 0 {
		ve.Add("generation.stream_buffer must be >= 0")
	}
	if g.CircuitBreaker.Enabled {
		if g.CircuitBreaker.MaxFailures == 0 {
			ve.Add("generation.circuit_breaker.max_failures must be > 0 when enabled")
		}
		if g.CircuitBreaker.Timeout <= 0 {
			ve.Add("generation.circuit_breaker.timeout must be > 0 when enabled")
		}
	}
}

func validateModels(cfg *Config, ve *ValidationError) {
	if cfg.Models.Default == "" {
		ve.Add("models.default must not be empty")
	}
	seen := make(map[string]bool)
	for i, m := range cfg.Models.Catalog {
		if m.Name == "" || m.ID == "" {
			ve.Add("models.catalog[%d] requires both name and id", i)
			continue
		}
		if seen[m.Name] {
			ve.Add("models.catalog[%d]: duplicate model name %q", i, m.Name)
		}
		seen[m.Name] = true
	}
}

var validLogFormats = map[string]bool{
	"text": true,
	"json": true,
}

func validateLogger(cfg *Config, ve *ValidationError) {
	if !validLogFormats[strings.ToLower(cfg.Logger.Format)] {
		ve.Add("logger.format %q is invalid (want: text, json)", cfg.Logger.Format)
	}
}

var validExporters = map[string]bool{
	"":       true,
	"noop":   true,
	"stdout": true,
}

func validateTracer(cfg *Config, ve *ValidationError) {
	if cfg.Tracer.Enabled && !validExporters[cfg.Tracer.Exporter] {
		ve.Add("tracer.exporter %q is invalid (want: noop, stdout)", cfg.Tracer.Exporter)
	}
}

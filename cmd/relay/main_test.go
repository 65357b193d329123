package main

import (
	"bytes"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bedrock-relay/internal/infra/config"
)

func withArgs(t *testing.T, args ...string) {
	t.Helper()
	old := os.Args
	os.Args = append([]string{"relay"}, args...)
	t.Cleanup(func() { os.Args = old })
}

func TestConfigPath(t *testing.T) {
	t.Setenv("RELAY_CONFIG", "")

	withArgs(t)
	assert.Equal(t, "config.yaml", configPath())

	withArgs(t, "--config", "/etc/relay.yaml")
	assert.Equal(t, "/etc/relay.yaml", configPath())

	withArgs(t, "--config=/tmp/r.yaml")
	assert.Equal(t, "/tmp/r.yaml", configPath())

	withArgs(t)
	t.Setenv("RELAY_CONFIG", "/from/env.yaml")
	assert.Equal(t, "/from/env.yaml", configPath())

	withArgs(t, "--config", "flag.yaml")
	assert.Equal(t, "flag.yaml", configPath(), "flag wins over env")
}

func TestCheckConfigFile(t *testing.T) {
	dir := t.TempDir()

	res := checkConfigFile(filepath.Join(dir, "missing.yaml"), nil)(nil)
	assert.Equal(t, StatusWarn, res.Status)

	res = checkConfigFile(filepath.Join(dir, "bad.yaml"), &config.ValidationError{Errors: []string{"server.addr is required"}})(nil)
	assert.Equal(t, StatusFail, res.Status)
	assert.NotEmpty(t, res.Fix)

	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  addr: \":9000\"\n"), 0o600))
	res = checkConfigFile(path, nil)(nil)
	assert.Equal(t, StatusPass, res.Status)
}

func TestCheckStrategy(t *testing.T) {
	assert.Equal(t, StatusFail, checkStrategy(nil).Status)

	cfg := config.Defaults()
	assert.Equal(t, StatusPass, checkStrategy(cfg).Status)

	cfg.Generation.Strategy = "knowledge_base"
	res := checkStrategy(cfg)
	assert.Equal(t, StatusFail, res.Status, "knowledge_base is not registered without an id")
	assert.Contains(t, res.Fix, "converse")
}

func TestCheckCredentialsStatic(t *testing.T) {
	cfg := config.Defaults()
	cfg.AWS.AccessKeyID = "AKIAEXAMPLEKEY"
	cfg.AWS.SecretAccessKey = "secret"
	res := checkCredentials(cfg)
	assert.Equal(t, StatusPass, res.Status, res.Message)
	assert.NotContains(t, res.Message, "secret")
}

func TestCheckListenAddr(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	cfg := config.Defaults()
	cfg.Server.Addr = ln.Addr().String()
	assert.Equal(t, StatusFail, checkListenAddr(cfg).Status)

	cfg.Server.Addr = "127.0.0.1:0"
	assert.Equal(t, StatusPass, checkListenAddr(cfg).Status)
}

func TestReportChecks(t *testing.T) {
	pass := Check{Name: "ok", Fn: func(*config.Config) CheckResult { return CheckResult{Status: StatusPass, Message: "fine"} }}
	warn := Check{Name: "meh", Fn: func(*config.Config) CheckResult { return CheckResult{Status: StatusWarn, Message: "hmm"} }}
	fail := Check{Name: "bad", Fn: func(*config.Config) CheckResult {
		return CheckResult{Status: StatusFail, Message: "broken", Fix: "repair it"}
	}}

	var out bytes.Buffer
	require.NoError(t, reportChecks(&out, nil, []Check{pass, warn}))
	assert.Contains(t, out.String(), "[PASS] ok: fine")
	assert.Contains(t, out.String(), "1 passed, 1 warnings, 0 failed")

	out.Reset()
	err := reportChecks(&out, nil, []Check{pass, fail})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 check(s) failed")
	assert.Contains(t, out.String(), "Fix: repair it")
}

func TestRunEncrypt(t *testing.T) {
	var out bytes.Buffer
	require.Error(t, runEncrypt(&out, []string{"secret"}, ""))
	require.Error(t, runEncrypt(&out, nil, "pass"))

	require.NoError(t, runEncrypt(&out, []string{"secret"}, "pass"))
	line := strings.TrimSpace(out.String())
	require.True(t, strings.HasPrefix(line, "enc:"))

	plain, err := config.DecryptValue(strings.TrimPrefix(line, "enc:"), "pass")
	require.NoError(t, err)
	assert.Equal(t, "secret", plain)
}

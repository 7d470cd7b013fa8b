package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/txgate/internal/chain"
	"github.com/roach88/txgate/internal/confirm"
	"github.com/roach88/txgate/internal/testutil"
)

type cliFixture struct {
	dir     string
	config  string
	adapter *testutil.FakeAdapter
	opts    *RootOptions
}

func setupCLI(t *testing.T, extraConfig string) *cliFixture {
	t.Helper()
	dir := t.TempDir()
	cfg := "store:\n  path: " + filepath.Join(dir, "txgate.db") + "\n" +
		"audit_log: " + filepath.Join(dir, "audit.jsonl") + "\n" + extraConfig
	path := filepath.Join(dir, "txgate.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o600))

	adapter := testutil.NewFakeAdapter("fake")
	return &cliFixture{
		dir:     dir,
		config:  path,
		adapter: adapter,
		opts:    &RootOptions{Adapters: []chain.Adapter{adapter}},
	}
}

// run executes the CLI with JSON output and returns stdout.
func (f *cliFixture) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand(f.opts)
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(append([]string{"--format", "json", "--env-file", "", "--config", f.config}, args...))
	err := cmd.ExecuteContext(testContext(t))
	return out.String(), err
}

func (f *cliFixture) payloadFile(t *testing.T, name string, payload []byte) string {
	t.Helper()
	path := filepath.Join(f.dir, name)
	require.NoError(t, os.WriteFile(path, payload, 0o600))
	return path
}

type response struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
	Error  *CLIError       `json:"error"`
}

func decode(t *testing.T, out string) response {
	t.Helper()
	var resp response
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	return resp
}

type created struct {
	ID                string `json:"id"`
	SummaryHash       string `json:"summary_hash"`
	SecondFactorToken string `json:"second_factor_token"`
	Message           string `json:"message"`
}

func (f *cliFixture) create(t *testing.T, chainKey string, payload []byte) created {
	t.Helper()
	out, err := f.run(t, "create", "--chain", chainKey, "-f", f.payloadFile(t, "payload.json", payload), "--label", "test")
	require.NoError(t, err, out)
	var c created
	require.NoError(t, json.Unmarshal(decode(t, out).Data, &c))
	return c
}

func TestCLI_CreateConfirmGet(t *testing.T) {
	f := setupCLI(t, "")
	c := f.create(t, "fake:testnet", testutil.Payload("0xabc", "10"))
	assert.Contains(t, c.ID, "_confirm_")
	assert.Empty(t, c.SecondFactorToken)

	out, err := f.run(t, "confirm", c.ID, "--hash", c.SummaryHash)
	require.NoError(t, err, out)
	var res struct {
		Status      confirm.Status `json:"status"`
		BroadcastID string         `json:"broadcast_id"`
	}
	require.NoError(t, json.Unmarshal(decode(t, out).Data, &res))
	assert.Equal(t, confirm.StatusSent, res.Status)
	assert.Equal(t, "0xbeef1", res.BroadcastID)

	out, err = f.run(t, "get", c.ID)
	require.NoError(t, err, out)
	var rec confirm.Record
	require.NoError(t, json.Unmarshal(decode(t, out).Data, &rec))
	assert.Equal(t, confirm.StatusSent, rec.Status)
	assert.Equal(t, "test", rec.Metadata.Label)
	assert.Equal(t, "cli", rec.Metadata.SourceTool)

	// confirming twice never re-broadcasts
	out, err = f.run(t, "confirm", c.ID, "--hash", c.SummaryHash)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Equal(t, "CONFLICT", decode(t, out).Error.Code)
	assert.Equal(t, 1, f.adapter.CallCount())

	audit, err := os.ReadFile(filepath.Join(f.dir, "audit.jsonl"))
	require.NoError(t, err)
	assert.Contains(t, string(audit), `"event":"created"`)
	assert.Contains(t, string(audit), `"event":"sent"`)
}

func TestCLI_SecondFactorViaText(t *testing.T) {
	f := setupCLI(t, "")
	c := f.create(t, "fake:mainnet", testutil.Payload("0xabc", "10"))
	require.NotEmpty(t, c.SecondFactorToken)

	out, err := f.run(t, "confirm", c.ID, "--hash", c.SummaryHash)
	require.Error(t, err)
	resp := decode(t, out)
	assert.Equal(t, "SECOND_FACTOR_REQUIRED", resp.Error.Code)
	assert.Equal(t, c.SecondFactorToken, resp.Error.Details.(map[string]any)["expected_token"])
	assert.Equal(t, 0, f.adapter.CallCount())

	text := c.Message + " token:" + c.SecondFactorToken
	out, err = f.run(t, "confirm", "--text", text)
	require.NoError(t, err, out)
	assert.Equal(t, 1, f.adapter.CallCount())
}

func TestCLI_ConfirmRequiresID(t *testing.T) {
	f := setupCLI(t, "")
	out, err := f.run(t, "confirm", "--hash", "0x00")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Equal(t, "USAGE", decode(t, out).Error.Code)
}

func TestCLI_RetryAfterFailure(t *testing.T) {
	f := setupCLI(t, "")
	c := f.create(t, "fake:testnet", testutil.Payload("0xabc", "10"))

	f.adapter.FailNext(assert.AnError)
	out, err := f.run(t, "confirm", c.ID, "--hash", c.SummaryHash)
	require.Error(t, err)
	resp := decode(t, out)
	assert.Equal(t, "ADAPTER_FAILURE", resp.Error.Code)
	assert.True(t, resp.Error.Retryable)

	out, err = f.run(t, "retry", c.ID, "--hash", c.SummaryHash)
	require.NoError(t, err, out)
	assert.Equal(t, 2, f.adapter.CallCount())
}

func TestCLI_CreateErrors(t *testing.T) {
	f := setupCLI(t, "")

	_, err := f.run(t, "create", "--chain", "fake:testnet")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	out, err := f.run(t, "create", "--chain", "btc:mainnet", "--payload", "e30=")
	require.Error(t, err)
	assert.Equal(t, "UNKNOWN_CHAIN", decode(t, out).Error.Code)

	out, err = f.run(t, "create", "--chain", "fake:testnet", "--payload", "%%%")
	require.Error(t, err)
	assert.Equal(t, "INVALID_PAYLOAD", decode(t, out).Error.Code)
}

func TestCLI_PolicyDeniedAtCreate(t *testing.T) {
	f := setupCLI(t, "policy:\n  chains:\n    fake:\n      deny: [\"0xbad\"]\n")
	out, err := f.run(t, "create", "--chain", "fake:testnet", "-f", f.payloadFile(t, "p.json", testutil.Payload("0xbad", "1")))
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Equal(t, "POLICY_DENIED", decode(t, out).Error.Code)
}

func TestCLI_SkipLinkListSweep(t *testing.T) {
	f := setupCLI(t, "")
	a := f.create(t, "fake:testnet", testutil.Payload("0xabc", "1"))
	b := f.create(t, "fake:testnet", testutil.Payload("0xdef", "2"))

	out, err := f.run(t, "link", a.ID, b.ID, "--mandatory")
	require.NoError(t, err, out)
	var link struct {
		Mandatory bool `json:"mandatory"`
	}
	require.NoError(t, json.Unmarshal(decode(t, out).Data, &link))
	assert.True(t, link.Mandatory)

	out, err = f.run(t, "confirm", b.ID, "--hash", b.SummaryHash)
	require.Error(t, err)
	assert.Equal(t, "DEPENDENCY_PENDING", decode(t, out).Error.Code)

	out, err = f.run(t, "skip", a.ID, "--reason", "not needed")
	require.NoError(t, err, out)
	var rec confirm.Record
	require.NoError(t, json.Unmarshal(decode(t, out).Data, &rec))
	assert.Equal(t, confirm.StatusSkipped, rec.Status)
	assert.Equal(t, "not needed", rec.LastError)

	out, err = f.run(t, "list", "--status", "pending")
	require.NoError(t, err, out)
	var recs []confirm.Record
	require.NoError(t, json.Unmarshal(decode(t, out).Data, &recs))
	require.Len(t, recs, 1)
	assert.Equal(t, b.ID, recs[0].ID)

	out, err = f.run(t, "list", "--status", "bogus")
	require.Error(t, err)
	assert.Equal(t, "INVALID_PAYLOAD", decode(t, out).Error.Code)

	out, err = f.run(t, "sweep")
	require.NoError(t, err, out)
	var sweep SweepResult
	require.NoError(t, json.Unmarshal(decode(t, out).Data, &sweep))
	assert.Equal(t, 0, sweep.Removed)
}

func TestCLI_BadConfig(t *testing.T) {
	f := setupCLI(t, "second_factor_mode: three_step\n")
	out, err := f.run(t, "list")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	resp := decode(t, out)
	assert.Equal(t, "COMMAND_ERROR", resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "second_factor_mode")
}

func TestCLI_PolicyCheck(t *testing.T) {
	f := setupCLI(t, "")

	good := filepath.Join(f.dir, "policy.yaml")
	require.NoError(t, os.WriteFile(good, []byte("mode: warn\nchains:\n  evm:1:\n    max_value: \"100\"\n  sui:\n    deny: [\"0x2\"]\n"), 0o600))
	out, err := f.run(t, "policy", "check", good)
	require.NoError(t, err, out)
	var res PolicyCheckResult
	require.NoError(t, json.Unmarshal(decode(t, out).Data, &res))
	assert.Equal(t, "warn", res.Mode)
	assert.Equal(t, []string{"evm:1", "sui"}, res.Chains)

	bad := filepath.Join(f.dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("mode: strict\n"), 0o600))
	out, err = f.run(t, "policy", "check", bad)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Equal(t, "POLICY_INVALID", decode(t, out).Error.Code)

	out, err = f.run(t, "policy", "check")
	require.NoError(t, err, out)
	require.NoError(t, json.Unmarshal(decode(t, out).Data, &res))
	assert.Equal(t, "config", res.Source)
	assert.Equal(t, "block", res.Mode)
}

func TestServe(t *testing.T) {
	f := setupCLI(t, "")
	ready := make(chan string, 1)
	opts := &ServeOptions{RootOptions: f.opts, Listen: "127.0.0.1:0", Ready: ready}
	f.opts.Config = f.config

	ctx, cancel := context.WithCancel(testContext(t))
	cmd := NewServeCommand(f.opts)
	cmd.SetContext(ctx)
	cmd.SetOut(io.Discard)

	done := make(chan error, 1)
	go func() { done <- runServe(opts, cmd) }()

	var addr string
	select {
	case addr = <-ready:
	case err := <-done:
		t.Fatalf("serve exited early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not start")
	}

	resp, err := http.Get("http://" + addr + "/health")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.Contains(string(body), `"ok"`))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

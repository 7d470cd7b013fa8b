package api

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/txgate/internal/chain"
	"github.com/roach88/txgate/internal/engine"
	"github.com/roach88/txgate/internal/policy"
	"github.com/roach88/txgate/internal/store"
	"github.com/roach88/txgate/internal/testutil"
)

type apiFixture struct {
	server  *Server
	adapter *testutil.FakeAdapter
	clock   *testutil.ManualClock
}

func setup(t *testing.T) *apiFixture {
	t.Helper()
	clock := testutil.NewManualClock(1_700_000_000_000)
	s, err := store.Open(filepath.Join(t.TempDir(), "txgate.db"), store.WithClock(clock))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	eval, err := policy.NewEvaluator(policy.Default())
	require.NoError(t, err)
	adapter := testutil.NewFakeAdapter("fake")
	e := engine.New(s, chain.NewRegistry(adapter), eval,
		engine.WithClock(clock),
		engine.WithNonceSource(&testutil.CountingNonces{}),
	)
	return &apiFixture{server: New(e), adapter: adapter, clock: clock}
}

func (f *apiFixture) do(t *testing.T, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rr := httptest.NewRecorder()
	f.server.ServeHTTP(rr, req)

	var out map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out), rr.Body.String())
	return rr, out
}

func (f *apiFixture) create(t *testing.T, chainKey string, payload []byte) map[string]any {
	t.Helper()
	rr, out := f.do(t, http.MethodPost, "/v1/confirmations", map[string]any{
		"chain_key":   chainKey,
		"payload_b64": base64.StdEncoding.EncodeToString(payload),
		"metadata":    map[string]any{"source_tool": "wallet", "label": "test"},
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	return out["confirmation"].(map[string]any)
}

func errorBody(t *testing.T, out map[string]any) map[string]any {
	t.Helper()
	assert.Regexp(t, `^req_[0-9a-f-]{36}$`, out["request_id"])
	e, ok := out["error"].(map[string]any)
	require.True(t, ok, "missing error envelope: %v", out)
	return e
}

func TestHealth(t *testing.T) {
	f := setup(t)
	rr, out := f.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", out["status"])
	assert.NotEmpty(t, rr.Header().Get("X-Request-Id"))
}

func TestCreateAndConfirm(t *testing.T) {
	f := setup(t)
	c := f.create(t, "fake:testnet", testutil.Payload("0xabc", "10"))
	id := c["id"].(string)
	assert.NotEmpty(t, c["summary_hash"])
	assert.Nil(t, c["second_factor_token"])

	rr, out := f.do(t, http.MethodPost, "/v1/confirmations/"+id+"/confirm", map[string]any{
		"summary_hash": c["summary_hash"],
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	res := out["result"].(map[string]any)
	assert.Equal(t, "sent", res["status"])
	assert.Equal(t, "0xbeef1", res["broadcast_id"])

	rr, out = f.do(t, http.MethodGet, "/v1/confirmations/"+id, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	rec := out["confirmation"].(map[string]any)
	assert.Equal(t, "sent", rec["status"])
	assert.Nil(t, rec["payload"])

	rr, out = f.do(t, http.MethodGet, "/v1/confirmations/"+id+"?include_payload=true", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.NotEmpty(t, out["confirmation"].(map[string]any)["payload"])
}

func TestCreate_PayloadJSON(t *testing.T) {
	f := setup(t)
	rr, out := f.do(t, http.MethodPost, "/v1/confirmations", map[string]any{
		"chain_key":    "fake:testnet",
		"payload_json": json.RawMessage(testutil.Payload("0xabc", "1")),
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.NotEmpty(t, out["confirmation"].(map[string]any)["id"])
}

func TestCreate_BadRequests(t *testing.T) {
	f := setup(t)
	tests := []struct {
		name   string
		body   any
		status int
		code   string
	}{
		{"no payload", map[string]any{"chain_key": "fake:testnet"}, http.StatusBadRequest, "INVALID_PAYLOAD"},
		{"bad base64", map[string]any{"chain_key": "fake:testnet", "payload_b64": "!!"}, http.StatusBadRequest, "INVALID_PAYLOAD"},
		{"both payloads", map[string]any{"chain_key": "fake:testnet", "payload_b64": "e30=", "payload_json": map[string]any{}}, http.StatusBadRequest, "INVALID_PAYLOAD"},
		{"unknown field", map[string]any{"chain": "fake:testnet"}, http.StatusBadRequest, "BAD_JSON"},
		{"unknown chain", map[string]any{"chain_key": "btc:mainnet", "payload_b64": "e30="}, http.StatusBadRequest, "UNKNOWN_CHAIN"},
		{"negative ttl", map[string]any{"chain_key": "fake:testnet", "payload_b64": "e30=", "ttl_ms": -1}, http.StatusBadRequest, "INVALID_PAYLOAD"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr, out := f.do(t, http.MethodPost, "/v1/confirmations", tt.body)
			assert.Equal(t, tt.status, rr.Code)
			assert.Equal(t, tt.code, errorBody(t, out)["code"])
		})
	}
}

func TestConfirm_Errors(t *testing.T) {
	f := setup(t)
	c := f.create(t, "fake:testnet", testutil.Payload("0xabc", "10"))
	id := c["id"].(string)

	rr, out := f.do(t, http.MethodPost, "/v1/confirmations/"+id+"/confirm", map[string]any{"summary_hash": "0x" + string(bytes.Repeat([]byte("0"), 64))})
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	e := errorBody(t, out)
	assert.Equal(t, "HASH_MISMATCH", e["code"])
	assert.Equal(t, false, e["retryable"])

	rr, out = f.do(t, http.MethodPost, "/v1/confirmations/fake_confirm_0_00/confirm", map[string]any{"summary_hash": c["summary_hash"]})
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "NOT_FOUND_OR_EXPIRED", errorBody(t, out)["code"])

	f.adapter.FailNext(assert.AnError)
	rr, out = f.do(t, http.MethodPost, "/v1/confirmations/"+id+"/confirm", map[string]any{"summary_hash": c["summary_hash"]})
	assert.Equal(t, http.StatusBadGateway, rr.Code)
	e = errorBody(t, out)
	assert.Equal(t, "ADAPTER_FAILURE", e["code"])
	assert.Equal(t, true, e["retryable"])

	rr, out = f.do(t, http.MethodPost, "/v1/confirmations/"+id+"/retry", map[string]any{"summary_hash": c["summary_hash"]})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "sent", out["result"].(map[string]any)["status"])

	rr, out = f.do(t, http.MethodPost, "/v1/confirmations/"+id+"/confirm", map[string]any{"summary_hash": c["summary_hash"]})
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, "CONFLICT", errorBody(t, out)["code"])
}

func TestConfirm_SecondFactor(t *testing.T) {
	f := setup(t)
	c := f.create(t, "fake:mainnet", testutil.Payload("0xabc", "10"))
	id := c["id"].(string)
	token := c["second_factor_token"].(string)
	require.Len(t, token, 12)

	rr, out := f.do(t, http.MethodPost, "/v1/confirmations/"+id+"/confirm", map[string]any{"summary_hash": c["summary_hash"]})
	assert.Equal(t, http.StatusForbidden, rr.Code)
	e := errorBody(t, out)
	assert.Equal(t, "SECOND_FACTOR_REQUIRED", e["code"])
	assert.Equal(t, token, e["details"].(map[string]any)["expected_token"])
	assert.Equal(t, 0, f.adapter.CallCount())

	rr, out = f.do(t, http.MethodGet, "/v1/confirmations/"+id, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	sf := out["confirmation"].(map[string]any)["second_factor"].(map[string]any)
	assert.Nil(t, sf["token"], "token is only returned at creation")

	text := "confirm " + id + " hash:" + c["summary_hash"].(string) + " token:" + token
	rr, _ = f.do(t, http.MethodPost, "/v1/confirmations/"+id+"/confirm", map[string]any{"text": text})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, 1, f.adapter.CallCount())
}

func TestConfirm_SecondFactorTokenField(t *testing.T) {
	f := setup(t)
	c := f.create(t, "fake:mainnet", testutil.Payload("0xabc", "10"))
	id := c["id"].(string)
	token := c["second_factor_token"].(string)

	rr, out := f.do(t, http.MethodPost, "/v1/confirmations/"+id+"/confirm",
		map[string]any{"summary_hash": c["summary_hash"], "token": token, "second_factor_token": "000000000000"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, errorBody(t, out)["message"], "differ")
	assert.Equal(t, 0, f.adapter.CallCount())

	rr, out = f.do(t, http.MethodPost, "/v1/confirmations/"+id+"/confirm",
		map[string]any{"summary_hash": c["summary_hash"], "second_factor_token": token})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "sent", out["result"].(map[string]any)["status"])
	assert.Equal(t, 1, f.adapter.CallCount())
}

func TestSkipListLinkSweep(t *testing.T) {
	f := setup(t)
	a := f.create(t, "fake:testnet", testutil.Payload("0xabc", "1"))
	b := f.create(t, "fake:testnet", testutil.Payload("0xdef", "2"))

	rr, out := f.do(t, http.MethodPost, "/v1/links", map[string]any{"primary_id": a["id"], "dependent_id": b["id"]})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.Equal(t, false, out["link"].(map[string]any)["mandatory"])

	rr, out = f.do(t, http.MethodPost, "/v1/confirmations/"+a["id"].(string)+"/skip", map[string]any{"reason": "changed my mind"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "skipped", out["confirmation"].(map[string]any)["status"])

	rr, out = f.do(t, http.MethodGet, "/v1/confirmations?status=pending", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	list := out["confirmations"].([]any)
	require.Len(t, list, 1)
	assert.Equal(t, b["id"], list[0].(map[string]any)["id"])

	rr, out = f.do(t, http.MethodGet, "/v1/confirmations?chain_key=fake:mainnet", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, out["confirmations"].([]any))

	rr, out = f.do(t, http.MethodGet, "/v1/confirmations?status=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "INVALID_PAYLOAD", errorBody(t, out)["code"])

	rr, out = f.do(t, http.MethodGet, "/v1/confirmations?limit=x", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "BAD_QUERY", errorBody(t, out)["code"])

	f.clock.Advance(engine.DefaultTTL + time.Second)
	rr, out = f.do(t, http.MethodPost, "/v1/sweep", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.GreaterOrEqual(t, out["removed"].(float64), float64(1))
}

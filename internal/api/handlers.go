package api

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/roach88/txgate/internal/confirm"
	"github.com/roach88/txgate/internal/engine"
)

// CreateBody stages a transaction. Exactly one of PayloadB64 and
// PayloadJSON must be set; PayloadJSON suits chains whose payload is itself
// a JSON document (EVM requests).
type CreateBody struct {
	ChainKey    string           `json:"chain_key"`
	PayloadB64  string           `json:"payload_b64,omitempty"`
	PayloadJSON json.RawMessage  `json:"payload_json,omitempty"`
	Metadata    confirm.Metadata `json:"metadata"`
	TTLMs       int64            `json:"ttl_ms,omitempty"`
}

// ConfirmBody presents the summary hash and token. SecondFactorToken is
// accepted as the name create returns the token under. Text, when set, is
// a free-form confirmation message that fills whichever fields are empty.
type ConfirmBody struct {
	SummaryHash       string `json:"summary_hash"`
	Token             string `json:"token,omitempty"`
	SecondFactorToken string `json:"second_factor_token,omitempty"`
	Text              string `json:"text,omitempty"`
}

// SkipBody abandons a record.
type SkipBody struct {
	Reason string `json:"reason,omitempty"`
}

// LinkBody records that DependentID waits on PrimaryID.
type LinkBody struct {
	PrimaryID   string `json:"primary_id"`
	DependentID string `json:"dependent_id"`
	Mandatory   bool   `json:"mandatory,omitempty"`
}

func (b CreateBody) payload() ([]byte, error) {
	switch {
	case b.PayloadB64 != "" && len(b.PayloadJSON) > 0:
		return nil, errors.New("set only one of payload_b64 and payload_json")
	case b.PayloadB64 != "":
		p, err := base64.StdEncoding.DecodeString(b.PayloadB64)
		if err != nil {
			return nil, errors.New("payload_b64 is not valid base64")
		}
		return p, nil
	case len(b.PayloadJSON) > 0:
		var buf bytes.Buffer
		if err := json.Compact(&buf, b.PayloadJSON); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}
	return nil, errors.New("one of payload_b64 and payload_json is required")
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var body CreateBody
	if err := readJSON(w, r, &body); err != nil {
		writeBadRequest(w, r, err)
		return
	}
	payload, err := body.payload()
	if err != nil {
		writeError(w, r, http.StatusBadRequest, ErrorBody{Code: string(confirm.ErrCodeInvalidPayload), Message: err.Error()})
		return
	}
	if body.TTLMs < 0 {
		writeError(w, r, http.StatusBadRequest, ErrorBody{Code: string(confirm.ErrCodeInvalidPayload), Message: "ttl_ms must not be negative"})
		return
	}

	res, err := s.engine.Create(r.Context(), engine.CreateRequest{
		ChainKey: body.ChainKey,
		Payload:  payload,
		Metadata: body.Metadata,
		TTL:      time.Duration(body.TTLMs) * time.Millisecond,
	})
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"request_id": RequestID(r.Context()), "confirmation": res})
}

func (s *Server) confirmRequest(w http.ResponseWriter, r *http.Request) (engine.ConfirmRequest, bool) {
	var body ConfirmBody
	if err := readJSON(w, r, &body); err != nil {
		writeBadRequest(w, r, err)
		return engine.ConfirmRequest{}, false
	}
	switch {
	case body.Token == "":
		body.Token = body.SecondFactorToken
	case body.SecondFactorToken != "" && body.SecondFactorToken != body.Token:
		writeError(w, r, http.StatusBadRequest, ErrorBody{Code: string(confirm.ErrCodeInvalidPayload), Message: "token and second_factor_token differ"})
		return engine.ConfirmRequest{}, false
	}
	if body.Text != "" {
		parsed := confirm.ParseConfirmText(body.Text)
		if body.SummaryHash == "" {
			body.SummaryHash = parsed.SummaryHash
		}
		if body.Token == "" {
			body.Token = parsed.Token
		}
	}
	return engine.ConfirmRequest{ID: chi.URLParam(r, "id"), SummaryHash: body.SummaryHash, Token: body.Token}, true
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	req, ok := s.confirmRequest(w, r)
	if !ok {
		return
	}
	res, err := s.engine.Confirm(r.Context(), req)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"request_id": RequestID(r.Context()), "result": res})
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	req, ok := s.confirmRequest(w, r)
	if !ok {
		return
	}
	res, err := s.engine.Retry(r.Context(), req)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"request_id": RequestID(r.Context()), "result": res})
}

func (s *Server) handleSkip(w http.ResponseWriter, r *http.Request) {
	var body SkipBody
	if r.ContentLength != 0 {
		if err := readJSON(w, r, &body); err != nil {
			writeBadRequest(w, r, err)
			return
		}
	}
	rec, err := s.engine.Skip(r.Context(), chi.URLParam(r, "id"), body.Reason)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"request_id": RequestID(r.Context()), "confirmation": rec})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	rec, err := s.engine.Get(r.Context(), chi.URLParam(r, "id"), queryBool(r, "include_payload"))
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"request_id": RequestID(r.Context()), "confirmation": rec})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := confirm.ListFilter{
		Status:         confirm.Status(q.Get("status")),
		ChainKey:       q.Get("chain_key"),
		IncludePayload: queryBool(r, "include_payload"),
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, ErrorBody{Code: "BAD_QUERY", Message: "limit must be an integer"})
			return
		}
		f.Limit = n
	}
	recs, err := s.engine.List(r.Context(), f)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	if recs == nil {
		recs = []*confirm.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"request_id": RequestID(r.Context()), "confirmations": recs})
}

func (s *Server) handleLink(w http.ResponseWriter, r *http.Request) {
	var body LinkBody
	if err := readJSON(w, r, &body); err != nil {
		writeBadRequest(w, r, err)
		return
	}
	res, err := s.engine.Link(r.Context(), body.PrimaryID, body.DependentID, body.Mandatory)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"request_id": RequestID(r.Context()), "link": res})
}

func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	n, err := s.engine.Sweep(r.Context())
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"request_id": RequestID(r.Context()), "removed": n})
}

func queryBool(r *http.Request, key string) bool {
	v, _ := strconv.ParseBool(r.URL.Query().Get(key))
	return v
}

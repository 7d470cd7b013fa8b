package api

import (
	"errors"
	"net/http"

	"github.com/roach88/txgate/internal/confirm"
)

var statusByCode = map[confirm.ErrorCode]int{
	confirm.ErrCodeNotFound:             http.StatusNotFound,
	confirm.ErrCodeConflict:             http.StatusConflict,
	confirm.ErrCodeHashMismatch:         http.StatusUnprocessableEntity,
	confirm.ErrCodeSecondFactorRequired: http.StatusForbidden,
	confirm.ErrCodeAdapterFailure:       http.StatusBadGateway,
	confirm.ErrCodePolicyDenied:         http.StatusForbidden,
	confirm.ErrCodeInvalidPayload:       http.StatusBadRequest,
	confirm.ErrCodeUnknownChain:         http.StatusBadRequest,
	confirm.ErrCodeDependencyPending:    http.StatusConflict,
}

// writeEngineError renders an engine error. Errors that are not
// *confirm.Error are reported as INTERNAL without their text.
func (s *Server) writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	var ce *confirm.Error
	if !errors.As(err, &ce) {
		s.logger.Error("request failed", "request_id", RequestID(r.Context()), "path", r.URL.Path, "error", err)
		writeError(w, r, http.StatusInternalServerError, ErrorBody{Code: "INTERNAL", Message: "internal error", Retryable: true})
		return
	}

	status, ok := statusByCode[ce.Code]
	if !ok {
		status = http.StatusInternalServerError
	}
	body := ErrorBody{Code: string(ce.Code), Message: ce.Message, Retryable: ce.Retryable()}
	details := map[string]any{}
	if ce.ID != "" {
		details["id"] = ce.ID
	}
	if ce.Status != "" {
		details["status"] = ce.Status
	}
	if ce.ExpectedToken != "" {
		details["expected_token"] = ce.ExpectedToken
	}
	if ce.Unlocked {
		details["unlocked"] = true
	}
	if len(ce.Reasons) > 0 {
		details["reasons"] = ce.Reasons
	}
	if ce.Err != nil {
		details["cause"] = ce.Err.Error()
	}
	if len(details) > 0 {
		body.Details = details
	}
	s.logger.Debug("request rejected", "request_id", RequestID(r.Context()), "code", ce.Code, "id", ce.ID)
	writeError(w, r, status, body)
}

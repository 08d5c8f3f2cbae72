package ratelimit

import (
	"encoding/json"
	"net/http"
	"time"

	"admission-gateway/middleware/ratelimit/application"
	"admission-gateway/middleware/ratelimit/domain"

	"github.com/google/uuid"
)

const (
	HeaderLimit      = "X-RateLimit-Limit"
	HeaderRemaining  = "X-RateLimit-Remaining"
	HeaderReset      = "X-RateLimit-Reset"
	HeaderBypass     = "X-RateLimit-Bypass"
	HeaderRetryAfter = "Retry-After"
	RequestIDHeader  = "X-Request-Id"

	errorType = "RATE_LIMIT_ERROR"
	errorCode = "RATE_LIMIT_EXCEEDED"
)

// writeRateLimitHeaders escreve os headers presentes em toda decisão.
// Reset vai em segundos unix, arredondado para cima.
func writeRateLimitHeaders(h http.Header, res domain.Result) {
	h.Set(HeaderLimit, formatInt(res.Limit))
	h.Set(HeaderRemaining, formatInt(max(res.Remaining, 0)))
	h.Set(HeaderReset, formatUnixCeil(res.Reset))
	if res.Bypassed {
		h.Set(HeaderBypass, res.BypassReason)
	}
}

type rejectionError struct {
	Type       string `json:"type"`
	Message    string `json:"message"`
	Code       string `json:"code"`
	RetryAfter int    `json:"retryAfter"`
	Limit      int    `json:"limit"`
	Reset      string `json:"reset"`
}

type rejectionBody struct {
	Success   bool           `json:"success"`
	Error     rejectionError `json:"error"`
	Timestamp string         `json:"timestamp"`
	Path      string         `json:"path"`
	RequestID string         `json:"requestId"`
}

func writeRejection(w http.ResponseWriter, req domain.Request, v application.Verdict) {
	cfg := v.Config.WithDefaults()
	retry := v.Result.RetryAfterSeconds()

	requestID := req.RequestID
	if requestID == "" {
		requestID = uuid.NewString()
	}

	body := rejectionBody{
		Success: false,
		Error: rejectionError{
			Type:       errorType,
			Message:    cfg.Message,
			Code:       errorCode,
			RetryAfter: retry,
			Limit:      v.Result.Limit,
			Reset:      v.Result.Reset.UTC().Format(time.RFC3339Nano),
		},
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Path:      req.Path,
		RequestID: requestID,
	}

	if retry > 0 {
		w.Header().Set(HeaderRetryAfter, formatInt(retry))
	}
	w.Header().Set(RequestIDHeader, requestID)
	writeJSON(w, cfg.StatusCode, body)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	type envelope struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, envelope{Error: message})
}

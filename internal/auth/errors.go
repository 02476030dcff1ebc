package auth

import (
	"encoding/json"
	"errors"
	"net/http"
)

var (
	ErrMissingCredential   = errors.New("missing credential")
	ErrInvalidToken        = errors.New("invalid token")
	ErrWrongKind           = errors.New("token kind mismatch")
	ErrExpired             = errors.New("token expired")
	ErrRevoked             = errors.New("token revoked")
	ErrUnknownUser         = errors.New("unknown user")
	ErrAccountDeactivated  = errors.New("account deactivated")
	ErrForbidden           = errors.New("forbidden")
	ErrUnauthenticated     = errors.New("unauthenticated")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrTooManyAttempts     = errors.New("too many login attempts")
)

// Machine-readable reason codes sent to clients.
const (
	CodeMissingCredential   = "MISSING_CREDENTIAL"
	CodeInvalidToken        = "INVALID_TOKEN"
	CodeExpired             = "TOKEN_EXPIRED"
	CodeRevoked             = "TOKEN_REVOKED"
	CodeUnknownUser         = "UNKNOWN_USER"
	CodeAccountDeactivated  = "ACCOUNT_DEACTIVATED"
	CodeForbidden           = "FORBIDDEN"
	CodeUnauthenticated     = "UNAUTHENTICATED"
	CodeUpstreamUnavailable = "UPSTREAM_UNAVAILABLE"
	CodeTooManyAttempts     = "TOO_MANY_ATTEMPTS"
	CodeInvalidCredentials  = "INVALID_CREDENTIALS"
	CodeInvalidPayload      = "INVALID_PAYLOAD"
	CodeInternal            = "INTERNAL"
)

var reasons = []struct {
	err    error
	code   string
	status int
}{
	{ErrMissingCredential, CodeMissingCredential, http.StatusUnauthorized},
	{ErrInvalidToken, CodeInvalidToken, http.StatusUnauthorized},
	{ErrExpired, CodeExpired, http.StatusUnauthorized},
	{ErrRevoked, CodeRevoked, http.StatusUnauthorized},
	{ErrUnknownUser, CodeUnknownUser, http.StatusUnauthorized},
	{ErrAccountDeactivated, CodeAccountDeactivated, http.StatusUnauthorized},
	{ErrUnauthenticated, CodeUnauthenticated, http.StatusUnauthorized},
	{ErrForbidden, CodeForbidden, http.StatusForbidden},
	{ErrUpstreamUnavailable, CodeUpstreamUnavailable, http.StatusServiceUnavailable},
	{ErrTooManyAttempts, CodeTooManyAttempts, http.StatusTooManyRequests},
}

// CodeOf returns the reason code for err, or CodeInternal if err is not part of the taxonomy.
func CodeOf(err error) string {
	for _, r := range reasons {
		if errors.Is(err, r.err) {
			return r.code
		}
	}
	return CodeInternal
}

// StatusOf maps err to the HTTP status the request terminates with.
func StatusOf(err error) int {
	for _, r := range reasons {
		if errors.Is(err, r.err) {
			return r.status
		}
	}
	return http.StatusInternalServerError
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeError(w http.ResponseWriter, err error) {
	status := StatusOf(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="api"`)
	}
	writeJSON(w, status, errorBody{Error: msg, Code: CodeOf(err)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

package httpremote

import (
	"fmt"
	"net/http"

	optErrors "github.com/c0deZ3R0/go-optimistic-kit/errors"
)

const component = "transport/httpremote"

// errorBody is the JSON error payload exchanged by Handler and Client.
type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// statusForKind maps an error kind to the status a Handler answers with.
func statusForKind(kind optErrors.Kind) int {
	switch kind {
	case optErrors.KindInvalid:
		return http.StatusBadRequest
	case optErrors.KindNotFound:
		return http.StatusNotFound
	case optErrors.KindConflict:
		return http.StatusConflict
	case optErrors.KindPrecondition:
		return http.StatusPreconditionFailed
	case optErrors.KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// kindForStatus is the inverse of statusForKind for the Client.
func kindForStatus(code int) optErrors.Kind {
	switch {
	case code == http.StatusNotFound:
		return optErrors.KindNotFound
	case code == http.StatusConflict:
		return optErrors.KindConflict
	case code == http.StatusPreconditionFailed:
		return optErrors.KindPrecondition
	case code == http.StatusTooManyRequests, code == http.StatusServiceUnavailable,
		code == http.StatusBadGateway, code == http.StatusGatewayTimeout:
		return optErrors.KindUnavailable
	case code >= 500:
		return optErrors.KindInternal
	case code >= 400:
		return optErrors.KindInvalid
	default:
		return optErrors.KindOther
	}
}

// retryableStatus reports whether a request answered with code may succeed
// when sent again.
func retryableStatus(code int) bool {
	return code >= 500 || code == http.StatusTooManyRequests || code == http.StatusRequestTimeout
}

// statusError converts a non-2xx response into a MutationError.
func statusError(op optErrors.Operation, method, path string, code int, body errorBody) *optErrors.MutationError {
	msg := body.Error
	if msg == "" {
		msg = http.StatusText(code)
	}
	kind := kindForStatus(code)
	if body.Kind != "" && code < 500 {
		kind = optErrors.Kind(body.Kind)
	}

	e := optErrors.NewWithComponent(op, component, fmt.Errorf("%s %s: server error (status %d): %s", method, path, code, msg))
	e.Kind = kind
	e.Retryable = retryableStatus(code)
	if kind == optErrors.KindNotFound {
		e.Err = fmt.Errorf("%w: %s %s", optErrors.ErrNotFound, method, path)
	}
	return e.WithMetadata("status", code)
}

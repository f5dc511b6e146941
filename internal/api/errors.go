package api

import (
	"errors"
	"net/http"

	"github.com/hyperifyio/questionproxy/internal/cache"
	"github.com/hyperifyio/questionproxy/internal/llm"
)

// ErrMalformedRequest marks client errors in the request body or query.
var ErrMalformedRequest = errors.New("malformed request")

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, ErrMalformedRequest):
		return http.StatusBadRequest, "invalid request"
	case errors.Is(err, llm.ErrUnavailable):
		return http.StatusServiceUnavailable, "upstream unavailable"
	case errors.Is(err, cache.ErrNotFound):
		return http.StatusNotFound, "no cached response available"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

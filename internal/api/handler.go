package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/hyperifyio/questionproxy/internal/cache"
	"github.com/hyperifyio/questionproxy/internal/llm"
)

// maxBodyBytes caps the request body accepted by /generate-question.
const maxBodyBytes = 1 << 20

// Completer produces a completion for a single prompt.
type Completer interface {
	Complete(ctx context.Context, prompt string) (llm.Completion, error)
}

// ResponseStore is the persistence the handler needs.
type ResponseStore interface {
	Insert(ctx context.Context, prompt, text string) (cache.Response, error)
	SampleExcluding(ctx context.Context, excluded []int64) (cache.Response, error)
	List(ctx context.Context, limit int) ([]cache.Response, error)
	Latest(ctx context.Context) (cache.Response, error)
	Count(ctx context.Context) (int, error)
	MaxRows() int
}

// GenerateRequest is the body of POST /generate-question.
type GenerateRequest struct {
	Prompt      string `json:"prompt"`
	OfflineMode bool   `json:"offline_mode"`
}

// offlineReply mirrors the subset of the completion shape clients read.
type offlineReply struct {
	Choices []offlineChoice `json:"choices"`
}

type offlineChoice struct {
	Message offlineMessage `json:"message"`
}

type offlineMessage struct {
	Content string `json:"content"`
}

type errorBody struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// Handler serves the question endpoints. One Handler owns one recent window.
type Handler struct {
	upstream Completer
	store    ResponseStore
	recent   *cache.RecentWindow
	model    string

	// offlineMu serializes sample-then-record so concurrent offline
	// requests observe each other's window updates.
	offlineMu sync.Mutex
}

// NewHandler wires the handler. recent is shared by every request the handler serves.
func NewHandler(upstream Completer, store ResponseStore, recent *cache.RecentWindow, model string) *Handler {
	if recent == nil {
		recent = cache.NewRecentWindow(cache.DefaultRecentSize)
	}
	return &Handler{upstream: upstream, store: store, recent: recent, model: model}
}

// RegisterRoutes mounts the handler's routes on mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /generate-question", h.handleGenerateQuestion)
	mux.HandleFunc("GET /responses", h.handleResponses)
	mux.HandleFunc("GET /responses/latest", h.handleLatest)
	mux.HandleFunc("GET /health", h.handleHealth)
}

func (h *Handler) handleGenerateQuestion(w http.ResponseWriter, r *http.Request) {
	req, err := decodeGenerateRequest(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	out, err := h.Generate(r.Context(), req)
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// Generate runs one request through the online or offline path. Online
// replies are persisted and returned verbatim; offline replies are sampled
// from the store, never repeating an id still in the recent window.
func (h *Handler) Generate(ctx context.Context, req GenerateRequest) (any, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, fmt.Errorf("%w: prompt is required", ErrMalformedRequest)
	}
	if req.OfflineMode {
		return h.generateOffline(ctx)
	}
	return h.generateOnline(ctx, req.Prompt)
}

func (h *Handler) generateOnline(ctx context.Context, prompt string) (any, error) {
	c, err := h.upstream.Complete(ctx, prompt)
	if err != nil {
		return nil, err
	}
	stored, err := h.store.Insert(ctx, prompt, c.Text)
	if err != nil {
		return nil, fmt.Errorf("store response: %w", err)
	}
	zerolog.Ctx(ctx).Debug().Int64("id", stored.ID).Msg("cached upstream reply")
	if len(c.Raw) > 0 {
		return c.Raw, nil
	}
	return c.Payload, nil
}

func (h *Handler) generateOffline(ctx context.Context) (any, error) {
	h.offlineMu.Lock()
	defer h.offlineMu.Unlock()

	excluded := h.recent.Excluded()
	resp, err := h.store.SampleExcluding(ctx, excluded)
	if err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("sample cached response: %w", err)
	}
	h.recent.Record(resp.ID)
	zerolog.Ctx(ctx).Debug().Int64("id", resp.ID).Ints64("excluded", excluded).Msg("served cached reply")
	return offlineReply{Choices: []offlineChoice{{Message: offlineMessage{Content: resp.Text}}}}, nil
}

func (h *Handler) handleResponses(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			h.writeFailure(w, r, fmt.Errorf("%w: limit must be a positive integer", ErrMalformedRequest))
			return
		}
		limit = n
	}
	items, err := h.store.List(r.Context(), limit)
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"responses": items})
}

func (h *Handler) handleLatest(w http.ResponseWriter, r *http.Request) {
	resp, err := h.store.Latest(r.Context())
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	n, err := h.store.Count(r.Context())
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":           "ok",
		"cached_responses": n,
		"max_rows":         h.store.MaxRows(),
		"model":            h.model,
	})
}

func decodeGenerateRequest(body io.Reader) (GenerateRequest, error) {
	var req GenerateRequest
	dec := json.NewDecoder(body)
	if err := dec.Decode(&req); err != nil {
		return req, fmt.Errorf("%w: %v", ErrMalformedRequest, err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return req, fmt.Errorf("%w: unexpected data after JSON object", ErrMalformedRequest)
	}
	return req, nil
}

// writeFailure maps err to a status and JSON error body, logging server-side faults.
func (h *Handler) writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := classify(err)
	if status >= http.StatusInternalServerError {
		hlog.FromRequest(r).Error().Err(err).Int("status", status).Msg(msg)
	} else {
		hlog.FromRequest(r).Debug().Err(err).Int("status", status).Msg(msg)
	}
	writeJSON(w, status, errorBody{Error: msg, Details: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

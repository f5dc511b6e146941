package main

import (
	"encoding/json"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type chatRequest struct {
	Model    string `json:"model"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

// cannedQuestion answers every prompt in the multiple-choice format the quiz
// frontend parses.
const cannedQuestion = "Question: Which brain structure is chiefly involved in forming new long-term memories?\n" +
	"Option A: Cerebellum\n" +
	"Option B: Hippocampus\n" +
	"Option C: Medulla oblongata\n" +
	"Option D: Occipital lobe\n" +
	"Correct: B"

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	model := os.Getenv("MODEL_ID")
	if strings.TrimSpace(model) == "" {
		model = "gpt-3.5-turbo"
	}
	addr := os.Getenv("ADDR")
	if strings.TrimSpace(addr) == "" {
		addr = ":8081"
	}
	// STUB_FAIL=1 makes completions answer 500 to exercise the 503 path.
	fail := os.Getenv("STUB_FAIL") == "1"

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/models", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"id": model, "object": "model"}},
		})
	})
	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Messages) == 0 {
			http.Error(w, "expected a chat completion request", http.StatusBadRequest)
			return
		}
		log.Info().Str("model", req.Model).Int("messages", len(req.Messages)).Msg("completion")
		w.Header().Set("Content-Type", "application/json")
		if fail {
			w.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"error": map[string]string{"message": "stub failure", "type": "server_error"},
			})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-stub",
			"object":  "chat.completion",
			"created": time.Now().Unix(),
			"model":   model,
			"choices": []map[string]any{
				{"index": 0, "message": map[string]string{"role": "assistant", "content": cannedQuestion}, "finish_reason": "stop"},
			},
		})
	})

	log.Info().Str("addr", addr).Str("model", model).Bool("fail", fail).Msg("openai-stub listening")
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatal().Err(err).Msg("serve")
	}
}

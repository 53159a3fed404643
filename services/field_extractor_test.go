package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/libetion/libera-api/services/inference"
)

// fakeInference is a minimal chat-completions endpoint for extractor tests.
type fakeInference struct {
	mu       sync.Mutex
	requests []inference.Request
	handler  func(n int, req inference.Request) (status int, content string)
}

func (f *fakeInference) serve(w http.ResponseWriter, r *http.Request) {
	var req inference.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	f.requests = append(f.requests, req)
	n := len(f.requests)
	f.mu.Unlock()

	status, content := f.handler(n, req)
	if status != http.StatusOK {
		http.Error(w, "inference error", status)
		return
	}

	resp := inference.Response{
		Choices: []inference.Choice{
			{Message: inference.Message{Role: "assistant", Content: content}},
		},
	}
	json.NewEncoder(w).Encode(resp)
}

func newTestExtractor(t *testing.T, fake *fakeInference, maxRetries int) *FieldExtractor {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(fake.serve))
	t.Cleanup(srv.Close)

	client := inference.NewClient(inference.Config{
		APIKey:  "test-key",
		BaseURL: srv.URL,
		Timeout: 5 * time.Second,
	})
	return NewFieldExtractor(client, FieldExtractorConfig{
		MaxRetries:   maxRetries,
		ChunkTimeout: 5 * time.Second,
	})
}

func TestExtractDocumentMergesChunksInOrder(t *testing.T) {
	fake := &fakeInference{
		handler: func(n int, req inference.Request) (int, string) {
			// Identity on page 1, a score per later page.
			userPrompt := req.Messages[1].Content
			if strings.Contains(userPrompt, "Page 1 of") {
				return http.StatusOK, `{"student":{"name":"김민준"},"scores":[{"grade":1,"semester":1,"subject":"국어"}]}`
			}
			return http.StatusOK, `{"student":{"name":""},"scores":[{"grade":1,"semester":2,"subject":"수학"}]}`
		},
	}
	extractor := newTestExtractor(t, fake, 3)

	doc := &LoadedDocument{
		PageCount: 2,
		Chunks: []PageChunk{
			{Page: 1, Text: "1학년 1학기 국어 ..."},
			{Page: 2, Text: "1학년 2학기 수학 ..."},
		},
	}

	raw, err := extractor.ExtractDocument(context.Background(), doc, false)
	if err != nil {
		t.Fatalf("ExtractDocument failed: %v", err)
	}

	if raw.Student["name"] != "김민준" {
		t.Errorf("identity from page 1 not kept: %v", raw.Student)
	}
	if len(raw.Scores) != 2 {
		t.Fatalf("expected 2 scores merged, got %d", len(raw.Scores))
	}
	// Page order survives the merge.
	if raw.Scores[0]["subject"] != "국어" || raw.Scores[1]["subject"] != "수학" {
		t.Errorf("scores out of page order: %v", raw.Scores)
	}

	// One call per chunk, issued sequentially.
	if len(fake.requests) != 2 {
		t.Errorf("expected 2 requests, got %d", len(fake.requests))
	}
}

func TestExtractDocumentUnavailableAfterRetries(t *testing.T) {
	fake := &fakeInference{
		handler: func(n int, req inference.Request) (int, string) {
			return http.StatusServiceUnavailable, ""
		},
	}
	extractor := newTestExtractor(t, fake, 2)

	doc := &LoadedDocument{PageCount: 1, Chunks: []PageChunk{{Page: 1, Text: "..."}}}

	_, err := extractor.ExtractDocument(context.Background(), doc, false)
	if !errors.Is(err, ErrExtractionUnavailable) {
		t.Fatalf("expected ErrExtractionUnavailable, got %v", err)
	}
	if len(fake.requests) != 2 {
		t.Errorf("expected 2 attempts, got %d", len(fake.requests))
	}
}

func TestExtractDocumentRecoversAfterTransientFailure(t *testing.T) {
	fake := &fakeInference{
		handler: func(n int, req inference.Request) (int, string) {
			if n == 1 {
				return http.StatusTooManyRequests, ""
			}
			return http.StatusOK, `{"student":{"name":"이서연"}}`
		},
	}
	extractor := newTestExtractor(t, fake, 3)

	doc := &LoadedDocument{PageCount: 1, Chunks: []PageChunk{{Page: 1, Text: "..."}}}

	raw, err := extractor.ExtractDocument(context.Background(), doc, false)
	if err != nil {
		t.Fatalf("expected recovery on attempt 2, got %v", err)
	}
	if raw.Student["name"] != "이서연" {
		t.Errorf("unexpected extraction: %v", raw.Student)
	}
}

func TestExtractDocumentMalformedNotRetried(t *testing.T) {
	fake := &fakeInference{
		handler: func(n int, req inference.Request) (int, string) {
			return http.StatusOK, "I could not read this document, sorry."
		},
	}
	extractor := newTestExtractor(t, fake, 3)

	doc := &LoadedDocument{PageCount: 1, Chunks: []PageChunk{{Page: 1, Text: "..."}}}

	_, err := extractor.ExtractDocument(context.Background(), doc, false)
	if !errors.Is(err, ErrExtractionMalformed) {
		t.Fatalf("expected ErrExtractionMalformed, got %v", err)
	}
	// A 2xx with unparseable output must not burn retry attempts.
	if len(fake.requests) != 1 {
		t.Errorf("expected 1 request, got %d", len(fake.requests))
	}

	var malformed *MalformedResponseError
	if !errors.As(err, &malformed) {
		t.Fatal("expected MalformedResponseError wrapper")
	}
	if malformed.RawPayload == "" {
		t.Error("raw payload must be attached for manual review")
	}
}

func TestExtractDocumentStrictMode(t *testing.T) {
	fake := &fakeInference{
		handler: func(n int, req inference.Request) (int, string) {
			return http.StatusOK, `{"student":{"name":"박지후"}}`
		},
	}
	extractor := newTestExtractor(t, fake, 3)

	doc := &LoadedDocument{PageCount: 1, Chunks: []PageChunk{{Page: 1, Text: "..."}}}

	if _, err := extractor.ExtractDocument(context.Background(), doc, true); err != nil {
		t.Fatalf("ExtractDocument failed: %v", err)
	}

	systemPrompt := fake.requests[0].Messages[0].Content
	if !strings.Contains(systemPrompt, "STRICT MODE") {
		t.Error("strict extraction must use the adjusted prompt")
	}

	if fake.requests[0].ResponseFormat == nil || fake.requests[0].ResponseFormat.Type != "json_object" {
		t.Error("extraction requests must ask for JSON output")
	}
}

func TestExtractDocumentCancelled(t *testing.T) {
	fake := &fakeInference{
		handler: func(n int, req inference.Request) (int, string) {
			return http.StatusInternalServerError, ""
		},
	}
	extractor := newTestExtractor(t, fake, 3)

	ctx, cancel := context.WithCancel(context.Background())
	doc := &LoadedDocument{PageCount: 1, Chunks: []PageChunk{{Page: 1, Text: "..."}}}

	done := make(chan error, 1)
	go func() {
		_, err := extractor.ExtractDocument(ctx, doc, false)
		done <- err
	}()

	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("extraction did not stop after cancellation")
	}
}

func TestMergeExtractionIdentityFirstWins(t *testing.T) {
	dst := &RawExtraction{Student: map[string]any{"name": "김민준"}}
	src := &RawExtraction{Student: map[string]any{"name": "다른사람", "gender": "남"}}

	mergeExtraction(dst, src)

	if dst.Student["name"] != "김민준" {
		t.Errorf("first identity value must win, got %v", dst.Student["name"])
	}
	if dst.Student["gender"] != "남" {
		t.Errorf("new identity fields must fill in, got %v", dst.Student["gender"])
	}
}

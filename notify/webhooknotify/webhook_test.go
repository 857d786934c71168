package webhooknotify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/justapithecus/cascadewatch/notify"
)

func TestPublishSucceedsOnFirstAttempt(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	adapter := New(Config{URL: srv.URL})
	err := adapter.Publish(context.Background(), &notify.RunCompletedEvent{RunID: "run_1"})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestPublishRetriesOnServerError(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n < 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	adapter := New(Config{URL: srv.URL, Retries: 2})
	err := adapter.Publish(context.Background(), &notify.RunCompletedEvent{RunID: "run_2"})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls (1 fail + 1 success), got %d", calls)
	}
}

func TestPublishDoesNotRetryClientError(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	adapter := New(Config{URL: srv.URL, Retries: 3})
	if err := adapter.Publish(context.Background(), &notify.RunCompletedEvent{RunID: "run_3"}); err == nil {
		t.Fatalf("expected error for 400 response")
	}
	if calls != 1 {
		t.Fatalf("expected no retries on 4xx, got %d calls", calls)
	}
}

package gateway

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestConcurrency_ShedsWhenSaturated(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(entered)
		<-release
		w.WriteHeader(http.StatusOK)
	})

	rejected := 0
	h := Concurrency(ConcurrencyOptions{
		Max:            1,
		AcquireTimeout: 20 * time.Millisecond,
		OnRejected:     func() { rejected++ },
	})(next)

	done := make(chan *httptest.ResponseRecorder)
	go func() {
		r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		done <- w
	}()
	<-entered

	// slot is occupied; this one times out acquiring
	r2 := httptest.NewRequest(http.MethodGet, "http://example/", nil)
	w2 := httptest.NewRecorder()
	h.ServeHTTP(w2, r2)
	if w2.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 while saturated, got %d", w2.Code)
	}
	if rejected != 1 {
		t.Fatalf("OnRejected called %d times, want 1", rejected)
	}

	close(release)
	if w1 := <-done; w1.Code != http.StatusOK {
		t.Fatalf("first request: expected 200, got %d", w1.Code)
	}
}

func TestConcurrency_DisabledWhenMaxZero(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	h := Concurrency(ConcurrencyOptions{Max: 0})(next)

	r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("expected passthrough, got %d", w.Code)
	}
}

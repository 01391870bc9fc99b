package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu sync.Mutex
	m  map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{m: make(map[string][]byte)}
}

func (s *memStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.m[key]
	return v, ok, nil
}

func (s *memStore) Set(_ context.Context, key string, response []byte, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[key] = response
	return nil
}

func TestIdempotency(t *testing.T) {
	post := func(h http.Handler, key string) *httptest.ResponseRecorder {
		r := httptest.NewRequest("POST", "/topups", strings.NewReader(`{}`))
		if key != "" {
			r.Header.Set("Idempotency-Key", key)
		}
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		return w
	}

	t.Run("caches responses with implicit 200", func(t *testing.T) {
		calls := 0
		h := Idempotency(newMemStore(), time.Minute)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls++
			// no explicit WriteHeader
			w.Write([]byte(`{"data":{"code":"CUP1"}}`))
		}))

		first := post(h, "key1")
		assert.Equal(t, http.StatusOK, first.Code)

		second := post(h, "key1")
		assert.Equal(t, 1, calls)
		assert.Equal(t, "true", second.Header().Get("X-Idempotency-Replayed"))
		assert.Equal(t, first.Body.String(), second.Body.String())
	})

	t.Run("caches explicit success statuses", func(t *testing.T) {
		calls := 0
		h := Idempotency(newMemStore(), time.Minute)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls++
			w.WriteHeader(http.StatusCreated)
			w.Write([]byte(`{"data":{"code":"CUP2"}}`))
		}))

		post(h, "key2")
		replay := post(h, "key2")
		assert.Equal(t, 1, calls)
		assert.Equal(t, "true", replay.Header().Get("X-Idempotency-Replayed"))
	})

	t.Run("does not cache errors", func(t *testing.T) {
		calls := 0
		h := Idempotency(newMemStore(), time.Minute)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls++
			w.WriteHeader(http.StatusUnprocessableEntity)
		}))

		post(h, "key3")
		retry := post(h, "key3")
		assert.Equal(t, 2, calls)
		assert.Empty(t, retry.Header().Get("X-Idempotency-Replayed"))
	})

	t.Run("requests without a key pass through", func(t *testing.T) {
		calls := 0
		h := Idempotency(newMemStore(), time.Minute)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls++
			w.Write([]byte(`{}`))
		}))

		post(h, "")
		post(h, "")
		assert.Equal(t, 2, calls)
	})

	t.Run("only mutating methods participate", func(t *testing.T) {
		store := newMemStore()
		calls := 0
		h := Idempotency(store, time.Minute)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls++
			w.Write([]byte(`{}`))
		}))

		for i := 0; i < 2; i++ {
			r := httptest.NewRequest("GET", "/wallet/accounts/me", nil)
			r.Header.Set("Idempotency-Key", "key4")
			w := httptest.NewRecorder()
			h.ServeHTTP(w, r)
		}
		assert.Equal(t, 2, calls)
		require.Empty(t, store.m)
	})
}

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/tbourn/go-docchat-rag/internal/cache"
)

func TestCacheAdmin(t *testing.T) {
	var removed string
	h := newHandlers(Deps{Cache: stubCacheSvc{
		clear:  func(context.Context) (int64, error) { return 4, nil },
		purge:  func(context.Context) (int64, error) { return 2, nil },
		stats:  func(context.Context) (cache.Stats, error) { return cache.Stats{Entries: 9}, nil },
		remove: func(_ context.Context, key string) error { removed = key; return nil },
	}})
	r := newTestRouter(h)

	cases := []struct {
		method, path string
		want         int64
	}{
		{http.MethodDelete, "/cache", 4},
		{http.MethodPost, "/cache/purge", 2},
	}
	for _, tc := range cases {
		w := doJSON(r, tc.method, tc.path, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("%s %s status=%d", tc.method, tc.path, w.Code)
		}
		var resp RemovedResponse
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil || resp.Removed != tc.want {
			t.Fatalf("%s %s body=%s", tc.method, tc.path, w.Body.String())
		}
	}

	w := doJSON(r, http.MethodGet, "/cache/stats", nil)
	var st cache.Stats
	if err := json.Unmarshal(w.Body.Bytes(), &st); err != nil || st.Entries != 9 {
		t.Fatalf("stats body=%s", w.Body.String())
	}

	if w = doJSON(r, http.MethodDelete, "/cache/abc123", nil); w.Code != http.StatusNoContent || removed != "abc123" {
		t.Fatalf("remove status=%d key=%q", w.Code, removed)
	}
}

func TestCacheAdmin_BackendErrors(t *testing.T) {
	down := &cache.UnavailableError{Op: "clear", Err: errors.New("connection refused")}
	cases := []struct {
		name string
		err  error
		want int
		code string
	}{
		{"unavailable", down, http.StatusServiceUnavailable, ErrCodeCacheUnavailable},
		{"other", errors.New("boom"), http.StatusInternalServerError, ErrCodeInternal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHandlers(Deps{Cache: stubCacheSvc{
				clear:  func(context.Context) (int64, error) { return 0, tc.err },
				remove: func(context.Context, string) error { return tc.err },
			}})
			r := newTestRouter(h)
			for _, path := range []string{"/cache", "/cache/k"} {
				if w := doJSON(r, http.MethodDelete, path, nil); w.Code != tc.want {
					t.Fatalf("%s status=%d want %d", path, w.Code, tc.want)
				}
			}
			if got := errCode(t, doJSON(r, http.MethodDelete, "/cache", nil)); got != tc.code {
				t.Fatalf("code=%q want %q", got, tc.code)
			}
		})
	}
}

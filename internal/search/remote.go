package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// RemoteSearcher queries an external similarity service over HTTP. The
// service receives
//
//	POST {URL}  {"query": "...", "match_threshold": 0.5, "match_count": 5}
//
// and answers with a JSON array of {id, document_id, content, similarity,
// metadata}. A bare {"matches": [...]} envelope is also accepted.
type RemoteSearcher struct {
	url    string
	apiKey string
	client *http.Client
}

// RemoteConfig configures a RemoteSearcher.
type RemoteConfig struct {
	URL     string
	APIKey  string
	Timeout time.Duration
}

// NewRemoteSearcher returns a client for cfg.URL.
func NewRemoteSearcher(cfg RemoteConfig) *RemoteSearcher {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &RemoteSearcher{
		url:    strings.TrimRight(cfg.URL, "/"),
		apiKey: cfg.APIKey,
		client: &http.Client{Timeout: timeout},
	}
}

type remoteRequest struct {
	Query          string  `json:"query"`
	MatchThreshold float64 `json:"match_threshold"`
	MatchCount     int     `json:"match_count"`
}

// Search implements Searcher.
func (s *RemoteSearcher) Search(ctx context.Context, query string, threshold float64, count int) ([]Match, error) {
	data, err := json.Marshal(remoteRequest{Query: query, MatchThreshold: threshold, MatchCount: count})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read search response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("search service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var matches []Match
	if err := json.Unmarshal(body, &matches); err != nil {
		var env struct {
			Matches []Match `json:"matches"`
		}
		if err2 := json.Unmarshal(body, &env); err2 != nil {
			return nil, fmt.Errorf("decode search response: %w", err)
		}
		matches = env.Matches
	}

	out := matches[:0]
	for _, m := range matches {
		if m.Similarity >= threshold {
			out = append(out, m)
		}
	}
	if count > 0 && len(out) > count {
		out = out[:count]
	}
	return out, nil
}

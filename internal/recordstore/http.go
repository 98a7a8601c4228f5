package recordstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/opsboard/opsboard-analytics/internal/metrics"
)

// HTTPStore queries a remote table API: POST {baseURL}/tables/{table}/query
// with a JSON Query body, answered by a JSON Page.
type HTTPStore struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
}

// NewHTTPStore builds a client with the given request timeout.
func NewHTTPStore(baseURL, apiKey string, timeout time.Duration) *HTTPStore {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPStore{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		Client:  &http.Client{Timeout: timeout},
	}
}

func (s *HTTPStore) Query(ctx context.Context, table string, q Query) (*Page, error) {
	if strings.TrimSpace(s.BaseURL) == "" {
		return nil, errors.New("record store url not configured")
	}
	for _, f := range q.Filters {
		if err := validateFilter(f); err != nil {
			return nil, err
		}
	}
	start := time.Now()
	defer func() {
		metrics.RecordQueryDuration.WithLabelValues("http").Observe(time.Since(start).Seconds())
	}()

	payload, err := json.Marshal(q)
	if err != nil {
		return nil, fmt.Errorf("encode query: %w", err)
	}
	url := s.BaseURL + "/tables/" + table + "/query"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.APIKey)
	}

	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", table, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("query %s: status %d: %s", table, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	var page Page
	if err := dec.Decode(&page); err != nil {
		return nil, fmt.Errorf("decode %s page: %w", table, err)
	}
	return &page, nil
}

package provider

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

// MultiClient fails over between provider endpoints. The current endpoint is
// replaced after failThreshold consecutive failures.
type MultiClient struct {
	clients       []*HTTPClient
	index         int
	failCount     int
	failThreshold int
	mu            sync.Mutex
}

func NewMultiClient(endpoints []string, apiKey string, timeout time.Duration, failThreshold int) (*MultiClient, error) {
	list := sanitizeEndpoints(endpoints)
	if len(list) == 0 {
		return nil, errors.New("provider endpoints is empty")
	}
	if failThreshold <= 0 {
		failThreshold = 3
	}
	clients := make([]*HTTPClient, 0, len(list))
	for _, ep := range list {
		clients = append(clients, NewHTTPClient(ep, apiKey, timeout))
	}
	return &MultiClient{
		clients:       clients,
		failThreshold: failThreshold,
	}, nil
}

func (m *MultiClient) BaseURL() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clients[m.index].baseURL
}

func (m *MultiClient) Initiate(ctx context.Context, req InitiateRequest) (string, error) {
	return withFailover(m, func(c *HTTPClient) (string, error) {
		return c.Initiate(ctx, req)
	})
}

func (m *MultiClient) QueryStatus(ctx context.Context, providerPaymentID string) (Status, error) {
	return withFailover(m, func(c *HTTPClient) (Status, error) {
		return c.QueryStatus(ctx, providerPaymentID)
	})
}

// withFailover tries each endpoint at most once per call, starting at the
// current one. Requests the provider rejected outright are returned without
// touching other endpoints.
func withFailover[T any](m *MultiClient, call func(*HTTPClient) (T, error)) (T, error) {
	var (
		zero    T
		lastErr error
	)
	start := m.currentIndex()
	for attempts := 0; attempts < len(m.clients); attempts++ {
		idx := (start + attempts) % len(m.clients)
		out, err := call(m.clients[idx])
		if err == nil {
			m.resetFailures(idx)
			return out, nil
		}
		lastErr = err
		if !IsTemporary(err) {
			return zero, err
		}
		m.noteFailure(idx)
	}
	return zero, lastErr
}

func (m *MultiClient) currentIndex() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.index
}

func (m *MultiClient) resetFailures(idx int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.index == idx {
		m.failCount = 0
	}
}

// noteFailure counts a failure against the current endpoint and moves on once
// the threshold is reached.
func (m *MultiClient) noteFailure(idx int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.index != idx {
		return
	}
	m.failCount++
	if m.failCount >= m.failThreshold {
		m.index = (m.index + 1) % len(m.clients)
		m.failCount = 0
	}
}

func sanitizeEndpoints(endpoints []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(endpoints))
	for _, ep := range endpoints {
		ep = strings.TrimSpace(ep)
		if ep == "" {
			continue
		}
		ep = strings.TrimRight(ep, "/")
		if _, ok := seen[ep]; ok {
			continue
		}
		seen[ep] = struct{}{}
		out = append(out, ep)
	}
	return out
}

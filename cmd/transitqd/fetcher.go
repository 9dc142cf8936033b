package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/citytransit/transitq/refresh"
)

// feedSource fetches one feed from a URL or a local file path. Local
// paths make development against downloaded feeds trivial.
type feedSource struct {
	urlOrPath string
	timeout   time.Duration
	client    *http.Client
}

func newFeedSource(urlOrPath string, timeout time.Duration) refresh.Source {
	return &feedSource{
		urlOrPath: urlOrPath,
		timeout:   timeout,
		client:    &http.Client{Timeout: timeout},
	}
}

func (s *feedSource) Fetch(ctx context.Context) ([]byte, error) {
	if !strings.HasPrefix(s.urlOrPath, "http://") && !strings.HasPrefix(s.urlOrPath, "https://") {
		return os.ReadFile(s.urlOrPath)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.urlOrPath, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", s.urlOrPath, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d from %s", resp.StatusCode, s.urlOrPath)
	}
	return io.ReadAll(resp.Body)
}

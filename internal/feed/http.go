package feed

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"patternboard/internal/model"
)

// SeedPath is the REST path serving the seed snapshot.
const SeedPath = "/api/seed"

// HTTPSnapshot fetches the seed series from GET {BaseURL}/api/seed.
type HTTPSnapshot struct {
	BaseURL string
	httpc   http.Client
}

// Ensure HTTPSnapshot implements the SnapshotSource interface.
var _ model.SnapshotSource = (*HTTPSnapshot)(nil)

// NewHTTPSnapshot instantiates an HTTP seed source.
func NewHTTPSnapshot(baseURL string) *HTTPSnapshot {
	return &HTTPSnapshot{
		BaseURL: strings.TrimRight(baseURL, "/"),
		httpc:   http.Client{Timeout: 10 * time.Second},
	}
}

// FetchSnapshot returns the seed candles. A response without a candle array
// yields (nil, nil): there is nothing to load.
func (h *HTTPSnapshot) FetchSnapshot(ctx context.Context) ([]model.Candle, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.BaseURL+SeedPath, nil)
	if err != nil {
		return nil, fmt.Errorf("building seed request: %w", err)
	}

	resp, err := h.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching seed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading seed body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching seed: unexpected status %d", resp.StatusCode)
	}

	candles, ok, err := ParseCandles(body)
	if err != nil {
		return nil, fmt.Errorf("parsing seed: %w", err)
	}
	if !ok {
		return nil, nil
	}
	return candles, nil
}

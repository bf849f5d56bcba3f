package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// userAgent identifies this bridge to the upstream source feed.
const userAgent = "BOILER"

// Client polls the upstream active-alerts endpoint. The poll request is the
// only upstream call and always carries an explicit timeout.
type Client struct {
	pollURL    string
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewClient creates a poll client for the given endpoint.
func NewClient(pollURL string, timeout time.Duration, logger zerolog.Logger) *Client {
	return &Client{
		pollURL: pollURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger.With().Str("component", "upstream").Logger(),
	}
}

// FetchActive retrieves the current batch of active alert records.
// Returns the decoded records, or an error on any transport, status, or
// decode failure; the caller treats a failed poll as an empty batch.
func (c *Client) FetchActive(ctx context.Context) ([]Record, error) {
	c.logger.Info().Str("url", c.pollURL).Msg("Polling for active alerts")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.pollURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create poll request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("poll request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected HTTP status %d from poll endpoint", resp.StatusCode)
	}

	var records []Record
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		return nil, fmt.Errorf("failed to parse poll response: %w", err)
	}

	c.logger.Debug().Int("alertCount", len(records)).Msg("Successfully fetched alerts")
	return records, nil
}

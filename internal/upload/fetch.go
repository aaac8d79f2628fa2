package upload

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/vitalstream/backend/internal/fault"
)

// fetchRemote downloads a manifest entry declared by URL instead of
// chunks. One fixed overall timeout covers the whole transfer.
func fetchRemote(ctx context.Context, url string, timeout time.Duration, maxBytes int64) ([]byte, error) {
	client := &http.Client{Timeout: timeout}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fault.Wrap(fault.Validation, err, "invalid source url %s", url)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fault.Wrap(fault.Transport, err, "download failed for %s", url)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fault.New(fault.Transport, "download failed for %s: %s", url, resp.Status)
	}

	data, err := readCapped(resp.Body, maxBytes)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", url, err)
	}
	return data, nil
}

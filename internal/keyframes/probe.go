package keyframes

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPProber checks media reachability with a HEAD request
type HTTPProber struct {
	client *http.Client
}

// NewHTTPProber creates a prober with the given timeout
func NewHTTPProber(timeout time.Duration) *HTTPProber {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPProber{client: &http.Client{Timeout: timeout}}
}

// Probe returns an error unless the origin answers HEAD with a non-error status.
// Origins that refuse HEAD are retried with a one-byte ranged GET.
func (p *HTTPProber) Probe(ctx context.Context, url string) error {
	status, err := p.do(ctx, http.MethodHead, url)
	if err != nil {
		return err
	}
	if status == http.StatusMethodNotAllowed || status == http.StatusNotImplemented {
		status, err = p.do(ctx, http.MethodGet, url)
		if err != nil {
			return err
		}
	}
	if status >= 400 {
		return fmt.Errorf("origin responded with status %d", status)
	}
	return nil
}

func (p *HTTPProber) do(ctx context.Context, method, url string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create probe request: %w", err)
	}
	if method == http.MethodGet {
		req.Header.Set("Range", "bytes=0-0")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("probe request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))

	return resp.StatusCode, nil
}

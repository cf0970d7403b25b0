package network

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

// DefaultHTTPClient creates an HTTP client tuned for parallel chunk uploads.
func DefaultHTTPClient() *http.Client {
	return &http.Client{
		// No timeout - a request only ends when the server answers or the
		// chunk's context is cancelled.
		Timeout: 0,
		Transport: &http.Transport{
			MaxIdleConns:        50,
			MaxConnsPerHost:     20,
			IdleConnTimeout:     10 * time.Second,
			TLSHandshakeTimeout: 5 * time.Second,
			Proxy:               http.ProxyFromEnvironment,
		},
	}
}

// UploadChunk sends the bytes of one chunk. Cancelling ctx aborts the request.
func (c *Client) UploadChunk(ctx context.Context, identifier string, index int, data []byte) error {
	url, err := AddParams(c.params.UploadURL, map[string]string{
		"identifier": identifier,
		"index":      strconv.Itoa(index),
	}, c.params.Query)
	if err != nil {
		return err
	}

	if c.limiter != nil {
		if err := waitBandwidth(ctx, c.limiter, len(data)); err != nil {
			return fmt.Errorf("wait for bandwidth: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	for k, v := range c.params.Header {
		req.Header.Set(k, v)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.ContentLength = int64(len(data))

	c.logger.Debugf("Uploading chunk %d (%d bytes)", index, len(data))

	resp, err := c.chunkClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("chunk upload cancelled: %w", ctx.Err())
		}
		return fmt.Errorf("do request: %w", err)
	}
	defer c.closeBody(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return unwrapError(resp)
	}

	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, resp.Body)

	return nil
}

// CloseIdleConnections closes idle connections of the chunk upload client.
func (c *Client) CloseIdleConnections() {
	c.chunkClient.CloseIdleConnections()
	c.httpClient.HTTPClient.CloseIdleConnections()
}

func waitBandwidth(ctx context.Context, limiter *rate.Limiter, n int) error {
	for n > 0 {
		step := min(n, limiter.Burst())
		if err := limiter.WaitN(ctx, step); err != nil {
			return err
		}
		n -= step
	}
	return nil
}

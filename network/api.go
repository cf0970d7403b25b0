// Package network talks to the three upload endpoints: verify (resume negotiation),
// chunk upload and merge.
package network

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/retryhttp"
	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/time/rate"
)

// ClientParams ...
type ClientParams struct {
	UploadURL string
	VerifyURL string
	MergeURL  string

	// Query is appended to every chunk upload URL.
	Query map[string]string
	// Header is sent with every request. Chunk uploads always use
	// application/octet-stream as content type.
	Header map[string]string

	// ChunkHTTPClient is used for chunk uploads. If nil, DefaultHTTPClient is used.
	ChunkHTTPClient *http.Client

	// MaxBytesPerSecond throttles chunk bodies. Zero means unlimited.
	MaxBytesPerSecond int64
}

// VerifyResponse is the server's answer to a resume negotiation.
type VerifyResponse struct {
	// NeedUpload is false when the server already stores the whole file.
	NeedUpload bool `json:"needUpload"`
	// UploadedChunks lists the chunk indices the server already has.
	UploadedChunks []int `json:"uploadedChunks"`
}

// StatusError is returned when an endpoint answers with an unexpected status code.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// Client implements the verify, upload and merge requests of an upload session.
type Client struct {
	httpClient  *retryablehttp.Client
	chunkClient *http.Client
	limiter     *rate.Limiter
	params      ClientParams
	logger      log.Logger
}

// NewClient creates a Client. Verify and merge requests are retried on transient
// failures; chunk uploads are sent exactly once per call.
func NewClient(params ClientParams, logger log.Logger) *Client {
	return newClient(retryhttp.NewClient(logger), params, logger)
}

func newClient(httpClient *retryablehttp.Client, params ClientParams, logger log.Logger) *Client {
	chunkClient := params.ChunkHTTPClient
	if chunkClient == nil {
		chunkClient = DefaultHTTPClient()
	}

	var limiter *rate.Limiter
	if params.MaxBytesPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(params.MaxBytesPerSecond), int(params.MaxBytesPerSecond))
	}

	return &Client{
		httpClient:  httpClient,
		chunkClient: chunkClient,
		limiter:     limiter,
		params:      params,
		logger:      logger,
	}
}

// Verify asks the server which chunks of identifier it already stores.
func (c *Client) Verify(ctx context.Context, identifier, fileName string) (VerifyResponse, error) {
	resp, err := c.get(ctx, c.params.VerifyURL, identifier, fileName)
	if err != nil {
		return VerifyResponse{}, err
	}
	defer c.closeBody(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return VerifyResponse{}, unwrapError(resp)
	}

	var response VerifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return VerifyResponse{}, fmt.Errorf("decode verify response: %w", err)
	}

	return response, nil
}

// Merge tells the server to assemble the uploaded chunks of identifier.
func (c *Client) Merge(ctx context.Context, identifier, fileName string) error {
	resp, err := c.get(ctx, c.params.MergeURL, identifier, fileName)
	if err != nil {
		return err
	}
	defer c.closeBody(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return unwrapError(resp)
	}

	return nil
}

func (c *Client) get(ctx context.Context, endpoint, identifier, fileName string) (*http.Response, error) {
	url, err := AddParams(endpoint, map[string]string{
		"identifier": identifier,
		"fileName":   fileName,
	})
	if err != nil {
		return nil, err
	}

	req, err := retryablehttp.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req = req.WithContext(ctx)
	for k, v := range c.params.Header {
		req.Header.Set(k, v)
	}

	dump, err := httputil.DumpRequest(req.Request, false)
	if err != nil {
		c.logger.Warnf("error while dumping request: %s", err)
	}
	c.logger.Debugf("Request dump: %s", string(dump))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}

	return resp, nil
}

func (c *Client) closeBody(body io.ReadCloser) {
	if err := body.Close(); err != nil {
		c.logger.Printf("%s", err)
	}
}

func unwrapError(resp *http.Response) error {
	errorResp, err := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if err != nil {
		return err
	}
	return &StatusError{StatusCode: resp.StatusCode, Body: string(errorResp)}
}

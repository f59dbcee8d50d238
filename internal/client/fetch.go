// Package client is the consuming side of a preview: it fetches a token's
// overrides, keeps them in a preview.Session and merges realtime pushes.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"preview/api/internal/preview"
)

// maxBodyBytes bounds a preview-data response.
const maxBodyBytes = 4 << 20

// ErrBodyTooLarge is wrapped by the FetchError for an oversized response.
var ErrBodyTooLarge = errors.New("response body too large")

// Fetcher loads preview data from the API.
type Fetcher struct {
	baseURL string
	client  *http.Client
}

// NewFetcher returns a Fetcher for the API at baseURL. If client is nil, a
// default client with a 10s timeout is used.
func NewFetcher(baseURL string, client *http.Client) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Fetcher{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

// Fetch returns the raw preview-data body for token. Failures are
// *preview.FetchError; the body is not validated here.
func (f *Fetcher) Fetch(ctx context.Context, token string) ([]byte, error) {
	endpoint := f.baseURL + "/preview-data/" + url.PathEscape(token)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &preview.FetchError{Message: err.Error(), Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &preview.FetchError{Message: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if err != nil {
		return nil, &preview.FetchError{Status: resp.StatusCode, Message: err.Error(), Err: err}
	}
	if len(body) > maxBodyBytes {
		return nil, &preview.FetchError{Status: resp.StatusCode, Message: "preview data exceeds size limit", Err: ErrBodyTooLarge}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &preview.FetchError{Status: resp.StatusCode, Message: errorMessage(resp.StatusCode, body)}
	}
	return body, nil
}

// StreamURL is the websocket address of token's push stream.
func (f *Fetcher) StreamURL(token string) (string, error) {
	parsed, err := url.Parse(f.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch parsed.Scheme {
	case "https":
		parsed.Scheme = "wss"
	case "http":
		parsed.Scheme = "ws"
	default:
		return "", errors.New("base url must be http or https")
	}
	parsed.Path = strings.TrimRight(parsed.Path, "/") + "/api/preview/" + url.PathEscape(token) + "/stream"
	return parsed.String(), nil
}

func errorMessage(status int, body []byte) string {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error != "" {
		return payload.Error
	}
	return http.StatusText(status)
}

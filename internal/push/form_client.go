package push

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultProviderTimeout = 20 * time.Second

type formResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// formClient posts url-encoded forms to an Android push endpoint. Exactly
// one attempt is made per call.
type formClient struct {
	endpoint   string
	httpClient *http.Client
	userAgent  string
}

func newFormClient(endpoint, fallback string, httpClient *http.Client, userAgent string) formClient {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		endpoint = fallback
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultProviderTimeout}
	}
	return formClient{
		endpoint:   endpoint,
		httpClient: httpClient,
		userAgent:  strings.TrimSpace(userAgent),
	}
}

func (c formClient) post(ctx context.Context, authorization string, values url.Values) (*formResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, strings.NewReader(values.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", authorization)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded;charset=UTF-8")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	body, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return nil, fmt.Errorf("read provider response: %w", readErr)
	}
	return &formResponse{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}, nil
}

// Package api issues requests to the analysis service and normalizes every
// failure into a RequestError.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	"github.com/pitchy/client/auth"
	"github.com/pitchy/client/logger"
)

const defaultTimeout = 30 * time.Second

type Client struct {
	baseURL    string
	httpClient *http.Client
	jar        http.CookieJar
}

type Option func(*Client)

// WithHTTPClient replaces the underlying client. Its Jar must be nil: cookies
// are attached per request according to the credential.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithCookieJar sets where session cookies are kept between requests.
func WithCookieJar(jar http.CookieJar) Option {
	return func(c *Client) { c.jar = jar }
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.jar == nil {
		c.jar, _ = cookiejar.New(nil)
	}
	return c
}

func (c *Client) BaseURL() string { return c.baseURL }

func allowsBody(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodDelete:
		return false
	default:
		return true
	}
}

// Do sends one request and decodes a successful JSON response into T.
//
// A Bearer credential is sent as an Authorization header. A CookieSession
// credential sends the stored session cookies and no header. None sends
// neither. Cookies set by any response are stored regardless of credential so
// that login responses establish the session.
func Do[T any](ctx context.Context, c *Client, method, path string, body any, cred auth.Credential) (T, error) {
	var result T
	log := logger.NewRequestLogger().With("method", method, "path", path, "credential", cred.String())

	var reader io.Reader
	if body != nil && allowsBody(method) {
		data, err := json.Marshal(body)
		if err != nil {
			return result, transportError(fmt.Errorf("encode request: %w", err))
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return result, transportError(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	switch cred.Kind() {
	case auth.KindBearer:
		req.Header.Set("Authorization", "Bearer "+cred.Token())
	case auth.KindCookieSession:
		for _, cookie := range c.jar.Cookies(req.URL) {
			req.AddCookie(cookie)
		}
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Warn("request failed", "kind", KindTransport, "error", err)
		return result, transportError(err)
	}
	defer resp.Body.Close()

	if cookies := resp.Cookies(); len(cookies) > 0 {
		c.jar.SetCookies(req.URL, cookies)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Warn("failed to read response", "kind", KindTransport, "status", resp.StatusCode, "error", err)
		return result, transportError(fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		reqErr := applicationError(resp.StatusCode, data)
		log.Warn("request rejected", "kind", KindApplication, "status", resp.StatusCode, "detail", reqErr.Message)
		return result, reqErr
	}

	log.Debug("request completed", "status", resp.StatusCode, "duration", time.Since(start))

	if len(bytes.TrimSpace(data)) == 0 {
		return result, nil
	}
	if err := json.Unmarshal(data, &result); err != nil {
		log.Warn("failed to decode response", "kind", KindTransport, "status", resp.StatusCode, "error", err)
		return result, &RequestError{
			Message: DefaultErrorMessage,
			Status:  resp.StatusCode,
			Kind:    KindTransport,
			Err:     fmt.Errorf("decode response: %w", err),
		}
	}
	return result, nil
}

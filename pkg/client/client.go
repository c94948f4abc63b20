// Package client provides the HTTP client for the BINA cloud API: sign-in,
// project listing, the discipline listing and clash report upload.
// The client never retries; one failed call is one reported *Error.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/bina/bimsync/internal/listing"
	"github.com/bina/bimsync/internal/logging"
	"github.com/bina/bimsync/internal/metrics"
	"github.com/bina/bimsync/pkg/models"
	"github.com/bina/bimsync/pkg/protocol"
)

const (
	// DefaultUserAgent is the fixed client identifier sent on every request.
	DefaultUserAgent = "NavisBinaSync/1.0"

	// ProxyBypassHeader skips the interstitial page of the tunnelling proxy
	// used by development servers.
	ProxyBypassHeader = "ngrok-skip-browser-warning"

	maxBodyLog = 2 << 10
)

// Client talks to the BINA cloud API.
type Client struct {
	baseURL          string
	httpClient       *http.Client
	uploadClient     *http.Client
	userAgent        string
	skipProxyWarning bool
}

// Config holds client configuration.
type Config struct {
	BaseURL          string
	Timeout          time.Duration // listing and metadata calls
	UploadTimeout    time.Duration // report upload
	UserAgent        string
	SkipProxyWarning bool
	// Transport overrides the default transport (tests).
	Transport http.RoundTripper
}

// New creates a new client.
func New(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.UploadTimeout == 0 {
		cfg.UploadTimeout = 5 * time.Minute
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	transport := cfg.Transport
	if transport == nil {
		transport = &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:        10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		}
	}

	return &Client{
		baseURL:          strings.TrimRight(cfg.BaseURL, "/"),
		httpClient:       &http.Client{Timeout: cfg.Timeout, Transport: transport},
		uploadClient:     &http.Client{Timeout: cfg.UploadTimeout, Transport: transport},
		userAgent:        cfg.UserAgent,
		skipProxyWarning: cfg.SkipProxyWarning,
	}
}

// BaseURL returns the API base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// ApplyHeaders sets the client identifier and proxy bypass headers.
func ApplyHeaders(req *http.Request, userAgent string, skipProxyWarning bool) {
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	req.Header.Set("User-Agent", userAgent)
	if skipProxyWarning {
		req.Header.Set(ProxyBypassHeader, "true")
	}
}

func (c *Client) newRequest(ctx context.Context, method, path, token string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	ApplyHeaders(req, c.userAgent, c.skipProxyWarning)
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

// do sends req and classifies the outcome. On success the caller owns the
// response body; on failure it has been closed.
func (c *Client) do(hc *http.Client, op string, req *http.Request) (*http.Response, error) {
	start := time.Now()
	log := logging.WithContext(req.Context())

	resp, err := hc.Do(req)
	if err != nil {
		metrics.RecordAPIRequest(op, KindTransport.String(), time.Since(start))
		log.Debug("api request failed",
			logging.String("op", op),
			logging.String("url", req.URL.Redacted()),
			logging.Err(err),
		)
		return nil, NewError(KindTransport, op, err)
	}

	log.Debug("api response",
		logging.String("op", op),
		logging.Int("status", resp.StatusCode),
		logging.Duration("duration", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		e := StatusError(op, resp)
		metrics.RecordAPIRequest(op, e.Kind.String(), time.Since(start))
		return nil, e
	}

	metrics.RecordAPIRequest(op, "ok", time.Since(start))
	return resp, nil
}

// decodeBody reads the whole body and decodes it into out, mapping any
// failure to KindMalformed.
func decodeBody(ctx context.Context, op string, resp *http.Response, out any) error {
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return NewError(KindTransport, op, fmt.Errorf("read body: %w", err))
	}

	logging.WithContext(ctx).Debug("api response body",
		logging.String("op", op),
		logging.String("body", clip(data, maxBodyLog)),
	)

	if err := json.Unmarshal(data, out); err != nil {
		return NewError(KindMalformed, op, err)
	}
	return nil
}

// Login signs in with email and password. Every non-2xx answer and every
// 2xx answer without a usable access token is KindInvalidCredentials.
func (c *Client) Login(ctx context.Context, email, password string) (*protocol.LoginResponse, error) {
	const op = "login"

	body, err := json.Marshal(protocol.LoginRequest{
		Email:      email,
		Password:   password,
		RememberMe: true,
	})
	if err != nil {
		return nil, NewError(KindMalformed, op, err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/api/auth/user/sign-in", "", bytes.NewReader(body))
	if err != nil {
		return nil, NewError(KindTransport, op, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.do(c.httpClient, op, req)
	if err != nil {
		if e, ok := AsError(err); ok && e.Kind != KindTransport {
			e.Kind = KindInvalidCredentials
		}
		return nil, err
	}

	var result protocol.LoginResponse
	if err := decodeBody(ctx, op, resp, &result); err != nil {
		return nil, &Error{Kind: KindInvalidCredentials, Op: op, Err: errors.Unwrap(err)}
	}
	if result.AccessToken == "" {
		return nil, &Error{Kind: KindInvalidCredentials, Op: op, StatusCode: resp.StatusCode, Message: "no access token in response"}
	}

	return &result, nil
}

// FetchUserProjects lists the projects visible to the token's user.
func (c *Client) FetchUserProjects(ctx context.Context, accessToken string) ([]models.ProjectRef, error) {
	const op = "fetch_projects"

	req, err := c.newRequest(ctx, http.MethodGet, "/api/cloud-docs/bim-discipline/user/projects", accessToken, nil)
	if err != nil {
		return nil, NewError(KindTransport, op, err)
	}

	resp, err := c.do(c.httpClient, op, req)
	if err != nil {
		return nil, err
	}

	var result protocol.ProjectsResponse
	if err := decodeBody(ctx, op, resp, &result); err != nil {
		return nil, err
	}
	return result.Projects, nil
}

// FetchDisciplineListing fetches the latest shared file of every discipline
// of a project.
func (c *Client) FetchDisciplineListing(ctx context.Context, projectID int, accessToken string) (*listing.DisciplineListing, error) {
	const op = "fetch_listing"

	path := fmt.Sprintf("/api/cloud-docs/bim-discipline/project/%d/latest-shared-urls", projectID)
	req, err := c.newRequest(ctx, http.MethodGet, path, accessToken, nil)
	if err != nil {
		return nil, NewError(KindTransport, op, err)
	}

	resp, err := c.do(c.httpClient, op, req)
	if err != nil {
		return nil, err
	}

	var result listing.DisciplineListing
	if err := decodeBody(ctx, op, resp, &result); err != nil {
		return nil, err
	}

	for _, label := range listing.Order {
		_, present := result.Get(label)
		logging.WithContext(ctx).Debug("parsed discipline",
			logging.String("discipline", label),
			logging.Any("present", present),
		)
	}
	return &result, nil
}

func clip(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "...(truncated)"
}

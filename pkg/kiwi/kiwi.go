// Package kiwi is a client for the Electric Kiwi "Juice Hacker" API.
package kiwi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/kiwiwatt/kiwiwatt/pkg/log"
	"github.com/kiwiwatt/kiwiwatt/pkg/types"
)

// DefaultBaseURL is the production API.
const DefaultBaseURL = "https://api.electrickiwi.co.nz"

// API is the subset of the Electric Kiwi API the integration uses.
type API interface {
	// GetActiveSession returns the customer and services behind the token.
	GetActiveSession(ctx context.Context) (types.Session, error)

	// GetAccountBalance returns the running balance for the customer.
	GetAccountBalance(ctx context.Context, customerNumber string) (types.AccountBalance, error)

	// GetHOP returns the selected Hour of Power for a connection.
	GetHOP(ctx context.Context, customerNumber, connectionID string) (types.HOP, error)

	// GetHOPIntervals returns every selectable Hour of Power window.
	GetHOPIntervals(ctx context.Context) (types.HOPIntervals, error)

	// SetHOP selects a new Hour of Power window by interval id.
	SetHOP(ctx context.Context, customerNumber, connectionID, interval string) (types.HOP, error)
}

// APIError is returned when the API responds with an error.
type APIError struct {
	StatusCode int
	Code       string
	Detail     string
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("electric kiwi api error (status %d, code %s): %s", e.StatusCode, e.Code, e.Detail)
	}
	return fmt.Sprintf("electric kiwi api error (status %d)", e.StatusCode)
}

// IsAPIError reports whether err is or wraps an *APIError.
func IsAPIError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr)
}

// Client implements API over HTTP. The http.Client is expected to add the
// bearer token, usually by being built with oauth2.NewClient.
type Client struct {
	baseURL string
	client  *http.Client
}

var _ API = (*Client)(nil)

// NewClient returns a client for baseURL. An empty baseURL means
// DefaultBaseURL.
func NewClient(baseURL string, client *http.Client) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL: baseURL,
		client:  client,
	}
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code   string `json:"code"`
		Detail string `json:"detail"`
	} `json:"error"`
}

// GetActiveSession implements API.
func (c *Client) GetActiveSession(ctx context.Context) (types.Session, error) {
	var s types.Session
	if err := c.do(ctx, http.MethodGet, "session/", nil, &s); err != nil {
		return types.Session{}, fmt.Errorf("failed to get session: %w", err)
	}
	return s, nil
}

// GetAccountBalance implements API.
func (c *Client) GetAccountBalance(ctx context.Context, customerNumber string) (types.AccountBalance, error) {
	var b types.AccountBalance
	endpoint := "account/running_balance/" + url.PathEscape(customerNumber) + "/"
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &b); err != nil {
		return types.AccountBalance{}, fmt.Errorf("failed to get account balance: %w", err)
	}
	log.Ctx(ctx).DebugContext(
		ctx,
		"got account balance",
		slog.String("totalRunningBalance", b.TotalRunningBalance),
		slog.String("nextBillingDate", b.NextBillingDate),
	)
	return b, nil
}

func hopPath(customerNumber, connectionID string) string {
	return "hop/" + url.PathEscape(customerNumber) + "/" + url.PathEscape(connectionID) + "/"
}

// GetHOP implements API.
func (c *Client) GetHOP(ctx context.Context, customerNumber, connectionID string) (types.HOP, error) {
	var h types.HOP
	if err := c.do(ctx, http.MethodGet, hopPath(customerNumber, connectionID), nil, &h); err != nil {
		return types.HOP{}, fmt.Errorf("failed to get hop: %w", err)
	}
	log.Ctx(ctx).DebugContext(
		ctx,
		"got hop",
		slog.String("start", h.Start.StartTime),
		slog.String("end", h.End.EndTime),
	)
	return h, nil
}

// GetHOPIntervals implements API.
func (c *Client) GetHOPIntervals(ctx context.Context) (types.HOPIntervals, error) {
	var h types.HOPIntervals
	if err := c.do(ctx, http.MethodGet, "hop/", nil, &h); err != nil {
		return types.HOPIntervals{}, fmt.Errorf("failed to get hop intervals: %w", err)
	}
	return h, nil
}

// SetHOP implements API.
func (c *Client) SetHOP(ctx context.Context, customerNumber, connectionID, interval string) (types.HOP, error) {
	if interval == "" {
		return types.HOP{}, errors.New("missing hop interval")
	}
	body := map[string]string{"start": interval}
	var h types.HOP
	if err := c.do(ctx, http.MethodPost, hopPath(customerNumber, connectionID), body, &h); err != nil {
		return types.HOP{}, fmt.Errorf("failed to set hop: %w", err)
	}
	log.Ctx(ctx).InfoContext(ctx, "hop updated", slog.String("interval", interval), slog.String("start", h.Start.StartTime))
	return h, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, dest any) error {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return fmt.Errorf("invalid api url: %w", err)
	}
	u.Path, err = url.JoinPath(u.Path, endpoint)
	if err != nil {
		return err
	}
	// the API wants the trailing slash that JoinPath strips
	if strings.HasSuffix(endpoint, "/") && !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}

	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	log.Ctx(ctx).DebugContext(ctx, "electric kiwi request", slog.String("method", method), slog.String("url", u.String()))
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	var env envelope
	decodeErr := json.Unmarshal(respBody, &env)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if decodeErr == nil && env.Error != nil {
			apiErr.Code = env.Error.Code
			apiErr.Detail = env.Error.Detail
		}
		return apiErr
	}
	if decodeErr != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to decode electric kiwi response", slog.Any("error", decodeErr), slog.String("body", string(respBody)))
		return fmt.Errorf("failed to decode response: %w", decodeErr)
	}
	if env.Error != nil {
		return &APIError{StatusCode: resp.StatusCode, Code: env.Error.Code, Detail: env.Error.Detail}
	}
	if dest != nil {
		if len(env.Data) == 0 {
			return errors.New("response missing data")
		}
		if err := json.Unmarshal(env.Data, dest); err != nil {
			return fmt.Errorf("failed to decode data: %w", err)
		}
	}
	return nil
}

// Package hass talks to a Home Assistant instance over its REST API.
package hass

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
	"time"

	"github.com/levenlabs/go-lflag"

	"github.com/kiwiwatt/kiwiwatt/pkg/common"
	"github.com/kiwiwatt/kiwiwatt/pkg/log"
	"github.com/kiwiwatt/kiwiwatt/pkg/sensor"
)

// StateUnavailable is published for sensors without a value.
const StateUnavailable = "unavailable"

var ErrEntityNotFound = errors.New("entity not found")

// State is an entity state as returned by Home Assistant.
type State struct {
	EntityID    string         `json:"entity_id"`
	State       string         `json:"state"`
	Attributes  map[string]any `json:"attributes"`
	LastChanged time.Time      `json:"last_changed"`
	LastUpdated time.Time      `json:"last_updated"`
}

// Client is a Home Assistant REST client authenticated with a long-lived
// access token.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
}

// Configured registers the Home Assistant flags.
func Configured() *Client {
	baseURL := lflag.String("hass-url", "", "Home Assistant base URL (e.g. http://homeassistant.local:8123), publishing is disabled when empty")
	token := lflag.String("hass-token", "", "Home Assistant long-lived access token")

	c := &Client{client: common.HTTPClient(30 * time.Second)}
	lflag.Do(func() {
		c.baseURL = strings.TrimSuffix(*baseURL, "/")
		c.token = *token
		if c.baseURL != "" {
			if _, err := url.Parse(c.baseURL); err != nil {
				panic(fmt.Sprintf("failed to parse hass-url (%s): %v", c.baseURL, err))
			}
		}
	})
	return c
}

// NewClient returns a client for baseURL. A nil client uses
// common.HTTPClient.
func NewClient(baseURL, token string, client *http.Client) *Client {
	if client == nil {
		client = common.HTTPClient(30 * time.Second)
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		client:  client,
	}
}

// Enabled reports whether a Home Assistant URL is configured.
func (c *Client) Enabled() bool {
	return c != nil && c.baseURL != ""
}

// PublishState sets the state and attributes of entityID.
func (c *Client) PublishState(ctx context.Context, entityID, state string, attrs map[string]any) error {
	body := map[string]any{
		"state":      state,
		"attributes": attrs,
	}
	if err := c.do(ctx, http.MethodPost, "/api/states/"+entityID, body, nil); err != nil {
		return fmt.Errorf("failed to publish %s: %w", entityID, err)
	}
	return nil
}

// PublishSensor publishes a sensor as sensor.<object id>. Sensors without a
// value are published as unavailable.
func (c *Client) PublishSensor(ctx context.Context, s sensor.Entity) error {
	state, ok := s.State(ctx)
	if !ok {
		state = StateUnavailable
	}
	return c.PublishState(ctx, "sensor."+s.ObjectID(), state, s.Attributes())
}

// GetState returns the current state of entityID.
func (c *Client) GetState(ctx context.Context, entityID string) (State, error) {
	var st State
	if err := c.do(ctx, http.MethodGet, "/api/states/"+entityID, nil, &st); err != nil {
		return State{}, fmt.Errorf("failed to get state of %s: %w", entityID, err)
	}
	return st, nil
}

// CallService calls domain.service with data.
func (c *Client) CallService(ctx context.Context, domain, service string, data map[string]any) error {
	if data == nil {
		data = map[string]any{}
	}
	if err := c.do(ctx, http.MethodPost, "/api/services/"+domain+"/"+service, data, nil); err != nil {
		return fmt.Errorf("failed to call %s.%s: %w", domain, service, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, dest any) error {
	if !c.Enabled() {
		return errors.New("home assistant url not configured")
	}

	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	log.Ctx(ctx).DebugContext(ctx, "home assistant request", slog.String("method", method), slog.String("path", path))
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrEntityNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if dest != nil {
		if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

package clinicapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var (
	ErrNotFound    = errors.New("clinic api: not found")
	ErrUnavailable = errors.New("clinic api: unavailable")
)

type LocalizedString struct {
	En string `json:"en"`
	Ja string `json:"ja"`
	Zh string `json:"zh"`
}

type Clinic struct {
	ID      string          `json:"_id"`
	Name    LocalizedString `json:"name"`
	City    string          `json:"city"`
	Address LocalizedString `json:"address"`
	Phone   string          `json:"phone"`
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Code    string          `json:"code"`
}

// Client talks to the clinic directory REST service. The directory wraps payloads
// in {success, data, error}.
type Client struct {
	HTTPClient *http.Client
	BaseURL    string
}

func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		HTTPClient: &http.Client{Timeout: timeout},
		BaseURL:    baseURL,
	}
}

func (c *Client) GetClinic(ctx context.Context, id string) (*Clinic, error) {
	var out Clinic
	if err := c.doJSON(ctx, http.MethodGet, "/v1/clinics/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	if out.ID == "" {
		out.ID = id
	}
	return &out, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, reqBody any, respBody any) error {
	if c.BaseURL == "" {
		return fmt.Errorf("%w: missing base url", ErrUnavailable)
	}
	hc := c.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 5 * time.Second}
	}

	var buf bytes.Buffer
	if reqBody != nil {
		if err := json.NewEncoder(&buf).Encode(reqBody); err != nil {
			return err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: read body: %v", ErrUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: status=%d", ErrUnavailable, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return fmt.Errorf("clinic api error: status=%d body=%s", resp.StatusCode, string(b))
	}

	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return fmt.Errorf("%w: decode envelope: %v", ErrUnavailable, err)
	}
	if !env.Success {
		// Only an explicit not-found is authoritative; anything else may be transient.
		if env.Code == "NOT_FOUND" || strings.Contains(strings.ToLower(env.Error), "not found") {
			return fmt.Errorf("%w: %s", ErrNotFound, env.Error)
		}
		return fmt.Errorf("%w: %s", ErrUnavailable, env.Error)
	}
	if respBody != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, respBody); err != nil {
			return fmt.Errorf("%w: decode data: %v", ErrUnavailable, err)
		}
	}
	return nil
}

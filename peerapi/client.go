package peerapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/qupskd/qupskd/exchange"
)

// Client sends exchange messages to the counterpart's peer endpoint. It
// implements exchange.PeerClient.
type Client struct {
	// BaseURL is the counterpart's peer endpoint, e.g. http://peer:8454.
	BaseURL string

	Client *http.Client
}

// NewClient creates a peer client for the endpoint at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// RequestNew sends a REQUEST_NEW message and returns the responder's key
// identifier.
func (c *Client) RequestNew(ctx context.Context, relationship string) (string, error) {
	return c.request(ctx, relationship, "new")
}

// RequestRotate sends a REQUEST_ROTATE message and returns the responder's
// key identifier.
func (c *Client) RequestRotate(ctx context.Context, relationship string) (string, error) {
	return c.request(ctx, relationship, "rotate")
}

func (c *Client) request(ctx context.Context, relationship, kind string) (string, error) {
	reqURL := fmt.Sprintf("%s/api/v1/peer/%s/%s", c.BaseURL, url.PathEscape(relationship), kind)

	body, err := c.post(ctx, reqURL, nil)
	if err != nil {
		return "", err
	}

	var resp RequestResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("%w: could not parse peer response: %v", exchange.ErrTransport, err)
	}
	if resp.KeyID == "" {
		return "", fmt.Errorf("%w: peer response missing key identifier", exchange.ErrTransport)
	}
	return resp.KeyID, nil
}

// Confirm sends a CONFIRM message for the given generation.
func (c *Client) Confirm(ctx context.Context, relationship string, generation uint64) error {
	reqURL := fmt.Sprintf("%s/api/v1/peer/%s/confirm", c.BaseURL, url.PathEscape(relationship))

	payload, err := json.Marshal(ConfirmRequest{Generation: generation})
	if err != nil {
		return fmt.Errorf("could not encode confirmation: %w", err)
	}

	if _, err := c.post(ctx, reqURL, payload); err != nil {
		return err
	}
	return nil
}

// post performs one request and maps the response onto the exchange error
// taxonomy: 409 is a protocol violation (non-retryable for this round),
// anything else that is not a 200 is a transport failure.
func (c *Client) post(ctx context.Context, reqURL string, payload []byte) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, reqBody)
	if err != nil {
		return nil, fmt.Errorf("could not initialize request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if c.Client == nil {
		c.Client = http.DefaultClient
	}

	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", exchange.ErrTransport, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", exchange.ErrTransport, err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		return body, nil
	case http.StatusConflict:
		return nil, fmt.Errorf("%w: peer: %s", exchange.ErrProtocolViolation, string(body))
	default:
		return nil, fmt.Errorf("%w: peer returned %d: %s", exchange.ErrTransport, resp.StatusCode, string(body))
	}
}

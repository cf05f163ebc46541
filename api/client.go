package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/usernamenenad/bft-benor/impl/benor"
)

// Client talks to the control surface of one node.
type Client struct {
	addr  string
	httpc *http.Client
	codec *benor.Codec
}

func NewClient(addr string) *Client {
	return &Client{
		addr:  strings.TrimPrefix(addr, "http://"),
		httpc: &http.Client{Timeout: 30 * time.Second},
		codec: benor.NewCodec(),
	}
}

func (c *Client) url(path string) string {
	return "http://" + c.addr + path
}

// Status reports "faulty" from the 500 reply that faulty nodes send.
func (c *Client) Status(ctx context.Context) (benor.Status, error) {
	code, body, err := c.do(ctx, http.MethodGet, "/status", nil)
	if err != nil {
		return "", err
	}
	switch {
	case code == http.StatusOK:
		return benor.Status(body), nil
	case strings.TrimSpace(body) == string(benor.StatusFaulty):
		return benor.StatusFaulty, nil
	default:
		return "", fmt.Errorf("status: http %d: %s", code, body)
	}
}

func (c *Client) Start(ctx context.Context) error {
	return c.expectOK(ctx, http.MethodGet, "/start", nil)
}

func (c *Client) Stop(ctx context.Context) error {
	return c.expectOK(ctx, http.MethodGet, "/stop", nil)
}

func (c *Client) GetState(ctx context.Context) (benor.NodeState, error) {
	var st benor.NodeState
	code, body, err := c.do(ctx, http.MethodGet, "/getState", nil)
	if err != nil {
		return st, err
	}
	if code != http.StatusOK {
		return st, fmt.Errorf("getState: http %d: %s", code, body)
	}
	if err := json.Unmarshal([]byte(body), &st); err != nil {
		return st, fmt.Errorf("getState: %w", err)
	}
	return st, nil
}

func (c *Client) Deliver(ctx context.Context, msg *benor.Message) error {
	data, err := c.codec.Marshal(msg)
	if err != nil {
		return err
	}
	return c.expectOK(ctx, http.MethodPost, "/message", data)
}

// LastProposedValue returns ok=false when the node holds no value.
func (c *Client) LastProposedValue(ctx context.Context) (benor.Value, bool, error) {
	code, body, err := c.do(ctx, http.MethodGet, "/getMessage", nil)
	if err != nil {
		return benor.ValueUnknown, false, err
	}
	switch code {
	case http.StatusOK:
		var out valueReply
		if err := json.Unmarshal([]byte(body), &out); err != nil {
			return benor.ValueUnknown, false, fmt.Errorf("getMessage: %w", err)
		}
		return out.Value, true, nil
	case http.StatusNotFound:
		return benor.ValueUnknown, false, nil
	default:
		return benor.ValueUnknown, false, fmt.Errorf("getMessage: http %d: %s", code, body)
	}
}

func (c *Client) expectOK(ctx context.Context, method, path string, data []byte) error {
	code, body, err := c.do(ctx, method, path, data)
	if err != nil {
		return err
	}
	if code < 200 || code >= 300 {
		return fmt.Errorf("%s %s -> http %d: %s", method, c.url(path), code, body)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, data []byte) (int, string, error) {
	var rd io.Reader
	if data != nil {
		rd = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.url(path), rd)
	if err != nil {
		return 0, "", err
	}
	if data != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return resp.StatusCode, "", err
	}
	return resp.StatusCode, strings.TrimSpace(string(body)), nil
}

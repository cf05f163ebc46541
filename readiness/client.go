package readiness

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/usernamenenad/bft-benor/core"
)

// Client is a core.Readiness backed by a Registry served over HTTP.
type Client struct {
	baseURL string
	httpc   *http.Client
}

func NewClient(addr string) *Client {
	base := addr
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return &Client{
		baseURL: strings.TrimSuffix(base, "/"),
		httpc:   &http.Client{Timeout: 5 * time.Second},
	}
}

func (c *Client) SetReady(ctx context.Context, nodeId core.NodeId) error {
	url := fmt.Sprintf("%s/ready/%d", c.baseURL, nodeId)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return err
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("set ready %d: %w", nodeId, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 128))
		return fmt.Errorf("set ready %d: http %d: %s", nodeId, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

func (c *Client) AllReady(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/ready", nil)
	if err != nil {
		return false, err
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return false, fmt.Errorf("readiness: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("readiness: http %d", resp.StatusCode)
	}

	var out statusReply
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return false, fmt.Errorf("readiness: %w", err)
	}
	return out.All, nil
}

// Package bfthttp carries protocol messages as JSON POSTs to the /message
// endpoint of each peer's control surface.
package bfthttp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/usernamenenad/bft-benor/core"
)

const MessagePath = "/message"

// Codec serializes and deserializes messages for transport over the wire.
type Codec interface {
	Marshal(msg core.Message) ([]byte, error)
	Unmarshal(data []byte) (core.Message, error)
}

// AddressBook maps a node id to its host:port.
type AddressBook func(nodeId core.NodeId) string

// PortOffset places node i at host:basePort+i.
func PortOffset(host string, basePort int) AddressBook {
	return func(nodeId core.NodeId) string {
		return fmt.Sprintf("%s:%d", host, basePort+int(nodeId))
	}
}

// HTTPTransport implements core.Transport for a peer set of n nodes reachable
// through an AddressBook. Inbound messages from peers are handed to the engine by
// the control surface; the subscription channel only carries self-delivery.
type HTTPTransport struct {
	nodeId core.NodeId
	n      int
	addrs  AddressBook
	codec  Codec
	httpc  *http.Client

	msgCh chan core.Message

	logger *slog.Logger
}

func NewHTTPTransport(
	nodeId core.NodeId,
	n int,
	addrs AddressBook,
	codec Codec,
	logger *slog.Logger,
) *HTTPTransport {
	if logger == nil {
		logger = slog.Default()
	}

	return &HTTPTransport{
		nodeId: nodeId,
		n:      n,
		addrs:  addrs,
		codec:  codec,
		httpc:  &http.Client{Timeout: 5 * time.Second},
		msgCh:  make(chan core.Message, 256),
		logger: logger,
	}
}

// Broadcast posts msg to every other node concurrently and delivers a copy to self.
func (t *HTTPTransport) Broadcast(ctx context.Context, msg core.Message) error {
	data, err := t.codec.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	for i := 0; i < t.n; i++ {
		id := core.NodeId(i)
		if id == t.nodeId {
			continue
		}
		g.Go(func() error {
			if err := t.post(ctx, id, data); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("send to %d: %w", id, err))
				mu.Unlock()
			}
			return nil
		})
	}

	// Deliver to self
	select {
	case t.msgCh <- msg:
	case <-ctx.Done():
		return ctx.Err()
	}

	g.Wait()
	return errors.Join(errs...)
}

func (t *HTTPTransport) Send(ctx context.Context, nodeId core.NodeId, msg core.Message) error {
	if nodeId == t.nodeId {
		select {
		case t.msgCh <- msg:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	data, err := t.codec.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	return t.post(ctx, nodeId, data)
}

func (t *HTTPTransport) Subscribe() <-chan core.Message {
	return t.msgCh
}

func (t *HTTPTransport) post(ctx context.Context, nodeId core.NodeId, data []byte) error {
	url := "http://" + t.addrs(nodeId) + MessagePath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 128))
		return fmt.Errorf("%s %s -> http %d: %s", http.MethodPost, url, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

// Package readiness implements the barrier that keeps nodes from starting
// round 1 before every peer is listening.
package readiness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/usernamenenad/bft-benor/core"
)

var ErrUnknownNode = errors.New("node id outside peer set")

// Registry is a countable set of ready node ids for a peer set of size n.
type Registry struct {
	n     int
	mu    sync.RWMutex
	ready map[core.NodeId]struct{}
}

func NewRegistry(n int) *Registry {
	return &Registry{
		n:     n,
		ready: make(map[core.NodeId]struct{}, n),
	}
}

func (r *Registry) SetReady(_ context.Context, nodeId core.NodeId) error {
	if nodeId < 0 || int(nodeId) >= r.n {
		return fmt.Errorf("%w: %d not in [0, %d)", ErrUnknownNode, nodeId, r.n)
	}

	r.mu.Lock()
	r.ready[nodeId] = struct{}{}
	r.mu.Unlock()

	return nil
}

func (r *Registry) AllReady(_ context.Context) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.ready) == r.n, nil
}

// Ready returns the ready ids in ascending order.
func (r *Registry) Ready() []core.NodeId {
	r.mu.RLock()
	ids := make([]core.NodeId, 0, len(r.ready))
	for id := range r.ready {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	slices.Sort(ids)
	return ids
}

// Wait polls AllReady every interval until it holds or ctx is done. When ctx
// expires after a failed check, the returned error wraps both.
func Wait(ctx context.Context, r core.Readiness, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastErr error
	for {
		ok, err := r.AllReady(ctx)
		if err == nil && ok {
			return nil
		}
		lastErr = err

		select {
		case <-ctx.Done():
			if lastErr != nil {
				return fmt.Errorf("%w: last readiness check: %w", ctx.Err(), lastErr)
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

type statusReply struct {
	N     int           `json:"n"`
	Ready []core.NodeId `json:"ready"`
	All   bool          `json:"all"`
}

// Handler exposes the registry over HTTP:
//
//	POST /ready/{id}  marks id ready
//	GET  /ready       lists ready ids
func (r *Registry) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /ready/{id}", func(w http.ResponseWriter, req *http.Request) {
		id, err := strconv.Atoi(req.PathValue("id"))
		if err != nil {
			http.Error(w, "bad node id", http.StatusBadRequest)
			return
		}
		if err := r.SetReady(req.Context(), core.NodeId(id)); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("GET /ready", func(w http.ResponseWriter, req *http.Request) {
		all, _ := r.AllReady(req.Context())
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(statusReply{N: r.n, Ready: r.Ready(), All: all})
	})

	return mux
}

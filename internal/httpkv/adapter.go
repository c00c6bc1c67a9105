// Package httpkv exposes the engine over HTTP: a single /kv resource
// supporting GET/PUT/DELETE, plus /healthz and /metrics.
package httpkv

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/guycipher/lsmstore/internal/record"
)

// Engine is the subset of *engine.Engine the adapter depends on, kept as
// an interface so the adapter can be tested without a real manager/
// memtable pair.
type Engine interface {
	Get(ctx context.Context, key []byte) (value []byte, tombstone bool, found bool, err error)
	Put(ctx context.Context, key, value []byte) error
	Delete(ctx context.Context, key []byte) error
}

// Adapter is an http.Handler in front of an Engine.
type Adapter struct {
	engine  Engine
	logger  *slog.Logger
	metrics http.Handler
	mux     *http.ServeMux
}

// New builds an Adapter. metricsHandler may be nil, in which case
// /metrics responds 404.
func New(e Engine, logger *slog.Logger, metricsHandler http.Handler) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	a := &Adapter{engine: e, logger: logger, metrics: metricsHandler}
	a.mux = http.NewServeMux()
	a.mux.HandleFunc("/kv", a.handleKV)
	a.mux.HandleFunc("/healthz", a.handleHealthz)
	if metricsHandler != nil {
		a.mux.Handle("/metrics", metricsHandler)
	}
	return a
}

func (a *Adapter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	a.mux.ServeHTTP(w, r)
	a.logger.Debug("request served", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
}

func (a *Adapter) handleKV(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if key == "" {
		http.Error(w, "missing key parameter", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodGet:
		a.handleGet(w, r, key)
	case http.MethodPut:
		a.handlePut(w, r, key)
	case http.MethodDelete:
		a.handleDelete(w, r, key)
	default:
		w.Header().Set("Allow", "GET, PUT, DELETE")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (a *Adapter) handleGet(w http.ResponseWriter, r *http.Request, key string) {
	value, tombstone, found, err := a.engine.Get(r.Context(), []byte(key))
	if err != nil {
		a.writeEngineError(w, err)
		return
	}
	if !found || tombstone {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(value)
}

func (a *Adapter) handlePut(w http.ResponseWriter, r *http.Request, key string) {
	value := []byte(r.URL.Query().Get("value"))
	if len(value) == 0 {
		var err error
		value, err = io.ReadAll(io.LimitReader(r.Body, 64<<20))
		if err != nil {
			http.Error(w, "failed to read request body", http.StatusBadRequest)
			return
		}
	}
	if len(value) == 0 {
		http.Error(w, "missing value", http.StatusBadRequest)
		return
	}

	if err := a.engine.Put(r.Context(), []byte(key), value); err != nil {
		a.writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *Adapter) handleDelete(w http.ResponseWriter, r *http.Request, key string) {
	if err := a.engine.Delete(r.Context(), []byte(key)); err != nil {
		a.writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *Adapter) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (a *Adapter) writeEngineError(w http.ResponseWriter, err error) {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		http.Error(w, "request canceled", http.StatusGatewayTimeout)
		return
	}
	if errors.Is(err, record.ErrEmptyValue) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	a.logger.Error("engine error", "error", err)
	http.Error(w, "internal error", http.StatusInternalServerError)
}

package messaging

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// ErrNoReceiver means no agent is attached to the tab.
var ErrNoReceiver = errors.New("no receiver for tab")

// Handler serves page requests for one tab.
type Handler interface {
	Handle(ctx context.Context, req Request) Response
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, req Request) Response

func (f HandlerFunc) Handle(ctx context.Context, req Request) Response { return f(ctx, req) }

// Messenger sends page requests to a tab.
type Messenger interface {
	Send(ctx context.Context, tabID int, req Request) (Response, error)
}

// Router dispatches requests to the handler registered for a tab. In-process
// agents and bridge connections register the same way.
type Router struct {
	mu       sync.RWMutex
	handlers map[int]*registration
	logger   *zap.Logger
}

type registration struct{ h Handler }

func NewRouter(logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{handlers: make(map[int]*registration), logger: logger.Named("router")}
}

// Register attaches h to tabID, replacing any previous handler. The returned
// function detaches h unless it has been replaced since.
func (r *Router) Register(tabID int, h Handler) (unregister func()) {
	reg := &registration{h: h}
	r.mu.Lock()
	if _, exists := r.handlers[tabID]; exists {
		r.logger.Debug("Replacing handler", zap.Int("tab_id", tabID))
	}
	r.handlers[tabID] = reg
	r.mu.Unlock()
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.handlers[tabID] == reg {
			delete(r.handlers, tabID)
		}
	}
}

// Has reports whether a handler is attached to tabID.
func (r *Router) Has(tabID int) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[tabID]
	return ok
}

// Send delivers req. A panicking handler yields an error.
func (r *Router) Send(ctx context.Context, tabID int, req Request) (resp Response, err error) {
	r.mu.RLock()
	reg, ok := r.handlers[tabID]
	r.mu.RUnlock()
	if !ok {
		return Response{}, fmt.Errorf("%w %d", ErrNoReceiver, tabID)
	}
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("Handler panicked", zap.Int("tab_id", tabID), zap.String("action", string(req.Action())), zap.Any("panic", p))
			resp, err = Response{}, fmt.Errorf("handler for %s panicked: %v", req.Action(), p)
		}
	}()
	return reg.h.Handle(ctx, req), nil
}

// Package middleware provides HTTP middleware for the debugger transport.
package middleware

import (
	"context"
	"net/http"
	"sync"
	"time"
)

// Closer tears the debugger HTTP surface down exactly once: teardown hooks
// run first (dropping websocket inspector sessions so Shutdown isn't held
// open by a long-lived upgrade), then the server drains in-flight requests
// under a bounded context. The engine itself keeps ticking — closing the
// inspector never touches pipeline state.
type Closer struct {
	server  *http.Server
	timeout time.Duration

	mu    sync.Mutex
	hooks []func()
	once  sync.Once
	done  chan struct{}
}

// NewCloser wraps server with a close timeout.
func NewCloser(server *http.Server, timeout time.Duration) *Closer {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Closer{server: server, timeout: timeout, done: make(chan struct{})}
}

// OnClose registers a teardown hook, run before the server drains. Hooks
// registered after Close are never run.
func (c *Closer) OnClose(hook func()) {
	c.mu.Lock()
	c.hooks = append(c.hooks, hook)
	c.mu.Unlock()
}

// Close runs the hooks and shuts the server down, draining in-flight
// requests for at most the configured timeout. Safe to call more than
// once; later calls wait for the first to finish.
func (c *Closer) Close() {
	c.once.Do(func() {
		defer close(c.done)

		c.mu.Lock()
		hooks := c.hooks
		c.hooks = nil
		c.mu.Unlock()
		for _, hook := range hooks {
			hook()
		}

		if c.server != nil {
			ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
			defer cancel()
			_ = c.server.Shutdown(ctx)
		}
	})
	<-c.done
}

// Done is closed once Close has completed.
func (c *Closer) Done() <-chan struct{} {
	return c.done
}

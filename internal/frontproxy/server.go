package frontproxy

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/Mubelotix/nginx-hibernator/internal/logging"
)

// readHeaderTimeout, idle and write timeouts are kept generous because a
// proxied response can legitimately take as long as a site's start_timeout
// (several minutes) to finish streaming; only ReadHeaderTimeout guards
// against slow-header DoS on the front edge itself.
const (
	readHeaderTimeout = 10 * time.Second
	idleTimeout       = 2 * time.Minute
)

// Server wraps the front proxy's http.Server with a Start/Stop lifecycle
// matching the rest of this daemon's components.
type Server struct {
	httpSrv *http.Server
	log     logging.Logger
}

// NewServer binds an http.Server to addr (":port") serving h.
func NewServer(addr string, h http.Handler, log logging.Logger) *Server {
	return &Server{
		httpSrv: &http.Server{
			Addr:              addr,
			Handler:           h,
			ReadHeaderTimeout: readHeaderTimeout,
			IdleTimeout:       idleTimeout,
		},
		log: log,
	}
}

// Start binds the listener and begins serving. It returns once the listener
// is open, with serving continuing on a background goroutine; a bind
// failure (e.g. port already in use) is returned synchronously so the
// caller can map it to the right exit code.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpSrv.Addr)
	if err != nil {
		return err
	}
	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.log.Error("front proxy server stopped", logging.Err(err))
		}
	}()
	s.log.Info("front proxy listening", logging.String("addr", s.httpSrv.Addr))
	return nil
}

// Stop gracefully drains in-flight connections, bounded by ctx.
func (s *Server) Stop(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

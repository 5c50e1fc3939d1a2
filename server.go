package tfm

import (
	"net"
	"net/http"
	"sync"

	"github.com/golang/glog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/soheilhy/cmux"
	"golang.org/x/sync/errgroup"
)

// Server serves the REST API and the state channels of middleboxes on the
// same listener.
type Server struct {
	mgr  *Manager
	http *http.Server

	mu      sync.Mutex
	l       net.Listener
	stopped bool
}

// NewServer creates a server for mgr. Metrics are served from g, if not nil.
func NewServer(mgr *Manager, g prometheus.Gatherer) *Server {
	return &Server{
		mgr:  mgr,
		http: &http.Server{Handler: newRouter(mgr, g)},
	}
}

// ListenAndServe listens on addr and serves until the server is stopped or
// the process is signaled to terminate.
func (s *Server) ListenAndServe(addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	unregister := s.registerSignals()
	defer unregister()
	return s.Serve(l)
}

// Serve serves on l until the server is stopped. HTTP connections are served
// by the REST API and all other connections are state channels.
func (s *Server) Serve(l net.Listener) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return l.Close()
	}
	s.l = l
	s.mu.Unlock()

	m := cmux.New(l)
	httpl := m.Match(cmux.HTTP1Fast())
	chl := m.Match(cmux.Any())

	glog.Infof("controller listening on %v", l.Addr())

	var g errgroup.Group
	g.Go(func() error { return s.http.Serve(httpl) })
	g.Go(func() error { return serveStateChannels(chl, s.mgr) })
	g.Go(m.Serve)
	err := g.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	return err
}

// Stop stops the server.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopped = true
	s.http.Close()
	if s.l == nil {
		return nil
	}
	return s.l.Close()
}

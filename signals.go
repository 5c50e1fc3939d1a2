package tfm

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/golang/glog"
)

// registerSignals stops the server on the first termination signal. It
// returns a function that unregisters the handler.
func (s *Server) registerSignals() (unregister func()) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh,
		syscall.SIGHUP,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT)
	done := make(chan struct{})
	go func() {
		select {
		case sig := <-sigCh:
			glog.Infof("received %v, stopping", sig)
			s.Stop()
		case <-done:
		}
	}()
	return func() {
		signal.Stop(sigCh)
		close(done)
	}
}

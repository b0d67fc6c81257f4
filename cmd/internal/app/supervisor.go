package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"
)

// newSupervisor returns the root of the service tree. Lifecycle events are
// logged through log.
func newSupervisor(log Logger, shutdownTimeout time.Duration) *suture.Supervisor {
	hook := (&sutureslog.Handler{Logger: log}).MustHook()
	return suture.New("fieldquest", suture.Spec{
		EventHook:        hook,
		FailureThreshold: 5,
		FailureDecay:     30,
		FailureBackoff:   15 * time.Second,
		Timeout:          shutdownTimeout,
	})
}

// httpService runs an *http.Server under suture.
type httpService struct {
	srv             *http.Server
	shutdownTimeout time.Duration
	log             Logger
}

func (s *httpService) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("server.start", "addr", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			s.log.Error("server.fail", "err", err)
			return fmt.Errorf("http server: %w", err)
		}
		// Closed from outside; a closed server cannot be restarted.
		return suture.ErrDoNotRestart

	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()

		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			s.log.Error("server.shutdown.fail", "err", err)
			return err
		}
		<-errCh
		s.log.Info("server.stopped")
		return ctx.Err()
	}
}

func (s *httpService) String() string { return "http-server" }

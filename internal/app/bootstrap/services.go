package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"
)

type httpServer interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

// httpServerService runs an http.Server under suture and shuts it down
// when the supervisor stops.
type httpServerService struct {
	server          httpServer
	addr            string
	shutdownTimeout time.Duration
	logger          *slog.Logger
}

func newHTTPServerService(logger *slog.Logger, server *http.Server, shutdownTimeout time.Duration) *httpServerService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &httpServerService{
		server:          server,
		addr:            server.Addr,
		shutdownTimeout: shutdownTimeout,
		logger:          logger,
	}
}

func (h *httpServerService) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		h.logger.Info("http server started", "addr", h.addr)
		if err := h.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), h.shutdownTimeout)
		defer cancel()
		if err := h.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown: %w", err)
		}
		<-errCh
		return ctx.Err()
	}
}

func (h *httpServerService) String() string { return "http-server" }

// newSupervisor builds the root supervisor. Failing services are restarted
// with backoff; the event hook reports restarts through the process logger.
func newSupervisor(name string, logger *slog.Logger, shutdownTimeout time.Duration) *suture.Supervisor {
	hook := (&sutureslog.Handler{Logger: logger}).MustHook()
	return suture.New(name, suture.Spec{
		EventHook:        hook,
		FailureThreshold: 5,
		FailureDecay:     30,
		FailureBackoff:   15 * time.Second,
		Timeout:          shutdownTimeout,
	})
}

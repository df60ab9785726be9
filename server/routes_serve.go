// routes_serve.go - Server-Start und Lifecycle-Management
// Enthaelt: Serve() - startet den HTTP-Server bis SIGINT/SIGTERM

package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/animus/plateocr/envconfig"
	"github.com/animus/plateocr/version"
)

// shutdownTimeout begrenzt das Warten auf laufende Anfragen beim Beenden
const shutdownTimeout = 5 * time.Second

// Serve beantwortet Anfragen auf ln, bis ctx endet oder ein Signal eintrifft
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.addr = ln.Addr()
	slog.Info("server config", "env", envconfig.Values())

	srvr := &http.Server{
		Handler:           s.GenerateRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		slog.Info(fmt.Sprintf("Listening on %s (version %s)", ln.Addr(), version.Version), "model", s.path)
		errCh <- srvr.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srvr.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

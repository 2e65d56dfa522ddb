package main

import (
	"context"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
)

type HttpServer struct {
	Server  *http.Server
	Timeout time.Duration
}

// Run serves until ctx is done, then shuts the server down, giving open
// requests up to Timeout to finish.
func (s *HttpServer) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.Server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "unexpected error from ListenAndServe")
	case <-ctx.Done():
	}

	log.Debugln("waiting for shutdown finishing...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.Timeout)
	defer cancel()
	if err := s.Server.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "shutting down")
	}

	log.Debugln("shutdown finished")
	return nil
}

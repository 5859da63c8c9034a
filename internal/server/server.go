// Package server hosts the vendor and issuer HTTP surfaces. Transport
// stays thin: it authenticates callers, decodes bodies, and maps domain
// errors onto statuses; every decision about channels lives in the
// use-case packages.
package server

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
)

// Server wraps one HTTP listener with graceful shutdown.
type Server struct {
	name string
	http *http.Server
}

// New creates a server for a handler.
func New(name, addr string, handler http.Handler) *Server {
	return &Server{
		name: name,
		http: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Run serves until the context is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Printf("%s listening on %s", s.name, s.http.Addr)
		if err := s.http.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

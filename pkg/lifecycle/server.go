// Package lifecycle pkg/lifecycle/server.go runs a service plus its HTTP
// surface and handles shutdown signals.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

const ShutdownTimeout = 10 * time.Second

// Service defines the interface that all services must implement.
type Service interface {
	Start(context.Context) error
	Stop(context.Context) error
}

// HTTPServer is the listening surface run alongside the service.
type HTTPServer interface {
	Start(addr string) error
	Stop(ctx context.Context) error
}

// ServerOptions holds configuration for running a service.
type ServerOptions struct {
	ListenAddr  string
	ServiceName string
	Service     Service
	HTTP        HTTPServer
}

// RunServer starts the service and HTTP server and blocks until a shutdown
// signal or an unrecoverable error. A clean interrupt returns nil.
func RunServer(ctx context.Context, opts *ServerOptions) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	log.Printf("*** Starting service %s", opts.ServiceName)

	// Create error channel for service errors
	errChan := make(chan error, 1)

	// Start the service
	go func() {
		if err := opts.Service.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			select {
			case errChan <- err:
			default:
				log.Printf("Service error: %v", err)
			}
		}
	}()

	// Start HTTP server
	if opts.HTTP != nil {
		go func() {
			log.Printf("Starting HTTP server on %s", opts.ListenAddr)

			if err := opts.HTTP.Start(opts.ListenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				select {
				case errChan <- err:
				default:
					log.Printf("HTTP server error: %v", err)
				}
			}
		}()
	}

	return handleShutdown(ctx, cancel, opts, errChan)
}

func handleShutdown(ctx context.Context, cancel context.CancelFunc, opts *ServerOptions, errChan chan error) error {
	// Setup signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	var runErr error

	// Wait for shutdown signal or error
	select {
	case sig := <-sigChan:
		log.Printf("Received signal %v, initiating shutdown", sig)
	case err := <-errChan:
		log.Printf("Received error: %v, initiating shutdown", err)
		runErr = fmt.Errorf("service error: %w", err)
	case <-ctx.Done():
		log.Printf("Context canceled, initiating shutdown")
		runErr = ctx.Err()
	}

	// Create timeout context for shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer shutdownCancel()

	// Cancel main context
	cancel()

	if opts.HTTP != nil {
		if err := opts.HTTP.Stop(shutdownCtx); err != nil {
			log.Printf("Error during HTTP server shutdown: %v", err)
		}
	}

	if err := opts.Service.Stop(shutdownCtx); err != nil {
		log.Printf("Error during service shutdown: %v", err)

		if runErr == nil {
			runErr = fmt.Errorf("shutdown error: %w", err)
		}
	}

	return runErr
}

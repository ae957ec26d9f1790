package rest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

func NewRouter(h Handlers) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ping", h.PingHandler)
	mux.HandleFunc("GET /matches/{id}", h.GetMatch)

	return mux
}

// Start - serves the status API until ctx is cancelled.
func Start(ctx context.Context, port string, h Handlers) error {
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      NewRouter(h),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  30 * time.Second,
	}

	stop := context.AfterFunc(ctx, func() {
		_ = srv.Close()
	})
	defer stop()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return nil
}

package rest

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/rocketscienceinc/tictactoe-server/internal/entity"
	"github.com/rocketscienceinc/tictactoe-server/internal/repository"
)

type Handlers interface {
	PingHandler(w http.ResponseWriter, _ *http.Request)

	GetMatch(w http.ResponseWriter, r *http.Request)
}

type matchRepo interface {
	GetByID(ctx context.Context, id string) (*entity.MatchSnapshot, error)
}

type handlers struct {
	logger  *slog.Logger
	matches matchRepo
}

func NewHandlers(logger *slog.Logger, matches matchRepo) Handlers {
	return &handlers{
		logger:  logger.With("component", "rest"),
		matches: matches,
	}
}

func (that *handlers) PingHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("pong")); err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
}

// GetMatch - returns the live snapshot of a running match.
func (that *handlers) GetMatch(w http.ResponseWriter, r *http.Request) {
	log := that.logger.With("method", "GetMatch")

	match, err := that.matches.GetByID(r.Context(), r.PathValue("id"))
	if errors.Is(err, repository.ErrMatchNotFound) {
		http.Error(w, "match not found", http.StatusNotFound)
		return
	}

	if err != nil {
		log.Error("failed to get match", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err = json.NewEncoder(w).Encode(match); err != nil {
		log.Error("failed to encode match", "error", err)
	}
}

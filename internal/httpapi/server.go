// Package httpapi serves read-only invite statistics over HTTP.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"otogi-invite/modules/invitecount"
)

const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 5 * time.Second
)

// Queries is the read side of the invite ledger.
type Queries interface {
	PeekUser(userID string) (invitecount.UserView, bool)
	QueryLeaderboard(metric invitecount.Metric, window time.Duration) []invitecount.RankedInviter
	QueryRewardText() string
}

// Handler answers invite statistics requests.
type Handler struct {
	queries Queries
	logger  *slog.Logger
}

// NewHandler creates a handler over queries.
func NewHandler(queries Queries, logger *slog.Logger) (*Handler, error) {
	if queries == nil {
		return nil, fmt.Errorf("new http api handler: nil queries")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Handler{queries: queries, logger: logger}, nil
}

// Routes builds the router with request ids, access logs and panic recovery.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(h.accessLog)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.health)
	r.Route("/v1", func(r chi.Router) {
		r.Get("/users/{userID}", h.getUser)
		r.Get("/leaderboard", h.getLeaderboard)
		r.Get("/reward", h.getReward)
	})

	return r
}

// Serve runs handler on addr until ctx ends, then drains in-flight requests.
func Serve(ctx context.Context, addr string, handler http.Handler) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve http api %s: %w", addr, err)
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(groupCtx), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown http api: %w", err)
		}
		return nil
	})

	if err := group.Wait(); err != nil {
		return err
	}

	return nil
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	respond(w, http.StatusOK, map[string]string{"status": "ok"})
}

// getUser handles GET /v1/users/{userID}. Unknown ids are not created.
func (h *Handler) getUser(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(chi.URLParam(r, "userID"))
	if userID == "" {
		badRequest(w, "user id is required")
		return
	}

	view, ok := h.queries.PeekUser(userID)
	if !ok {
		notFound(w, "no invite record for user "+userID)
		return
	}

	respond(w, http.StatusOK, view)
}

// getLeaderboard handles GET /v1/leaderboard?metric=valid|total|invalid&window=7d|30d|<duration>.
func (h *Handler) getLeaderboard(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	metric, err := invitecount.ParseMetric(query.Get("metric"))
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	window, err := invitecount.ParseWindow(query.Get("window"))
	if err != nil {
		badRequest(w, err.Error())
		return
	}

	ranked := h.queries.QueryLeaderboard(metric, window)
	respondList(w, ranked, len(ranked))
}

func (h *Handler) getReward(w http.ResponseWriter, _ *http.Request) {
	respond(w, http.StatusOK, map[string]string{"message": h.queries.QueryRewardText()})
}

func (h *Handler) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		recorder := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(recorder, r)
		h.logger.DebugContext(r.Context(),
			"http api request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", recorder.Status(),
			"duration", time.Since(started),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

package ports

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/Amund211/chessoverlay/internal/app"
	"github.com/Amund211/chessoverlay/internal/domain"
	"github.com/Amund211/chessoverlay/internal/logging"
	"github.com/Amund211/chessoverlay/internal/ratelimiting"
	"github.com/Amund211/chessoverlay/internal/reporting"
)

const maxRequestBodySize = 4 << 20

type OverlaySession interface {
	Snapshot() domain.Snapshot
	Config() domain.WidgetConfig
	Sponsor() (string, bool)
	RefreshNow(ctx context.Context, foreground bool) error
	Pause() error
	Resume() error
	Stop()
	Adjust(ctx context.Context, adjustmentType domain.AdjustmentType, action domain.AdjustmentAction) (domain.Snapshot, error)
	Reset(ctx context.Context) (domain.Snapshot, error)
	UpdateConfig(ctx context.Context, cfg domain.WidgetConfig) error
	SetSponsor(ctx context.Context, dataURL string) error
	ClearSponsor(ctx context.Context) error
}

func writeJSON(w http.ResponseWriter, statusCode int, data []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	w.Write(data)
}

func writeSnapshot(w http.ResponseWriter, snapshot domain.Snapshot) {
	marshalled, err := SnapshotToJSON(snapshot)
	if err != nil {
		http.Error(w, "Failed to marshal response", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, marshalled)
}

func readJSONBody(r *http.Request, target any) error {
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodySize))
	if err != nil {
		return err
	}
	return json.Unmarshal(body, target)
}

func writeLifecycleError(w http.ResponseWriter, err error) {
	if errors.Is(err, app.ErrNotTracking) {
		http.Error(w, "Not tracking a player", http.StatusConflict)
		return
	}
	http.Error(w, "Internal server error", http.StatusInternalServerError)
}

type overlayHandlers struct {
	session OverlaySession
}

func (h overlayHandlers) getStats(w http.ResponseWriter, r *http.Request) {
	writeSnapshot(w, h.session.Snapshot())
}

func (h overlayHandlers) refresh(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	err := h.session.RefreshNow(ctx, true)
	switch {
	case err == nil:
		writeSnapshot(w, h.session.Snapshot())
	case errors.Is(err, domain.ErrInvalidConfig):
		http.Error(w, "Widget is not configured", http.StatusBadRequest)
	default:
		logging.FromContext(ctx).WarnContext(ctx, "Foreground refresh failed", "error", err.Error())
		http.Error(w, "Failed to refresh stats", http.StatusBadGateway)
	}
}

func (h overlayHandlers) pause(w http.ResponseWriter, r *http.Request) {
	if err := h.session.Pause(); err != nil {
		writeLifecycleError(w, err)
		return
	}
	writeSnapshot(w, h.session.Snapshot())
}

func (h overlayHandlers) resume(w http.ResponseWriter, r *http.Request) {
	if err := h.session.Resume(); err != nil {
		writeLifecycleError(w, err)
		return
	}
	writeSnapshot(w, h.session.Snapshot())
}

func (h overlayHandlers) stop(w http.ResponseWriter, r *http.Request) {
	h.session.Stop()
	writeSnapshot(w, h.session.Snapshot())
}

func (h overlayHandlers) adjust(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	request := struct {
		Type   string `json:"type"`
		Action string `json:"action"`
	}{}
	if err := readJSONBody(r, &request); err != nil {
		http.Error(w, "Failed to parse request body", http.StatusBadRequest)
		return
	}

	adjustmentType, err := domain.ParseAdjustmentType(request.Type)
	if err != nil {
		http.Error(w, "invalid adjustment type", http.StatusBadRequest)
		return
	}
	action, err := domain.ParseAdjustmentAction(request.Action)
	if err != nil {
		http.Error(w, "invalid adjustment action", http.StatusBadRequest)
		return
	}

	snapshot, err := h.session.Adjust(ctx, adjustmentType, action)
	if err != nil {
		reporting.Report(ctx, err, map[string]string{"type": string(adjustmentType), "action": string(action)})
		http.Error(w, "Failed to save adjustment", http.StatusInternalServerError)
		return
	}
	writeSnapshot(w, snapshot)
}

func (h overlayHandlers) reset(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	snapshot, err := h.session.Reset(ctx)
	if err != nil {
		reporting.Report(ctx, err)
		http.Error(w, "Failed to reset stats", http.StatusInternalServerError)
		return
	}
	writeSnapshot(w, snapshot)
}

func (h overlayHandlers) config(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if r.Method == http.MethodGet {
		marshalled, err := json.Marshal(configToResponse(h.session.Config()))
		if err != nil {
			http.Error(w, "Failed to marshal response", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, marshalled)
		return
	}

	request := configResponse{}
	if err := readJSONBody(r, &request); err != nil {
		http.Error(w, "Failed to parse request body", http.StatusBadRequest)
		return
	}
	cfg := domain.WidgetConfig{
		Platform:       domain.Platform(request.Platform),
		Username:       request.Username,
		RatingCategory: domain.RatingCategory(request.RatingCategory),
		ShowSponsor:    request.ShowSponsor,
	}

	err := h.session.UpdateConfig(ctx, cfg)
	switch {
	case errors.Is(err, domain.ErrInvalidConfig):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, app.ErrConfigNotSaved):
		reporting.Report(ctx, err)
		http.Error(w, "Failed to save config", http.StatusInternalServerError)
	default:
		// A failed first refresh is reported through the snapshot
		writeSnapshot(w, h.session.Snapshot())
	}
}

func (h overlayHandlers) sponsor(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	switch r.Method {
	case http.MethodGet:
		dataURL, ok := h.session.Sponsor()
		if !ok {
			http.Error(w, "No sponsor image", http.StatusNotFound)
			return
		}
		marshalled, err := json.Marshal(map[string]string{"dataUrl": dataURL})
		if err != nil {
			http.Error(w, "Failed to marshal response", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, marshalled)

	case http.MethodPut:
		request := struct {
			DataURL string `json:"dataUrl"`
		}{}
		if err := readJSONBody(r, &request); err != nil {
			http.Error(w, "Failed to parse request body", http.StatusBadRequest)
			return
		}
		err := h.session.SetSponsor(ctx, request.DataURL)
		if errors.Is(err, domain.ErrInvalidSponsor) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err != nil {
			reporting.Report(ctx, err)
			http.Error(w, "Failed to save sponsor image", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	case http.MethodDelete:
		if err := h.session.ClearSponsor(ctx); err != nil {
			reporting.Report(ctx, err)
			http.Error(w, "Failed to clear sponsor image", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// RegisterOverlayRoutes wires the overlay API onto mux. The returned function stops the rate limiter.
func RegisterOverlayRoutes(
	mux *http.ServeMux,
	session OverlaySession,
	hub *SnapshotHub,
	allowedOrigins *DomainSuffixes,
	logger *slog.Logger,
	sentryMiddleware func(http.HandlerFunc) http.HandlerFunc,
	addMetaMiddleware func(http.HandlerFunc) http.HandlerFunc,
) func() {
	limiter, stopLimiter := ratelimiting.NewTokenBucketRateLimiter(
		ratelimiting.RefillPerSecond(2),
		ratelimiting.BurstSize(60),
		time.Now,
	)
	ipRateLimiter := ratelimiting.NewRequestBasedRateLimiter(limiter, ratelimiting.IPKeyFunc)
	onLimitExceeded := func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Too many requests", http.StatusTooManyRequests)
	}

	middleware := func(methods ...string) func(http.HandlerFunc) http.HandlerFunc {
		return ComposeMiddlewares(
			buildMetricsMiddleware(),
			logging.NewRequestLoggerMiddleware(logger),
			sentryMiddleware,
			addMetaMiddleware,
			BuildCORSMiddleware(allowedOrigins),
			NewRateLimitMiddleware(ipRateLimiter, onLimitExceeded),
			NewAllowMethodsMiddleware(methods...),
		)
	}
	// The sentry handler does not pass hijacking through
	wsMiddleware := ComposeMiddlewares(
		buildMetricsMiddleware(),
		logging.NewRequestLoggerMiddleware(logger),
		addMetaMiddleware,
		NewRateLimitMiddleware(ipRateLimiter, onLimitExceeded),
		NewAllowMethodsMiddleware(http.MethodGet),
	)

	h := overlayHandlers{session: session}

	mux.HandleFunc("/v1/stats", middleware(http.MethodGet)(h.getStats))
	mux.HandleFunc("/v1/stats/ws", wsMiddleware(hub.ServeWs))
	mux.HandleFunc("/v1/refresh", middleware(http.MethodPost)(h.refresh))
	mux.HandleFunc("/v1/pause", middleware(http.MethodPost)(h.pause))
	mux.HandleFunc("/v1/resume", middleware(http.MethodPost)(h.resume))
	mux.HandleFunc("/v1/stop", middleware(http.MethodPost)(h.stop))
	mux.HandleFunc("/v1/adjustments", middleware(http.MethodPost)(h.adjust))
	mux.HandleFunc("/v1/reset", middleware(http.MethodPost)(h.reset))
	mux.HandleFunc("/v1/config", middleware(http.MethodGet, http.MethodPut)(h.config))
	mux.HandleFunc("/v1/sponsor", middleware(http.MethodGet, http.MethodPut, http.MethodDelete)(h.sponsor))

	return stopLimiter
}

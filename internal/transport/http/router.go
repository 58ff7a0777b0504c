// Package httptransport is the HTTP gateway in front of the zone validators:
// JSON command submission, websocket notification streams, diagnostics and
// operational endpoints.
package httptransport

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"liquidity/internal/domain"
	"liquidity/internal/platform/middleware"
	"liquidity/internal/zone/journal"
	"liquidity/internal/zone/monitor"
	"liquidity/internal/zone/protocol"
	"liquidity/internal/zone/sharding"
	pkgerrors "liquidity/pkg/errors"
)

// Handler is the thin HTTP layer. It delegates to the sharding router and the
// zone monitor; no ledger logic lives here.
type Handler struct {
	logger     *slog.Logger
	router     *sharding.Router
	monitor    *monitor.Monitor
	events     journal.Journal
	ready      func() error
	version    string
	adminToken string
}

func NewHandler(
	logger *slog.Logger,
	router *sharding.Router,
	zoneMonitor *monitor.Monitor,
	events journal.Journal,
	ready func() error,
	version string,
	adminToken string,
) *Handler {
	return &Handler{
		logger:     logger,
		router:     router,
		monitor:    zoneMonitor,
		events:     events,
		ready:      ready,
		version:    version,
		adminToken: adminToken,
	}
}

// NewRouter wires all endpoints. Zone routes require the self-certifying JWT;
// admin and diagnostics routes require the admin token.
func NewRouter(h *Handler, registry *prometheus.Registry) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)

	r.Get("/alive", h.handleAlive)
	r.Get("/ready", h.handleReady)
	r.Get("/version", h.handleVersion)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAuth(h.logger))
		r.Put("/zone", h.handleCreateZone)
		r.Put("/zone/{zoneID}", h.handleCommand)
		r.Get("/zone/{zoneID}", h.handleZoneSocket)
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAdminToken(h.adminToken, h.logger))
		r.Get("/admin/zones", h.handleActiveZones)
		r.Get("/diagnostics/zones", h.handleLocalZones)
		r.Get("/diagnostics/zone/{zoneID}", h.handleZoneState)
		r.Get("/diagnostics/events/{zoneID}", h.handleZoneEvents)
	})

	return r
}

// handleCreateZone mints a fresh zone id and runs CreateZone against it.
func (h *Handler) handleCreateZone(w http.ResponseWriter, r *http.Request) {
	var body commandBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, pkgerrors.New(pkgerrors.CodeInvalid, "invalid request body"))
		return
	}
	if body.Type == "" {
		body.Type = "CreateZone"
	}
	if body.Type != "CreateZone" {
		writeError(w, pkgerrors.New(pkgerrors.CodeInvalid, "only CreateZone may omit the zone id"))
		return
	}
	h.dispatch(w, r, domain.NewZoneID(), body)
}

// handleCommand runs a command against an existing zone. Zone ids are minted
// server-side, so CreateZone is only accepted on the id-less route.
func (h *Handler) handleCommand(w http.ResponseWriter, r *http.Request) {
	var body commandBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, pkgerrors.New(pkgerrors.CodeInvalid, "invalid request body"))
		return
	}
	if body.Type == "CreateZone" {
		writeError(w, pkgerrors.New(pkgerrors.CodeInvalid, "CreateZone must not name a zone id"))
		return
	}
	h.dispatch(w, r, domain.ZoneID(chi.URLParam(r, "zoneID")), body)
}

func (h *Handler) dispatch(w http.ResponseWriter, r *http.Request, zoneID domain.ZoneID, body commandBody) {
	ctx := r.Context()
	command, err := body.toCommand()
	if err != nil {
		writeError(w, err)
		return
	}
	switch command.(type) {
	case protocol.JoinZoneCommand, protocol.QuitZoneCommand:
		// Join and Quit are connection-scoped; they only make sense on the
		// websocket route.
		writeError(w, pkgerrors.Newf(pkgerrors.CodeInvalid, "%s requires a websocket connection", body.Type))
		return
	}

	envelope := commandEnvelope(ctx, zoneID, command)
	response, err := h.router.HandleCommand(ctx, envelope, nil)
	if err != nil {
		h.logger.ErrorContext(ctx, "command dispatch failed",
			"zone_id", string(zoneID), "command", command.CommandName(), "error", err)
		writeError(w, err)
		return
	}

	status := http.StatusOK
	if _, failed := response.Response.(protocol.CommandFailureResponse); failed {
		status = http.StatusBadRequest
	}
	writeJSON(w, status, toResponseBody(response.Response))
}

func (h *Handler) handleAlive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := h.ready(); err != nil {
		h.logger.WarnContext(r.Context(), "readiness check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": h.version})
}

// handleActiveZones serves the cluster-wide view assembled by the monitor.
func (h *Handler) handleActiveZones(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.monitor.ActiveZones())
}

// handleLocalZones lists zones with a live validator in this process.
func (h *Handler) handleLocalZones(w http.ResponseWriter, _ *http.Request) {
	zones := h.router.ActiveZones()
	out := make([]string, 0, len(zones))
	for _, id := range zones {
		out = append(out, string(id))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleZoneState(w http.ResponseWriter, r *http.Request) {
	zoneID := domain.ZoneID(chi.URLParam(r, "zoneID"))
	st, live, err := h.router.State(r.Context(), zoneID)
	if err != nil {
		writeError(w, err)
		return
	}
	if !live {
		writeError(w, pkgerrors.Newf(pkgerrors.CodeNotFound, "zone %s has no live validator here", zoneID))
		return
	}
	writeJSON(w, http.StatusOK, toStateView(st))
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError centralizes domain error translation to HTTP responses so error
// envelopes stay consistent across handlers.
func writeError(w http.ResponseWriter, err error) {
	gw, ok := err.(pkgerrors.GatewayError)
	status := http.StatusInternalServerError
	code := string(pkgerrors.CodeInternal)
	if ok {
		status = pkgerrors.ToHTTPStatus(gw.Code)
		code = string(gw.Code)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code})
}

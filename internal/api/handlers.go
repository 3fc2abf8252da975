package api

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/tonytanb/makeriess-marketplace-sub000/internal/contentcache"
	"github.com/tonytanb/makeriess-marketplace-sub000/internal/models"
	"github.com/tonytanb/makeriess-marketplace-sub000/internal/signal"
)

// maxEntityBody caps the size of a browsed API response accepted for caching.
const maxEntityBody = 4 << 20

// ConnectivityState is the body of GET and PUT /_offline/connectivity.
type ConnectivityState struct {
	Online  bool `json:"online"`
	Changed bool `json:"changed,omitempty"`
}

// Status summarizes the offline layer.
type Status struct {
	Online         bool   `json:"online"`
	PendingActions int    `json:"pendingActions"`
	CachedEntities int    `json:"cachedEntities"`
	ActiveVersion  string `json:"activeVersion,omitempty"`
	WaitingVersion string `json:"waitingVersion,omitempty"`
	Clients        int    `json:"clients"`
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]bool{"online": s.monitor.Online()}))
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	pending, err := s.queue.Pending(r.Context())
	if err != nil {
		slog.Error("Server.statusHandler: failed to list pending actions", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to read action log"))
		return
	}
	st := Status{
		Online:         s.monitor.Online(),
		PendingActions: len(pending),
		CachedEntities: s.entities.Len(),
		Clients:        s.lifecycle.Clients(),
	}
	if active, ok := s.lifecycle.Active(); ok {
		st.ActiveVersion = active.Tag
	}
	if waiting, ok := s.lifecycle.Waiting(); ok {
		st.WaitingVersion = waiting.Tag
	}
	writeJSONResponse(w, http.StatusOK, models.Success(st))
}

// submitActionHandler accepts a mutation. With ?mode=enqueue the action is
// always captured; otherwise it is delivered directly when online and
// captured on failure.
func (s *Server) submitActionHandler(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var a models.NewAction
	if !decodeJSON(w, r, &a, "Server.submitActionHandler") {
		return
	}
	if err := a.Validate(); err != nil {
		slog.Warn("Server.submitActionHandler: validation failed", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	if r.URL.Query().Get("mode") == "enqueue" {
		id, err := s.queue.Enqueue(r.Context(), a)
		if err != nil {
			slog.Error("Server.submitActionHandler: enqueue failed", "error", err)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to store action"))
			return
		}
		writeJSONResponse(w, http.StatusAccepted, models.SuccessWithMessage("Action queued", map[string]int64{"id": id}))
		return
	}

	res, err := s.queue.Submit(r.Context(), a)
	if err != nil {
		slog.Error("Server.submitActionHandler: submit failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to deliver or store action"))
		return
	}
	if res.Delivered {
		writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Action delivered", res))
		return
	}
	writeJSONResponse(w, http.StatusAccepted, models.SuccessWithMessage("Action queued", res))
}

func (s *Server) listActionsHandler(w http.ResponseWriter, r *http.Request) {
	pending, err := s.queue.Pending(r.Context())
	if err != nil {
		slog.Error("Server.listActionsHandler: failed to list pending actions", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to read action log"))
		return
	}
	if pending == nil {
		pending = []models.PendingAction{}
	}
	writeJSONResponse(w, http.StatusOK, models.Success(pending))
}

func (s *Server) clearActionsHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.queue.Clear(r.Context()); err != nil {
		slog.Error("Server.clearActionsHandler: clear failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to clear action log"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Pending actions cleared", nil))
}

func (s *Server) removeActionHandler(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid action id"))
		return
	}
	if err := s.queue.Remove(r.Context(), id); err != nil {
		slog.Error("Server.removeActionHandler: remove failed", "id", id, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to remove action"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Action removed", nil))
}

func (s *Server) replayHandler(w http.ResponseWriter, r *http.Request) {
	res, err := s.queue.Replay(r.Context())
	if err != nil {
		slog.Error("Server.replayHandler: replay failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Replay failed"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(res))
}

func (s *Server) getConnectivityHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.Success(ConnectivityState{Online: s.monitor.Online()}))
}

func (s *Server) setConnectivityHandler(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var body struct {
		Online *bool `json:"online"`
	}
	if !decodeJSON(w, r, &body, "Server.setConnectivityHandler") {
		return
	}
	if body.Online == nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Missing required field: online"))
		return
	}
	changed := s.monitor.Set(*body.Online)
	writeJSONResponse(w, http.StatusOK, models.Success(ConnectivityState{Online: *body.Online, Changed: changed}))
}

// cacheEntitiesHandler stores browsed content. With ?kind=product|vendor the
// body is a raw API response and every record in it is cached; otherwise the
// body is one CachedEntity.
func (s *Server) cacheEntitiesHandler(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	if kind := models.EntityKind(r.URL.Query().Get("kind")); kind != "" {
		if kind != models.EntityProduct && kind != models.EntityVendor {
			writeJSONResponse(w, http.StatusBadRequest, models.Error(models.ErrInvalidEntityKind.Error()))
			return
		}
		raw, err := io.ReadAll(io.LimitReader(r.Body, maxEntityBody))
		if err != nil {
			writeJSONResponse(w, http.StatusBadRequest, models.Error("Failed to read body"))
			return
		}
		n, err := s.entities.CacheFromJSON(r.Context(), kind, raw)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, contentcache.ErrInvalidJSON) {
				status = http.StatusBadRequest
			}
			writeJSONResponse(w, status, models.Error(err.Error()))
			return
		}
		writeJSONResponse(w, http.StatusOK, models.Success(map[string]int{"cached": n}))
		return
	}

	var e models.CachedEntity
	if !decodeJSON(w, r, &e, "Server.cacheEntitiesHandler") {
		return
	}
	if err := s.entities.CacheEntity(r.Context(), e); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]int{"cached": 1}))
}

func (s *Server) getEntityHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	e, ok := s.entities.GetEntity(id)
	if !ok {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Entity not cached"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(e))
}

func (s *Server) sweepEntitiesHandler(w http.ResponseWriter, r *http.Request) {
	removed := s.entities.Sweep(r.Context())
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]int{"removed": removed}))
}

func (s *Server) signalHandler(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Failed to read body"))
		return
	}
	msg, err := signal.ParseMessage(raw)
	if err != nil {
		slog.Warn("Server.signalHandler: invalid message", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	if !s.signals.Post(msg) {
		writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("Signal channel full"))
		return
	}
	writeJSONResponse(w, http.StatusAccepted, models.SuccessWithMessage("Signal posted", nil))
}

func (s *Server) clientOpenedHandler(w http.ResponseWriter, r *http.Request) {
	s.lifecycle.ClientOpened()
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]int{"clients": s.lifecycle.Clients()}))
}

func (s *Server) clientClosedHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.lifecycle.ClientClosed(r.Context()); err != nil {
		slog.Error("Server.clientClosedHandler: activation failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to activate waiting version"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]int{"clients": s.lifecycle.Clients()}))
}

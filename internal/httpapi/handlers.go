package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/DoyleJ11/poker-planning-backend/internal/engine"
	"github.com/DoyleJ11/poker-planning-backend/internal/hub"
	"github.com/DoyleJ11/poker-planning-backend/pkg/protocol"
)

type CreateSessionRequest struct {
	Name     string `json:"name"`
	HostName string `json:"hostName"`
}

type CreateSessionResponse struct {
	SessionID string `json:"sessionId"`
	HostID    string `json:"hostId"`
}

type AddItemRequest struct {
	UserID      string `json:"userId"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

type SetCurrentItemRequest struct {
	UserID string `json:"userId"`
	ItemID string `json:"itemId"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

var errMissingUser = errors.New("userId is required")

type api struct {
	hub *hub.Hub
	log *zap.Logger
}

func (a *api) createSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if !a.decode(w, r, &req) {
		return
	}

	rm, host, err := a.hub.Create(r.Context(), req.Name, req.HostName)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, CreateSessionResponse{SessionID: rm.ID(), HostID: host.ID})
}

func (a *api) listSessions(w http.ResponseWriter, r *http.Request) {
	list, err := a.hub.List(r.Context())
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// getSession returns the snapshot with every unrevealed vote hidden. The
// caller is not authenticated, so a userId here grants no view of votes; a
// participant sees its own vote through its channel.
func (a *api) getSession(w http.ResponseWriter, r *http.Request) {
	rm, err := a.hub.Lookup(r.Context(), chi.URLParam(r, "sessionId"))
	if err != nil {
		a.fail(w, err)
		return
	}
	v, err := rm.View(r.Context(), "")
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v.Session)
}

func (a *api) addItem(w http.ResponseWriter, r *http.Request) {
	var req AddItemRequest
	if !a.decode(w, r, &req) {
		return
	}
	ev, err := a.apply(r, req.UserID, protocol.AddItem{Title: req.Title, Description: req.Description})
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ev.(protocol.ItemAdded).Item)
}

func (a *api) setCurrentItem(w http.ResponseWriter, r *http.Request) {
	var req SetCurrentItemRequest
	if !a.decode(w, r, &req) {
		return
	}
	if _, err := a.apply(r, req.UserID, protocol.SetCurrentItem{ItemID: req.ItemID}); err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func (a *api) apply(r *http.Request, userID string, in protocol.Intent) (protocol.Event, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, errMissingUser
	}
	rm, err := a.hub.Lookup(r.Context(), chi.URLParam(r, "sessionId"))
	if err != nil {
		return nil, err
	}
	return rm.Do(r.Context(), userID, in)
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("Healthy"))
}

func (a *api) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return false
	}
	return true
}

// fail maps an error class to a status. Unclassified errors are logged and
// reported without detail.
func (a *api) fail(w http.ResponseWriter, err error) {
	status := StatusOf(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		a.log.Error("request failed", zap.Error(err))
		msg = http.StatusText(status)
	}
	writeJSON(w, status, ErrorResponse{Error: msg})
}

func StatusOf(err error) int {
	if errors.Is(err, errMissingUser) {
		return http.StatusBadRequest
	}
	switch engine.ClassOf(err) {
	case engine.ClassProtocol, engine.ClassInvalid:
		return http.StatusBadRequest
	case engine.ClassUnauthorized:
		return http.StatusForbidden
	case engine.ClassNotFound:
		return http.StatusNotFound
	case engine.ClassConflict:
		return http.StatusConflict
	}
	if errors.Is(err, hub.ErrClosed) {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/Wyydra/loop/internal/adapter/driven/gateway/ws"
	"github.com/Wyydra/loop/internal/core/domain"
	"github.com/Wyydra/loop/internal/core/port"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
)

type StateReader interface {
	State() domain.ConversationState
}

type SignalHandler interface {
	HandleSignal(signal domain.Signal) error
}

type WindowOpener interface {
	Open(data domain.SetupWindowData) (domain.WindowID, error)
}

type Handler struct {
	Actions  port.ActionSink
	Store    StateReader
	Contexts port.ContextLister
	Signals  SignalHandler
	Windows  WindowOpener
	Hub      *ws.Hub

	// StaticDir, when set, is served at the root for the call UI.
	StaticDir string
}

func (h *Handler) NewRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/ws", h.ServeWS)
	r.Post("/actions/{name}", h.PostAction)
	r.Post("/windows", h.OpenWindow)
	r.Get("/state", h.GetState)
	r.Get("/contexts", h.GetContexts)

	if h.StaticDir != "" {
		r.Handle("/*", http.FileServer(http.Dir(h.StaticDir)))
	}

	return r
}

// PostAction decodes the body as the payload of the named action and
// queues it.
func (h *Handler) PostAction(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	action, err := domain.DecodeAction(domain.ActionName(chi.URLParam(r, "name")), body)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	h.Actions.Post(action)
	w.WriteHeader(http.StatusAccepted)
}

// OpenWindow records the data of a new call window. The UI then asks for it
// with getWindowData.
func (h *Handler) OpenWindow(w http.ResponseWriter, r *http.Request) {
	var data domain.SetupWindowData
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&data); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	id, err := h.Windows.Open(data)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"windowId": id.String()})
}

func (h *Handler) GetState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Store.State())
}

func (h *Handler) GetContexts(w http.ResponseWriter, r *http.Request) {
	contexts, err := h.Contexts.Contexts(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to list conversation contexts")
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, contexts)
}

func statusFor(err error) int {
	var verr *domain.ValidationError
	switch {
	case errors.Is(err, domain.ErrUnknownAction):
		return http.StatusNotFound
	case errors.As(err, &verr):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to write response")
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

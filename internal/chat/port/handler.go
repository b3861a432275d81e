package port

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/aelexs/musicroom/internal/chat/app"
	"github.com/aelexs/musicroom/internal/domain"
	"github.com/aelexs/musicroom/internal/errmap"
	"github.com/aelexs/musicroom/pkg/protocol"
)

// maxBodyBytes bounds REST request bodies; a maximal message is 500 runes.
const maxBodyBytes = 16 << 10

// roomRegistry is the narrow room lifecycle surface the handler needs.
// The *app.RoomManager satisfies it.
type roomRegistry interface {
	Acquire(ctx context.Context, roomID domain.RoomID, audience domain.UserID) (*app.RoomSession, error)
	Release(ctx context.Context, roomID domain.RoomID) error
	Get(roomID domain.RoomID) (*app.RoomSession, bool)
}

var _ roomRegistry = (*app.RoomManager)(nil)

// HandlerConfig holds the dependencies for Handler.
type HandlerConfig struct {
	Rooms      *app.RoomManager
	Auth       authenticator
	Advisories *AdvisoryRouter
	Logger     *slog.Logger
	// AllowedOrigins restricts WebSocket upgrades. Empty allows any origin.
	AllowedOrigins []string
}

// Handler serves the room REST API and WebSocket.
type Handler struct {
	rooms      roomRegistry
	auth       authenticator
	advisories *AdvisoryRouter
	logger     *slog.Logger
	upgrader   websocket.Upgrader

	mu     sync.Mutex
	conns  map[*connection]struct{}
	closed bool
	wg     sync.WaitGroup
}

// NewHandler creates a Handler.
func NewHandler(cfg HandlerConfig) *Handler {
	h := &Handler{
		rooms:      cfg.Rooms,
		auth:       cfg.Auth,
		advisories: cfg.Advisories,
		logger:     cfg.Logger,
		conns:      make(map[*connection]struct{}),
	}
	origins := slices.Clone(cfg.AllowedOrigins)
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			return len(origins) == 0 || slices.Contains(origins, r.Header.Get("Origin"))
		},
	}
	return h
}

// Routes returns the chat API router.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Route("/v1/rooms/{roomID}", func(r chi.Router) {
		r.Use(RequireUser(h.auth))
		r.Get("/messages", h.handleListMessages)
		r.Post("/messages", h.handlePostMessage)
		r.Post("/system", h.handlePostSystem)
		r.Get("/ws", h.handleRoomWS)
	})
	return r
}

type postMessageRequest struct {
	Content string `json:"content"`
}

type postSystemRequest struct {
	Kind    string `json:"kind"`
	Content string `json:"content"`
}

type listMessagesResponse struct {
	RoomID  string           `json:"room_id"`
	Entries []protocol.Entry `json:"entries"`
}

// handleListMessages returns the room timeline, joining the room for the
// duration of the request if nobody holds it.
func (h *Handler) handleListMessages(w http.ResponseWriter, r *http.Request) {
	roomID, userID, ok := h.roomAndUser(w, r)
	if !ok {
		return
	}
	ctx := WithRoom(r.Context(), roomID)

	session, err := h.rooms.Acquire(ctx, roomID, userID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	defer h.release(ctx, roomID)

	respondJSON(w, http.StatusOK, listMessagesResponse{
		RoomID:  roomID.String(),
		Entries: toWireEntries(session.Snapshot()),
	})
}

// handlePostMessage sends a message as the caller.
func (h *Handler) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	roomID, userID, ok := h.roomAndUser(w, r)
	if !ok {
		return
	}
	var req postMessageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondDomainError(w, err)
		return
	}
	ctx := WithRoom(r.Context(), roomID)

	session, err := h.rooms.Acquire(ctx, roomID, userID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	defer h.release(ctx, roomID)

	res := session.Send(ctx, userID, req.Content)
	if !res.OK() {
		respondDomainError(w, res.Err)
		return
	}
	respondJSON(w, http.StatusCreated, toWireEntry(res.Message))
}

// handlePostSystem adds a membership notice to a room that is currently
// held. System entries are local to the live session.
func (h *Handler) handlePostSystem(w http.ResponseWriter, r *http.Request) {
	roomID, _, ok := h.roomAndUser(w, r)
	if !ok {
		return
	}
	var req postSystemRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondDomainError(w, err)
		return
	}

	session, held := h.rooms.Get(roomID)
	if !held {
		respondDomainError(w, domain.ErrNotFound)
		return
	}
	msg, err := session.Announce(WithRoom(r.Context(), roomID), domain.SystemKind(req.Kind), req.Content)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, toWireEntry(msg))
}

func (h *Handler) roomAndUser(w http.ResponseWriter, r *http.Request) (domain.RoomID, domain.UserID, bool) {
	roomID, err := domain.NewRoomID(chi.URLParam(r, "roomID"))
	if err != nil {
		respondDomainError(w, err)
		return domain.RoomID{}, domain.UserID{}, false
	}
	userID, ok := UserFromContext(r.Context())
	if !ok {
		respondDomainError(w, domain.ErrUnauthorized)
		return domain.RoomID{}, domain.UserID{}, false
	}
	return roomID, userID, true
}

func (h *Handler) release(ctx context.Context, roomID domain.RoomID) {
	if err := h.rooms.Release(context.WithoutCancel(ctx), roomID); err != nil {
		h.logger.WarnContext(ctx, "room release failed", slog.String("room_id", roomID.String()), slog.Any("error", err))
	}
}

// Close ends every open WebSocket with a going-away frame and waits for
// their goroutines, or for ctx.
func (h *Handler) Close(ctx context.Context) error {
	h.mu.Lock()
	h.closed = true
	conns := make([]*connection, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		c.stop(errServerShutdown)
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Handler) track(c *connection) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.conns[c] = struct{}{}
	h.wg.Add(1)
	return true
}

func (h *Handler) untrack(c *connection) {
	h.mu.Lock()
	delete(h.conns, c)
	h.mu.Unlock()
	h.wg.Done()
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(w http.ResponseWriter, r *http.Request, out any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.Join(domain.ErrInvalidInput, errEmptyBody)
		}
		return errors.Join(domain.ErrInvalidInput, err)
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondDomainError(w http.ResponseWriter, err error) {
	httpErr := errmap.ToHTTPError(err)
	respondJSON(w, httpErr.StatusCode, httpErr)
}

func toWireEntry(e domain.Entry) protocol.Entry {
	out := protocol.Entry{
		RoomID:    e.Room().String(),
		Type:      string(e.Type()),
		CreatedAt: domain.FormatTimestamp(e.Timestamp()),
	}
	switch m := e.(type) {
	case domain.ChatMessage:
		out.ID = m.ID.String()
		out.UserID = m.UserID.String()
		out.Content = m.Content
	case domain.SystemMessage:
		out.ID = m.ID.String()
		out.Kind = string(m.Kind)
		out.Content = m.Content
	}
	return out
}

func toWireEntries(entries []domain.Entry) []protocol.Entry {
	out := make([]protocol.Entry, 0, len(entries))
	for _, e := range entries {
		out = append(out, toWireEntry(e))
	}
	return out
}

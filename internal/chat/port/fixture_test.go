package port_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/aelexs/musicroom/internal/auth"
	"github.com/aelexs/musicroom/internal/auth/authtest"
	"github.com/aelexs/musicroom/internal/chat/adapter"
	"github.com/aelexs/musicroom/internal/chat/app"
	"github.com/aelexs/musicroom/internal/chat/port"
	"github.com/aelexs/musicroom/internal/domain"
	"github.com/aelexs/musicroom/internal/domain/domaintest"
	"github.com/aelexs/musicroom/internal/retry"
	"github.com/aelexs/musicroom/pkg/protocol"
)

const testSecret = domain.SecretString("port-test-secret")

var testEpoch = time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)

// memoryStore keeps messages per room in insertion order.
type memoryStore struct {
	mu   sync.Mutex
	rows map[domain.RoomID][]domain.ChatMessage
}

func (s *memoryStore) InsertMessage(_ context.Context, msg domain.ChatMessage) error {
	s.mu.Lock()
	s.rows[msg.RoomID] = append(s.rows[msg.RoomID], msg)
	s.mu.Unlock()
	return nil
}

func (s *memoryStore) ListRecent(_ context.Context, roomID domain.RoomID, limit int) ([]domain.RawRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.rows[roomID]
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]domain.RawRow, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, domain.ToRawRow(m))
	}
	return out, nil
}

type chatFixture struct {
	server  *httptest.Server
	handler *port.Handler
	rooms   *app.RoomManager
	clock   *domaintest.FakeClock
}

func newChatFixture(t *testing.T) *chatFixture {
	t.Helper()

	logger := slog.New(slog.DiscardHandler)
	clock := domaintest.NewFakeClock(testEpoch)
	feed := adapter.NewMemoryFeed()
	store := adapter.NewPublishingStore(&memoryStore{rows: make(map[domain.RoomID][]domain.ChatMessage)}, feed, logger)
	rates := adapter.NewMemoryRateLimitStore(domain.DefaultRateLimits())
	advisories := port.NewAdvisoryRouter(nil)
	retrier := retry.New(retry.Options{
		Sleep:    clock.Sleep,
		Jitter:   func() float64 { return 0 },
		Notifier: advisories,
		Logger:   logger,
	})
	filter, err := app.NewFilter([]string{"darn"})
	require.NoError(t, err)

	pipeline := app.NewPipeline(app.PipelineConfig{
		Store:    store,
		Limiter:  app.NewRateLimiter(rates, domain.RateLimitScopeUser),
		Filter:   filter,
		Retrier:  retrier,
		Notifier: advisories,
		Clock:    clock,
		Logger:   logger,
	})
	rooms := app.NewRoomManager(func(roomID domain.RoomID) *app.RoomSession {
		return app.NewRoomSession(app.RoomSessionConfig{
			RoomID:   roomID,
			Feed:     feed,
			Store:    store,
			Pipeline: pipeline,
			Retrier:  retrier,
			Clock:    clock,
			Logger:   logger,
		})
	}, logger)

	handler := port.NewHandler(port.HandlerConfig{
		Rooms:      rooms,
		Auth:       auth.NewValidator(auth.ValidatorConfig{Secret: testSecret, Clock: domain.RealClock{}}),
		Advisories: advisories,
		Logger:     logger,
	})
	server := httptest.NewServer(handler.Routes())
	t.Cleanup(server.Close)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, handler.Close(ctx))
		require.NoError(t, rooms.Close(ctx))
	})

	return &chatFixture{server: server, handler: handler, rooms: rooms, clock: clock}
}

func tokenFor(user domain.UserID) string {
	return authtest.MustSign(testSecret, authtest.Token{Subject: user.String()})
}

// do sends a JSON request as user and decodes the JSON response into out
// when out is non-nil.
func (f *chatFixture) do(t *testing.T, method, path string, user domain.UserID, body any, out any) int {
	t.Helper()

	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, f.server.URL+path, reader)
	require.NoError(t, err)
	if !user.IsZero() {
		req.Header.Set("Authorization", "Bearer "+tokenFor(user))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func (f *chatFixture) wsURL(roomID string) string {
	return "ws" + strings.TrimPrefix(f.server.URL, "http") + "/v1/rooms/" + roomID + "/ws"
}

// dial opens a room socket and consumes the connection_ack and snapshot
// frames, returning the snapshot.
func (f *chatFixture) dial(t *testing.T, roomID domain.RoomID, user domain.UserID) (*websocket.Conn, protocol.Snapshot) {
	t.Helper()

	header := http.Header{"Authorization": {"Bearer " + tokenFor(user)}}
	conn, resp, err := websocket.DefaultDialer.Dial(f.wsURL(roomID.String()), header)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })

	var ack protocol.ConnectionAck
	readPayload(t, conn, protocol.FrameTypeConnectionAck, &ack)
	require.Equal(t, roomID.String(), ack.RoomID)
	require.Equal(t, user.String(), ack.UserID)

	var snap protocol.Snapshot
	readPayload(t, conn, protocol.FrameTypeSnapshot, &snap)
	return conn, snap
}

func readFrame(t *testing.T, conn *websocket.Conn) *protocol.Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	frame, err := protocol.Decode(data)
	require.NoError(t, err)
	return frame
}

func readPayload(t *testing.T, conn *websocket.Conn, want protocol.FrameType, out any) {
	t.Helper()
	frame := readFrame(t, conn)
	require.Equal(t, want, frame.Type)
	require.NoError(t, frame.ParsePayload(out))
}

func writeFrame(t *testing.T, conn *websocket.Conn, ft protocol.FrameType, payload any) {
	t.Helper()
	data, err := protocol.Encode(ft, payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

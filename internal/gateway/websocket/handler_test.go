package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	gorilla "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devcrew/devcrew/internal/auth"
	"github.com/devcrew/devcrew/internal/common/config"
	"github.com/devcrew/devcrew/internal/common/logger"
	"github.com/devcrew/devcrew/internal/session"
	"github.com/devcrew/devcrew/internal/stream"
)

func testLogger(t *testing.T) *logger.Logger {
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "debug", Format: "console", OutputPath: "stdout"})
	require.NoError(t, err)
	return log
}

func newTestGateway(t *testing.T) (*httptest.Server, *stream.Manager, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	authSvc := auth.NewService(config.AuthConfig{TokenDuration: 3600})
	token, err := authSvc.Login("demo@devcrew.local", "devcrew-demo")
	require.NoError(t, err)

	repo := session.NewMemoryRepository()
	_, err = repo.CreateSession(context.Background(), "user-1", &session.CreateRequest{ID: "s1"})
	require.NoError(t, err)

	streams := stream.NewManager(nil, testLogger(t))

	r := gin.New()
	NewHandler(authSvc, repo, streams, testLogger(t)).Register(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	return srv, streams, token.AccessToken
}

func wsURL(srv *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + path
}

func readEvent(t *testing.T, conn *gorilla.Conn) *stream.Event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)
	var ev stream.Event
	require.NoError(t, json.Unmarshal(payload, &ev))
	return &ev
}

func TestReplayThenLive(t *testing.T) {
	srv, streams, token := newTestGateway(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, streams.Publish(ctx, &stream.Event{
			Type:      stream.EventStatus,
			SessionID: "s1",
			Sender:    "status",
			Content:   "buffered",
		}))
	}

	conn, resp, err := gorilla.DefaultDialer.Dial(
		wsURL(srv, "/api/ws/sessions/s1?token="+token), nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	var last uint64
	for i := 0; i < 5; i++ {
		ev := readEvent(t, conn)
		assert.Equal(t, "buffered", ev.Content)
		assert.Greater(t, ev.Sequence, last)
		last = ev.Sequence
	}

	require.NoError(t, streams.Publish(ctx, &stream.Event{
		Type:      stream.EventStatus,
		SessionID: "s1",
		Sender:    "status",
		Content:   "live",
	}))

	ev := readEvent(t, conn)
	assert.Equal(t, "live", ev.Content)
	assert.Greater(t, ev.Sequence, last)
}

func TestRejectsMissingToken(t *testing.T) {
	srv, _, _ := newTestGateway(t)

	_, resp, err := gorilla.DefaultDialer.Dial(wsURL(srv, "/api/ws/sessions/s1"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRejectsForeignSession(t *testing.T) {
	srv, _, token := newTestGateway(t)

	_, resp, err := gorilla.DefaultDialer.Dial(
		wsURL(srv, "/api/ws/sessions/unknown?token="+token), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

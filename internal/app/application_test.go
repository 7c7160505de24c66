package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	gorilla "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/EdenLuski/back/internal/config"
	"github.com/EdenLuski/back/pkg/types"
)

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load()
	require.NoError(t, err)
	cfg.HTTP.Host = "127.0.0.1"
	cfg.HTTP.Port = freePort(t)
	cfg.Database.Path = filepath.Join(t.TempDir(), "app.db")
	return cfg
}

func TestApplication_StartServesSeededBlocks(t *testing.T) {
	cfg := testConfig(t)
	application, err := New(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, application.Start(ctx))
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, application.Stop(shutdownCtx))
	}()

	resp, err := http.Get(fmt.Sprintf("http://%s/api/codeblocks", cfg.Addr()))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var blocks []struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&blocks))
	require.Len(t, blocks, 4)
	assert.Equal(t, "Async case", blocks[0].Name)
	assert.Equal(t, "Event Loop", blocks[3].Name)

	health, err := http.Get(fmt.Sprintf("http://%s/health", cfg.Addr()))
	require.NoError(t, err)
	defer health.Body.Close()
	assert.Equal(t, http.StatusOK, health.StatusCode)
}

func dialJoin(t *testing.T, addr, roomID string) (*gorilla.Conn, types.InitPayload) {
	t.Helper()
	conn, _, err := gorilla.DefaultDialer.Dial(fmt.Sprintf("ws://%s/ws", addr), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	frame := fmt.Sprintf(`{"event":"join","data":{"codeBlockId":%q}}`, roomID)
	require.NoError(t, conn.WriteMessage(gorilla.TextMessage, []byte(frame)))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)

	var env types.Envelope
	require.NoError(t, json.Unmarshal(raw, &env))
	require.Equal(t, types.EventInit, env.Event)

	var init types.InitPayload
	require.NoError(t, json.Unmarshal(env.Data, &init))
	return conn, init
}

func TestApplication_RestartClearsStaleMembership(t *testing.T) {
	cfg := testConfig(t)
	application, err := New(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, application.Start(context.Background()))

	// The mentor is still connected when the process goes down; no leave or
	// disconnect cleanup ever runs for them.
	conn, init := dialJoin(t, cfg.Addr(), "1")
	require.Equal(t, types.RoleMentor, init.Role)

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	require.NoError(t, application.Stop(stopCtx))
	cancel()

	// Shutdown closes hijacked websocket connections itself.
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = conn.ReadMessage()
	assert.Error(t, err)

	// Same database, fresh process. The first joiner must be mentor again,
	// not a student of a ghost that can never reconnect.
	cfg.HTTP.Port = freePort(t)
	application, err = New(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, application.Start(context.Background()))
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, application.Stop(shutdownCtx))
	}()

	_, init = dialJoin(t, cfg.Addr(), "1")
	assert.Equal(t, types.RoleMentor, init.Role)
	assert.Equal(t, 0, init.Students)
}

func TestApplication_InvalidConfigRejected(t *testing.T) {
	cfg := testConfig(t)
	cfg.HTTP.Port = -1

	_, err := New(cfg, zaptest.NewLogger(t))
	assert.Error(t, err)
}

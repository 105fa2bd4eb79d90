package httpapi

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dialViewport(t *testing.T, server *httptest.Server, group string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/data/api/v1/telemetry/ws?group=" + group
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) windowFrame {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame windowFrame
	require.NoError(t, conn.ReadJSON(&frame))
	return frame
}

func TestViewportConnectReceivesInitialWindow(t *testing.T) {
	p := newTestPipeline(t)
	router := newTestRouter(t, p, nil)
	server := httptest.NewServer(router)
	defer server.Close()

	conn := dialViewport(t, server, "vitals")

	frame := readFrame(t, conn)
	assert.Equal(t, frameWindow, frame.Type)
	assert.Less(t, frame.Start, frame.End)
}

func TestViewportUserWindowPropagatesToSibling(t *testing.T) {
	p := newTestPipeline(t)
	router := newTestRouter(t, p, nil)
	server := httptest.NewServer(router)
	defer server.Close()

	conn1 := dialViewport(t, server, "vitals")
	conn2 := dialViewport(t, server, "vitals")

	// 各自消费注册时的初始窗口帧
	readFrame(t, conn1)
	readFrame(t, conn2)

	// conn1 模拟用户拖拽
	require.NoError(t, conn1.WriteJSON(windowFrame{Type: frameWindow, Start: 100, End: 200}))

	// 兄弟 viewport 收到同一窗口；发起方收到幂等的回设帧
	frame := readFrame(t, conn2)
	assert.Equal(t, frameWindow, frame.Type)
	assert.Equal(t, int64(100), frame.Start)
	assert.Equal(t, int64(200), frame.End)

	echo := readFrame(t, conn1)
	assert.Equal(t, int64(100), echo.Start)

	// 用户交互使同步组进入暂停
	require.Eventually(t, func() bool {
		return p.IsPaused("vitals")
	}, 2*time.Second, 10*time.Millisecond)
}

func TestViewportResumeFrame(t *testing.T) {
	p := newTestPipeline(t)
	router := newTestRouter(t, p, nil)
	server := httptest.NewServer(router)
	defer server.Close()

	conn := dialViewport(t, server, "vitals")
	readFrame(t, conn)

	require.NoError(t, conn.WriteJSON(windowFrame{Type: frameWindow, Start: 100, End: 200}))
	require.Eventually(t, func() bool {
		return p.IsPaused("vitals")
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteJSON(windowFrame{Type: frameResume}))
	require.Eventually(t, func() bool {
		return !p.IsPaused("vitals")
	}, 2*time.Second, 10*time.Millisecond)
}

func TestViewportInvalidWindowIgnored(t *testing.T) {
	p := newTestPipeline(t)
	router := newTestRouter(t, p, nil)
	server := httptest.NewServer(router)
	defer server.Close()

	conn := dialViewport(t, server, "vitals")
	readFrame(t, conn)

	// start >= end：忽略，不暂停
	require.NoError(t, conn.WriteJSON(windowFrame{Type: frameWindow, Start: 200, End: 100}))

	time.Sleep(100 * time.Millisecond)
	assert.False(t, p.IsPaused("vitals"))
}

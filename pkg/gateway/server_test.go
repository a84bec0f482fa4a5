package gateway

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/taskchat/pkg/agent"
	"github.com/harun/taskchat/pkg/chat"
	"github.com/harun/taskchat/pkg/thread"
	"github.com/harun/taskchat/pkg/toolconn"
)

type stubProvider struct {
	mu    sync.Mutex
	calls int
}

func (p *stubProvider) Name() string { return "stub" }

func (p *stubProvider) Stream(ctx context.Context, request agent.Request, onDelta func(text string)) (*agent.Response, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()

	if onDelta != nil {
		onDelta("Hello ")
		onDelta("world")
	}
	return &agent.Response{Content: "Hello world"}, nil
}

type stubFactory struct {
	provider agent.Provider
}

func (f *stubFactory) NewProvider(cfg agent.ModelConfig) (agent.Provider, error) {
	return f.provider, nil
}

type stubConn struct{}

func (c *stubConn) ListTools(ctx context.Context) ([]toolconn.Tool, error) {
	return nil, nil
}

func (c *stubConn) CallTool(ctx context.Context, name string, args map[string]any) (string, bool, error) {
	return "", false, fmt.Errorf("no tools")
}

type stubDialer struct {
	mu    sync.Mutex
	dials int
}

func (d *stubDialer) Dial(ctx context.Context, userID, credential string) (toolconn.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	return &stubConn{}, nil
}

type gatewayHarness struct {
	server *Server
	store  *thread.SQLiteStore
	cache  *toolconn.Cache
	http   *httptest.Server
}

func newHarness(t *testing.T) *gatewayHarness {
	return newHarnessWithProvider(t, &stubProvider{})
}

func newHarnessWithProvider(t *testing.T, provider agent.Provider) *gatewayHarness {
	t.Helper()

	store, err := thread.NewSQLiteStore(filepath.Join(t.TempDir(), "threads.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	cache, err := toolconn.NewCache(toolconn.Config{
		Dialer: &stubDialer{},
		Logger: zerolog.Nop(),
	})
	require.NoError(t, err)
	t.Cleanup(cache.Close)

	runner := agent.NewRunner(agent.RunnerConfig{
		ProviderFactory: &stubFactory{provider: provider},
		Logger:          zerolog.Nop(),
	})

	orchestrator, err := chat.New(chat.Config{
		Store:  store,
		Cache:  cache,
		Runner: runner,
		Logger: zerolog.Nop(),
		Model:  agent.ModelConfig{Provider: "openai", Model: "gpt-4o-mini", Temperature: 0.7},
	})
	require.NoError(t, err)

	server, err := NewServer(Config{
		Host:         "127.0.0.1",
		Port:         18080,
		Orchestrator: orchestrator,
		Store:        store,
		Cache:        cache,
		Verifier:     NewStaticTokenVerifier(map[string]string{"tok-1": "user-1"}),
		Logger:       zerolog.Nop(),
	})
	require.NoError(t, err)

	httpSrv := httptest.NewServer(server.Handler())
	t.Cleanup(httpSrv.Close)

	return &gatewayHarness{server: server, store: store, cache: cache, http: httpSrv}
}

func (h *gatewayHarness) dial(t *testing.T, token string) *websocket.Conn {
	t.Helper()

	wsURL := "ws" + strings.TrimPrefix(h.http.URL, "http") + "/ws?token=" + token
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })

	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var frame Frame
	require.NoError(t, conn.ReadJSON(&frame))
	return frame
}

func TestNewServer(t *testing.T) {
	t.Run("should validate configuration", func(t *testing.T) {
		_, err := NewServer(Config{})
		assert.ErrorContains(t, err, "port")

		_, err = NewServer(Config{Port: 8080})
		assert.ErrorContains(t, err, "orchestrator")
	})
}

func TestHealthAndMetrics(t *testing.T) {
	h := newHarness(t)

	t.Run("should serve healthz with a request ID", func(t *testing.T) {
		resp, err := http.Get(h.http.URL + "/healthz")
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.NotEmpty(t, resp.Header.Get("X-Request-Id"))
	})

	t.Run("should echo an existing request ID", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodGet, h.http.URL+"/healthz", nil)
		req.Header.Set("X-Request-Id", "req-42")

		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, "req-42", resp.Header.Get("X-Request-Id"))
	})
}

func TestWebSocketAuth(t *testing.T) {
	h := newHarness(t)

	t.Run("should reject a missing token", func(t *testing.T) {
		wsURL := "ws" + strings.TrimPrefix(h.http.URL, "http") + "/ws"
		_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
		require.Error(t, err)
		require.NotNil(t, resp)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("should reject an unknown token", func(t *testing.T) {
		wsURL := "ws" + strings.TrimPrefix(h.http.URL, "http") + "/ws?token=wrong"
		_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
		require.Error(t, err)
		require.NotNil(t, resp)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("should accept a bearer header", func(t *testing.T) {
		wsURL := "ws" + strings.TrimPrefix(h.http.URL, "http") + "/ws"
		header := http.Header{"Authorization": []string{"Bearer tok-1"}}
		conn, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
		require.NoError(t, err)
		if resp != nil {
			resp.Body.Close()
		}
		conn.Close()
	})
}

func TestWebSocketFrames(t *testing.T) {
	h := newHarness(t)
	conn := h.dial(t, "tok-1")

	t.Run("should create a thread", func(t *testing.T) {
		require.NoError(t, conn.WriteJSON(Frame{Type: FrameThreadCreate, Title: "errands"}))

		frame := readFrame(t, conn)
		assert.Equal(t, FrameThreadCreated, frame.Type)
		assert.NotEmpty(t, frame.ThreadID)
		assert.Equal(t, "errands", frame.Title)
	})

	t.Run("should stream a chat run end to end", func(t *testing.T) {
		require.NoError(t, conn.WriteJSON(Frame{Type: FrameThreadCreate}))
		created := readFrame(t, conn)
		require.Equal(t, FrameThreadCreated, created.Type)

		require.NoError(t, conn.WriteJSON(Frame{
			Type:     FrameChatSend,
			ThreadID: created.ThreadID,
			Prompt:   "hi there",
		}))

		var frames []Frame
		for {
			frame := readFrame(t, conn)
			frames = append(frames, frame)
			if frame.Type == chat.EventItemDone || frame.Type == FrameError {
				break
			}
		}

		require.GreaterOrEqual(t, len(frames), 3)
		assert.Equal(t, chat.EventItemAdded, frames[0].Type)
		last := frames[len(frames)-1]
		assert.Equal(t, chat.EventItemDone, last.Type)
		assert.Equal(t, "Hello world", last.Content)
		assert.NotEqual(t, chat.PlaceholderItemID, last.ItemID)

		// The run is persisted
		items, err := h.store.LoadRecent(context.Background(), created.ThreadID, 20)
		require.NoError(t, err)
		require.Len(t, items, 2)
		assert.Equal(t, "hi there", items[0].Content)
		assert.Equal(t, "Hello world", items[1].Content)
	})

	t.Run("should reject a chat into an unknown thread", func(t *testing.T) {
		require.NoError(t, conn.WriteJSON(Frame{
			Type:     FrameChatSend,
			ThreadID: "thr_missing",
			Prompt:   "hi",
		}))

		frame := readFrame(t, conn)
		assert.Equal(t, FrameError, frame.Type)
		require.NotNil(t, frame.Err)
		assert.Equal(t, chat.KindMalformedInput, frame.Err.Kind)
	})

	t.Run("should invalidate the tool connection on session end", func(t *testing.T) {
		// Prime the cache with a run first
		require.NoError(t, conn.WriteJSON(Frame{Type: FrameThreadCreate}))
		created := readFrame(t, conn)
		require.NoError(t, conn.WriteJSON(Frame{Type: FrameChatSend, ThreadID: created.ThreadID, Prompt: "warm up"}))
		for {
			frame := readFrame(t, conn)
			if frame.Type == chat.EventItemDone || frame.Type == FrameError {
				break
			}
		}
		require.Equal(t, 1, h.cache.Size())

		require.NoError(t, conn.WriteJSON(Frame{Type: FrameSessionEnd}))
		frame := readFrame(t, conn)
		assert.Equal(t, FrameSessionEnded, frame.Type)
		assert.Equal(t, 0, h.cache.Size())
	})

	t.Run("should report unknown frame types", func(t *testing.T) {
		require.NoError(t, conn.WriteJSON(Frame{Type: "bogus"}))

		frame := readFrame(t, conn)
		assert.Equal(t, FrameError, frame.Type)
		require.NotNil(t, frame.Err)
		assert.Equal(t, chat.KindMalformedInput, frame.Err.Kind)
	})

	t.Run("should report invalid JSON", func(t *testing.T) {
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))

		frame := readFrame(t, conn)
		assert.Equal(t, FrameError, frame.Type)
	})
}

// floodProvider streams far more deltas than the event buffer holds and
// reports when its model turn has returned.
type floodProvider struct {
	done chan struct{}
}

func (p *floodProvider) Name() string { return "flood" }

func (p *floodProvider) Stream(ctx context.Context, request agent.Request, onDelta func(text string)) (*agent.Response, error) {
	defer close(p.done)
	// Large enough that neither the event buffer nor the socket buffers
	// can absorb the whole stream
	delta := strings.Repeat("x", 4096)
	for i := 0; i < 500; i++ {
		onDelta(delta)
	}
	return &agent.Response{Content: "long answer"}, nil
}

func TestDisconnectMidStream(t *testing.T) {
	t.Run("should stop the run when the client drops the connection", func(t *testing.T) {
		provider := &floodProvider{done: make(chan struct{})}
		h := newHarnessWithProvider(t, provider)
		conn := h.dial(t, "tok-1")

		require.NoError(t, conn.WriteJSON(Frame{Type: FrameThreadCreate}))
		created := readFrame(t, conn)
		require.Equal(t, FrameThreadCreated, created.Type)

		require.NoError(t, conn.WriteJSON(Frame{
			Type:     FrameChatSend,
			ThreadID: created.ThreadID,
			Prompt:   "go",
		}))

		// Read one event, then drop the connection mid-stream
		readFrame(t, conn)
		require.NoError(t, conn.Close())

		select {
		case <-provider.done:
		case <-time.After(5 * time.Second):
			t.Fatal("model run did not stop after the client disconnected")
		}
	})
}

func TestStaticTokenVerifier(t *testing.T) {
	verifier := NewStaticTokenVerifier(map[string]string{"tok-1": "user-1"})
	ctx := context.Background()

	t.Run("should resolve known tokens", func(t *testing.T) {
		userID, err := verifier.Verify(ctx, "tok-1")
		require.NoError(t, err)
		assert.Equal(t, "user-1", userID)
	})

	t.Run("should reject unknown tokens", func(t *testing.T) {
		_, err := verifier.Verify(ctx, "nope")
		assert.Error(t, err)
	})

	t.Run("should honor revocation", func(t *testing.T) {
		verifier.SetToken("tok-2", "user-2")
		_, err := verifier.Verify(ctx, "tok-2")
		require.NoError(t, err)

		verifier.RevokeToken("tok-2")
		_, err = verifier.Verify(ctx, "tok-2")
		assert.Error(t, err)
	})
}

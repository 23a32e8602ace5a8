package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// fakeService emulates the sandbox API, recording lifecycle calls.
type fakeService struct {
	mu           sync.Mutex
	uploads      map[string][]byte
	tornDown     []string
	execFrames   []execMessage
	failUpload   bool
	artifacts    map[string][]byte
	failArtifact string
}

func newFakeService() *fakeService {
	return &fakeService{
		uploads:   map[string][]byte{},
		artifacts: map[string][]byte{},
		execFrames: []execMessage{
			{Stream: "stdout", Data: "hello "},
			{Stream: "stdout", Data: "world\n"},
			{Stream: "stderr", Data: "warn: deprecation\n"},
			{Stream: "exit", Code: 0},
		},
	}
}

var upgrader = websocket.Upgrader{}

func (f *fakeService) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /sandboxes", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "sb-1"})
	})
	mux.HandleFunc("PUT /sandboxes/sb-1/files/", func(w http.ResponseWriter, r *http.Request) {
		if f.failUpload {
			w.WriteHeader(http.StatusInsufficientStorage)
			return
		}
		name := strings.TrimPrefix(r.URL.Path, "/sandboxes/sb-1/files/")
		var buf bytes.Buffer
		_, _ = buf.ReadFrom(r.Body)
		f.mu.Lock()
		f.uploads[name] = []byte(buf.String())
		f.mu.Unlock()
	})
	mux.HandleFunc("GET /sandboxes/sb-1/exec", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		var payload map[string]string
		require.NoError(t, conn.ReadJSON(&payload))
		assert.NotEmpty(t, payload["code"])
		for _, frame := range f.execFrames {
			require.NoError(t, conn.WriteJSON(frame))
		}
	})
	mux.HandleFunc("GET /sandboxes/sb-1/artifacts", func(w http.ResponseWriter, _ *http.Request) {
		f.mu.Lock()
		names := make([]string, 0, len(f.artifacts))
		for name := range f.artifacts {
			names = append(names, name)
		}
		f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string][]string{"files": names})
	})
	mux.HandleFunc("GET /sandboxes/sb-1/artifacts/", func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimPrefix(r.URL.Path, "/sandboxes/sb-1/artifacts/")
		f.mu.Lock()
		content, failed := f.artifacts[name], f.failArtifact == name
		f.mu.Unlock()
		if failed {
			http.Error(w, "artifact expired", http.StatusNotFound)
			return
		}
		_, _ = w.Write(content)
	})
	mux.HandleFunc("DELETE /sandboxes/", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.tornDown = append(f.tornDown, strings.TrimPrefix(r.URL.Path, "/sandboxes/"))
		f.mu.Unlock()
	})
	return mux
}

func newTestClient(t *testing.T, svc *fakeService) *Client {
	srv := httptest.NewServer(svc.handler(t))
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, "test-key", zaptest.NewLogger(t))
}

func TestRunPythonCollectsStreamsAndArtifacts(t *testing.T) {
	svc := newFakeService()
	svc.artifacts["plot.png"] = []byte("png-bytes")
	c := newTestClient(t, svc)

	result, err := c.RunPython(context.Background(), RunRequest{
		Code:         "print('hello world')",
		ContextFiles: map[string][]byte{"claims.json": []byte(`[]`)},
	})
	require.NoError(t, err)
	assert.Equal(t, "hello world\n", result.Stdout)
	assert.Equal(t, "warn: deprecation\n", result.Stderr)
	assert.Equal(t, 0, result.ExitCode)
	require.Len(t, result.Artifacts, 1)
	assert.Equal(t, "plot.png", result.Artifacts[0].Name)
	assert.Equal(t, []byte("png-bytes"), result.Artifacts[0].Content)

	assert.Equal(t, []byte(`[]`), svc.uploads["claims.json"])
	assert.Equal(t, []string{"sb-1"}, svc.tornDown, "sandbox must be destroyed after the run")
}

func TestRunPythonTearsDownOnUploadFailure(t *testing.T) {
	svc := newFakeService()
	svc.failUpload = true
	c := newTestClient(t, svc)

	_, err := c.RunPython(context.Background(), RunRequest{
		Code:         "print(1)",
		ContextFiles: map[string][]byte{"data.csv": []byte("a,b")},
	})
	require.Error(t, err)
	assert.Equal(t, []string{"sb-1"}, svc.tornDown, "teardown must run even when the run fails")
}

func TestRunPythonReportsNonZeroExit(t *testing.T) {
	svc := newFakeService()
	svc.execFrames = []execMessage{
		{Stream: "stderr", Data: "Traceback (most recent call last)"},
		{Stream: "exit", Code: 1},
	}
	c := newTestClient(t, svc)

	result, err := c.RunPython(context.Background(), RunRequest{Code: "raise ValueError()"})
	require.NoError(t, err, "a failing script is a result, not a client error")
	assert.Equal(t, 1, result.ExitCode)
	assert.Contains(t, result.Stderr, "Traceback")
	assert.Equal(t, []string{"sb-1"}, svc.tornDown)
}

func TestArtifactsRejectsErrorStatus(t *testing.T) {
	svc := newFakeService()
	svc.artifacts["plot.png"] = []byte("png-bytes")
	svc.failArtifact = "plot.png"
	c := newTestClient(t, svc)

	_, err := c.Artifacts(context.Background(), "sb-1")
	require.Error(t, err, "an error body must not be stored as artifact content")
	assert.Contains(t, err.Error(), "status 404")
}

func TestExecuteFailsWhenStreamClosesEarly(t *testing.T) {
	svc := newFakeService()
	svc.execFrames = []execMessage{{Stream: "stdout", Data: "partial"}}
	c := newTestClient(t, svc)

	_, err := c.RunPython(context.Background(), RunRequest{Code: "print(1)"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "before exit")
	assert.Equal(t, []string{"sb-1"}, svc.tornDown)
}

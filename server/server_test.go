package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/kevinxiao27/seqcrdt/host"
	"github.com/kevinxiao27/seqcrdt/ol"
	"github.com/kevinxiao27/seqcrdt/wire"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu   sync.Mutex
	envs []wire.Envelope
}

func (r *recorder) Publish(_ context.Context, env wire.Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.envs = append(r.envs, env)
	return nil
}

func newTestServer(replica string, pub Publisher) (*Server, http.Handler) {
	s := New(host.NewRegistry(replica, nil), pub, NewMetrics())
	return s, s.Router()
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	return v
}

func TestInsertAndDelete(t *testing.T) {
	_, h := newTestServer("r1", nil)

	rec := do(t, h, http.MethodPost, "/docs/notes/insert", InsertRequest{Pos: 0, Text: "hello"})
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[EditResponse](t, rec)
	assert.Equal(t, "hello", resp.Content)
	require.Len(t, resp.IDs, 5)

	rec = do(t, h, http.MethodPost, "/docs/notes/insert", InsertRequest{After: resp.IDs[4].String(), Text: "!"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "hello!", decode[EditResponse](t, rec).Content)

	rec = do(t, h, http.MethodPost, "/docs/notes/delete", DeleteRequest{ID: resp.IDs[0].String()})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ello!", decode[EditResponse](t, rec).Content)

	rec = do(t, h, http.MethodPost, "/docs/notes/delete", DeleteRequest{Pos: 1, Len: 2})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodGet, "/docs/notes", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	view := decode[DocumentResponse](t, rec)
	assert.Equal(t, "eo!", view.Content)
	assert.Equal(t, "notes", view.Document)
	assert.Equal(t, uint64(4), view.Version)

	rec = do(t, h, http.MethodGet, "/docs", nil)
	assert.Equal(t, []string{"notes"}, decode[[]string](t, rec))
}

func TestErrorStatuses(t *testing.T) {
	_, h := newTestServer("r1", nil)
	rec := do(t, h, http.MethodPost, "/docs/notes/insert", InsertRequest{Text: "hi"})
	require.Equal(t, http.StatusOK, rec.Code)

	cases := []struct {
		name   string
		path   string
		body   any
		status int
	}{
		{"unknown anchor", "/docs/notes/insert", InsertRequest{After: "zz:9", Text: "x"}, http.StatusUnprocessableEntity},
		{"bad anchor", "/docs/notes/insert", InsertRequest{After: "zz", Text: "x"}, http.StatusUnprocessableEntity},
		{"position past end", "/docs/notes/insert", InsertRequest{Pos: 7, Text: "x"}, http.StatusUnprocessableEntity},
		{"unknown id", "/docs/notes/delete", DeleteRequest{ID: "zz:9"}, http.StatusNotFound},
		{"range past end", "/docs/notes/delete", DeleteRequest{Pos: 1, Len: 5}, http.StatusUnprocessableEntity},
		{"bad json", "/docs/notes/delete", "{", http.StatusBadRequest},
		{"bad envelope", "/docs/notes/merge", "{", http.StatusUnprocessableEntity},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, tc.path, tc.body)
			assert.Equal(t, tc.status, rec.Code)
			assert.NotEmpty(t, decode[errorResponse](t, rec).Error)
		})
	}

	rec = do(t, h, http.MethodGet, "/docs/notes", nil)
	assert.Equal(t, "hi", decode[DocumentResponse](t, rec).Content)
}

func TestMergeBetweenServers(t *testing.T) {
	_, a := newTestServer("r1", nil)
	_, b := newTestServer("r2", nil)
	do(t, a, http.MethodPost, "/docs/notes/insert", InsertRequest{Text: "hi"})
	do(t, b, http.MethodPost, "/docs/notes/insert", InsertRequest{Text: "yo"})

	envA := do(t, a, http.MethodGet, "/docs/notes/ops", nil).Body.String()
	envB := do(t, b, http.MethodGet, "/docs/notes/ops", nil).Body.String()

	recA := do(t, a, http.MethodPost, "/docs/notes/merge", envB)
	recB := do(t, b, http.MethodPost, "/docs/notes/merge", envA)
	require.Equal(t, http.StatusOK, recA.Code)
	require.Equal(t, http.StatusOK, recB.Code)

	viewA := decode[DocumentResponse](t, recA)
	viewB := decode[DocumentResponse](t, recB)
	assert.Equal(t, viewA.Content, viewB.Content)
	assert.Equal(t, viewA.Digest, viewB.Digest)
	assert.Len(t, viewA.Content, 4)
}

func TestMergeConflictIsRejected(t *testing.T) {
	_, h := newTestServer("r1", nil)
	do(t, h, http.MethodPost, "/docs/notes/insert", InsertRequest{Text: "h"})

	env := wire.NewEnvelope("notes", "r9", []wire.Record{
		{ID: ol.ID{Replica: "r1", Counter: 1}, Value: "x", Parent: ol.Root},
		{ID: ol.ID{Replica: "r9", Counter: 1}, Value: "y", Parent: ol.Root},
	})
	data, err := env.Marshal()
	require.NoError(t, err)
	rec := do(t, h, http.MethodPost, "/docs/notes/merge", string(data))
	assert.Equal(t, http.StatusConflict, rec.Code)

	// the well-formed record still went in
	rec = do(t, h, http.MethodGet, "/docs/notes", nil)
	assert.Equal(t, "hy", decode[DocumentResponse](t, rec).Content)
}

func TestChangesArePublished(t *testing.T) {
	pub := &recorder{}
	_, h := newTestServer("r1", pub)
	do(t, h, http.MethodPost, "/docs/notes/insert", InsertRequest{Text: "ab"})
	do(t, h, http.MethodPost, "/docs/notes/delete", DeleteRequest{Pos: 0, Len: 1})
	do(t, h, http.MethodPost, "/docs/notes/delete", DeleteRequest{Pos: 5, Len: 1})

	require.Len(t, pub.envs, 2)
	last := pub.envs[1]
	assert.Equal(t, "notes", last.Document)
	assert.Equal(t, "r1", last.Replica)
	assert.Len(t, last.Records, 2)
	assert.Equal(t, wire.Digest(last.Records), last.Digest)
}

func TestDump(t *testing.T) {
	_, h := newTestServer("r1", nil)
	do(t, h, http.MethodPost, "/docs/notes/insert", InsertRequest{Text: "a"})
	rec := do(t, h, http.MethodGet, "/docs/notes/dump", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `Replica: "r1"`)
}

func readMessage(t *testing.T, conn *websocket.Conn) (WSMessage, DocumentResponse) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var msg WSMessage
	require.NoError(t, conn.ReadJSON(&msg))
	var view DocumentResponse
	if msg.Type != "error" {
		require.NoError(t, json.Unmarshal(msg.Data, &view))
	}
	return msg, view
}

func TestWebSocket(t *testing.T) {
	s, h := newTestServer("r1", nil)
	srv := httptest.NewServer(h)
	defer srv.Close()
	do(t, h, http.MethodPost, "/docs/notes/insert", InsertRequest{Text: "hi"})

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?doc=notes"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	msg, view := readMessage(t, conn)
	assert.Equal(t, "init", msg.Type)
	assert.Equal(t, "hi", view.Content)

	data, err := json.Marshal(InsertRequest{Pos: 2, Text: "!"})
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(WSMessage{Type: "insert", Data: data}))
	msg, view = readMessage(t, conn)
	assert.Equal(t, "update", msg.Type)
	assert.Equal(t, "hi!", view.Content)

	require.NoError(t, conn.WriteJSON(WSMessage{Type: "shout"}))
	msg, _ = readMessage(t, conn)
	assert.Equal(t, "error", msg.Type)

	// changes arriving from elsewhere are pushed too
	doc, ok := s.reg.Lookup("notes")
	require.True(t, ok)
	require.NoError(t, doc.DeleteAt(0, 1))
	s.Notify("notes")
	msg, view = readMessage(t, conn)
	assert.Equal(t, "update", msg.Type)
	assert.Equal(t, "i!", view.Content)
}

func TestRunsWithoutMetrics(t *testing.T) {
	s := New(host.NewRegistry("r1", nil), nil, nil)
	h := s.Router()
	rec := do(t, h, http.MethodPost, "/docs/notes/insert", InsertRequest{Text: "hi"})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, h, http.MethodPost, "/docs/notes/delete", DeleteRequest{Pos: 9, Len: 1})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	srv := httptest.NewServer(h)
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?doc=notes"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	msg, view := readMessage(t, conn)
	assert.Equal(t, "init", msg.Type)
	assert.Equal(t, "hi", view.Content)

	data, err := json.Marshal(InsertRequest{Pos: 2, Text: "!"})
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(WSMessage{Type: "insert", Data: data}))
	msg, view = readMessage(t, conn)
	assert.Equal(t, "update", msg.Type)
	assert.Equal(t, "hi!", view.Content)
	require.NoError(t, conn.Close())
}

func TestMetricsCount(t *testing.T) {
	m := NewMetrics()
	h := New(host.NewRegistry("r1", nil), nil, m).Router()
	do(t, h, http.MethodPost, "/docs/notes/insert", InsertRequest{Text: "ab"})
	do(t, h, http.MethodPost, "/docs/notes/delete", DeleteRequest{Pos: 0, Len: 1})
	do(t, h, http.MethodPost, "/docs/notes/delete", DeleteRequest{Pos: 5, Len: 1})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Ops.WithLabelValues("insert")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Ops.WithLabelValues("delete")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Errors.WithLabelValues("delete")))
}

func TestViewCachedPerVersion(t *testing.T) {
	s, _ := newTestServer("r1", nil)
	doc, err := s.reg.Open(context.Background(), "notes")
	require.NoError(t, err)
	_, err = doc.Insert(ol.Root, "ab")
	require.NoError(t, err)

	first := s.view(doc)
	assert.Equal(t, first, s.view(doc))
	assert.Equal(t, 1, s.views.Len())
	assert.True(t, s.views.Contains(viewKey("notes", first.Version)))

	require.NoError(t, doc.DeleteAt(0, 1))
	second := s.view(doc)
	assert.Equal(t, "b", second.Content)
	assert.Equal(t, first.Version+1, second.Version)
	assert.Equal(t, 2, s.views.Len())
}

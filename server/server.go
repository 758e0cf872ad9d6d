// Package server exposes a Registry over HTTP and websockets.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/golang/glog"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/kevinxiao27/seqcrdt/host"
	"github.com/kevinxiao27/seqcrdt/ol"
	"github.com/kevinxiao27/seqcrdt/persist"
	"github.com/kevinxiao27/seqcrdt/wire"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Publisher ships an envelope to other processes.
type Publisher interface {
	Publish(ctx context.Context, env wire.Envelope) error
}

type Server struct {
	reg     *host.Registry
	pub     Publisher // may be nil
	metrics *Metrics
	views   *lru.Cache[string, DocumentResponse]

	upgrader  websocket.Upgrader
	clientsMu sync.Mutex
	clients   map[string][]*client
}

type DocumentResponse struct {
	Document string `json:"document"`
	Content  string `json:"content"`
	Version  uint64 `json:"version"`
	Digest   uint64 `json:"digest"`
}

type EditResponse struct {
	DocumentResponse
	IDs []ol.ID `json:"ids,omitempty"`
}

// InsertRequest anchors Text either after the element After or, when After
// is empty, at the visible position Pos.
type InsertRequest struct {
	After string `json:"after,omitempty"`
	Pos   int    `json:"pos,omitempty"`
	Text  string `json:"text"`
}

// DeleteRequest removes the element ID or, when ID is empty, Len visible
// characters from Pos.
type DeleteRequest struct {
	ID  string `json:"id,omitempty"`
	Pos int    `json:"pos,omitempty"`
	Len int    `json:"len,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// New serves reg. pub and metrics may both be nil.
func New(reg *host.Registry, pub Publisher, metrics *Metrics) *Server {
	views, _ := lru.New[string, DocumentResponse](256)
	return &Server{
		reg:     reg,
		pub:     pub,
		metrics: metrics,
		views:   views,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[string][]*client),
	}
}

func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/docs", s.handleList).Methods(http.MethodGet)
	r.HandleFunc("/docs/{name}", s.handleGet).Methods(http.MethodGet)
	r.HandleFunc("/docs/{name}/insert", s.handleInsert).Methods(http.MethodPost)
	r.HandleFunc("/docs/{name}/delete", s.handleDelete).Methods(http.MethodPost)
	r.HandleFunc("/docs/{name}/ops", s.handleOps).Methods(http.MethodGet)
	r.HandleFunc("/docs/{name}/merge", s.handleMerge).Methods(http.MethodPost)
	r.HandleFunc("/docs/{name}/save", s.handleSave).Methods(http.MethodPost)
	r.HandleFunc("/docs/{name}/dump", s.handleDump).Methods(http.MethodGet)
	r.HandleFunc("/ws", s.handleWebSocket)
	r.Handle("/metrics", promhttp.Handler())
	return r
}

func (s *Server) open(w http.ResponseWriter, r *http.Request) (*host.Replica, bool) {
	doc, err := s.reg.Open(r.Context(), mux.Vars(r)["name"])
	if err != nil {
		writeError(w, err)
		return nil, false
	}
	return doc, true
}

func viewKey(name string, version uint64) string {
	return fmt.Sprintf("%s@%d", name, version)
}

// view renders doc, reusing the last rendering while the version is unchanged.
// A rendering is always cached under the version it was taken at.
func (s *Server) view(doc *host.Replica) DocumentResponse {
	if v, ok := s.views.Get(viewKey(doc.Name(), doc.Version())); ok {
		return v
	}
	text, digest, version := doc.Snapshot()
	v := DocumentResponse{Document: doc.Name(), Content: text, Version: version, Digest: digest}
	if cached, ok := s.views.Get(viewKey(doc.Name(), version)); ok {
		return cached
	}
	s.views.Add(viewKey(doc.Name(), version), v)
	return v
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.reg.Names())
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	doc, ok := s.open(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.view(doc))
}

func (s *Server) handleInsert(w http.ResponseWriter, r *http.Request) {
	doc, ok := s.open(w, r)
	if !ok {
		return
	}
	var req InsertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})
		return
	}
	glog.Infof("INSERT: replica=%s doc=%s after=%q pos=%d text=%q", doc.ReplicaID(), doc.Name(), req.After, req.Pos, req.Text)

	ids, err := s.insert(r.Context(), doc, req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, EditResponse{DocumentResponse: s.view(doc), IDs: ids})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	doc, ok := s.open(w, r)
	if !ok {
		return
	}
	var req DeleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})
		return
	}
	glog.Infof("DELETE: replica=%s doc=%s id=%q pos=%d len=%d", doc.ReplicaID(), doc.Name(), req.ID, req.Pos, req.Len)

	if err := s.delete(r.Context(), doc, req); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, EditResponse{DocumentResponse: s.view(doc)})
}

func (s *Server) handleOps(w http.ResponseWriter, r *http.Request) {
	doc, ok := s.open(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, doc.Envelope())
}

func (s *Server) handleMerge(w http.ResponseWriter, r *http.Request) {
	doc, ok := s.open(w, r)
	if !ok {
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})
		return
	}
	env, err := wire.Unmarshal(body)
	if err != nil {
		writeError(w, err)
		return
	}
	glog.Infof("MERGE: replica=%s doc=%s from=%s batch=%s records=%d", doc.ReplicaID(), doc.Name(), env.Replica, env.Batch, len(env.Records))

	if err := s.merge(r.Context(), doc, env); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.view(doc))
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	doc, ok := s.open(w, r)
	if !ok {
		return
	}
	if err := s.reg.Save(r.Context(), doc.Name()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.view(doc))
}

func (s *Server) handleDump(w http.ResponseWriter, r *http.Request) {
	doc, ok := s.open(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, doc.Dump())
}

func (s *Server) insert(ctx context.Context, doc *host.Replica, req InsertRequest) ([]ol.ID, error) {
	var ids []ol.ID
	var err error
	if req.After != "" {
		var after ol.ID
		if after, err = ol.ParseID(req.After); err == nil {
			ids, err = doc.Insert(after, req.Text)
		}
	} else {
		ids, err = doc.InsertAfterPos(req.Pos, req.Text)
	}
	s.metrics.observe("insert", err)
	if len(ids) > 0 {
		s.changed(ctx, doc)
	}
	return ids, err
}

func (s *Server) delete(ctx context.Context, doc *host.Replica, req DeleteRequest) error {
	var err error
	if req.ID != "" {
		var id ol.ID
		if id, err = ol.ParseID(req.ID); err == nil {
			err = doc.Delete(id)
		}
	} else {
		err = doc.DeleteAt(req.Pos, req.Len)
	}
	s.metrics.observe("delete", err)
	if err == nil {
		s.changed(ctx, doc)
	}
	return err
}

// merge applies env and announces the result even when some records were
// rejected, since the well-formed ones are already in.
func (s *Server) merge(ctx context.Context, doc *host.Replica, env wire.Envelope) error {
	err := doc.Apply(env)
	s.metrics.observe("merge", err)
	if !errors.Is(err, wire.ErrBadRecord) {
		s.changed(ctx, doc)
	}
	return err
}

// changed tells local websocket clients and remote processes about a local
// change to doc.
func (s *Server) changed(ctx context.Context, doc *host.Replica) {
	s.Notify(doc.Name())
	if s.pub == nil {
		return
	}
	if err := s.pub.Publish(ctx, doc.Envelope()); err != nil {
		glog.Warningf("PUBLISH: doc=%s: %v", doc.Name(), err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		glog.Warningf("write response: %v", err)
	}
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, ol.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ol.ErrDuplicateID):
		return http.StatusConflict
	case errors.Is(err, ol.ErrInvalidAnchor),
		errors.Is(err, ol.ErrOutOfRange),
		errors.Is(err, ol.ErrMalformed),
		errors.Is(err, wire.ErrBadRecord),
		errors.Is(err, persist.ErrBadName):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		glog.Errorf("request failed: %v", err)
	}
	writeJSON(w, status, errorResponse{err.Error()})
}

// Package httpapi exposes the cache engine and the expiring-stamp helper
// over HTTP. Handlers are a thin request/response mapping; all semantics
// live below. Routes keep the original service's casing so existing clients
// keep working.
package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/cockroachdb/errors"

	"github.com/mutabot/dynoris"
	"github.com/mutabot/dynoris/lease"
	"github.com/mutabot/dynoris/logger"
	"github.com/mutabot/dynoris/stamp"
)

// CacheItemRequest carries the read-through parameters for all three entry
// shapes; IndexName and HashKey only apply to the hash variants.
type CacheItemRequest struct {
	CacheKey  string               `json:"cacheKey"`
	Table     string               `json:"table"`
	StoreKey  []lease.KeyComponent `json:"storeKey"`
	IndexName string               `json:"indexName,omitempty"`
	HashKey   string               `json:"hashKey,omitempty"`
}

type CommitRequest struct {
	CacheKey  string `json:"cacheKey"`
	UpdateKey string `json:"updateKey,omitempty"`
}

type ExpiringStampRequest struct {
	Table     string               `json:"table"`
	Index     string               `json:"index"`
	StoreKeys []lease.KeyComponent `json:"storeKeys"`
	StampKey  lease.KeyComponent   `json:"stampKey"`
	// Direction is "<" (default) or ">".
	Direction string `json:"direction,omitempty"`
}

type StampCommitRequest struct {
	Table     string               `json:"table"`
	StoreKeys []lease.KeyComponent `json:"storeKeys"`
	ItemJSON  string               `json:"itemJson"`
}

type Server struct {
	engine dynoris.Engine
	stamps *stamp.Provider
	log    logger.Logger
}

func NewServer(engine dynoris.Engine, stamps *stamp.Provider, log logger.Logger) *Server {
	if log == nil {
		log = logger.Nop{}
	}
	return &Server{engine: engine, stamps: stamps, log: log}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/Dynoris/CacheItem", s.cacheItem)
	mux.HandleFunc("POST /api/Dynoris/CacheHash", s.cacheHash)
	mux.HandleFunc("POST /api/Dynoris/CacheAsHash", s.cacheAsHash)
	mux.HandleFunc("POST /api/Dynoris/CommitItem", s.commitItem)
	mux.HandleFunc("POST /api/Dynoris/CommitHash", s.commitItem)
	mux.HandleFunc("POST /api/Dynoris/DeleteItem", s.deleteItem)
	mux.HandleFunc("POST /api/ExpiringStamp/Next", s.stampNext)
	mux.HandleFunc("POST /api/ExpiringStamp/CommitItem", s.stampCommit)
	return mux
}

func (s *Server) cacheItem(w http.ResponseWriter, r *http.Request) {
	var req CacheItemRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.engine.CacheItem(r.Context(), req.CacheKey, req.Table, req.StoreKey); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) cacheHash(w http.ResponseWriter, r *http.Request) {
	var req CacheItemRequest
	if !s.decode(w, r, &req) {
		return
	}
	n, err := s.engine.CacheHash(r.Context(), req.CacheKey, req.Table, req.IndexName, req.HashKey, req.StoreKey)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, n)
}

func (s *Server) cacheAsHash(w http.ResponseWriter, r *http.Request) {
	var req CacheItemRequest
	if !s.decode(w, r, &req) {
		return
	}
	n, err := s.engine.CacheAsHash(r.Context(), req.CacheKey, req.Table, req.HashKey, req.StoreKey)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, n)
}

func (s *Server) commitItem(w http.ResponseWriter, r *http.Request) {
	var req CommitRequest
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.engine.CommitItem(r.Context(), req.CacheKey, req.UpdateKey)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	switch res.Kind {
	case lease.KindHash, lease.KindHashDocument:
		s.respond(w, res.Members)
	default:
		s.respond(w, res.PrevJSON)
	}
}

func (s *Server) deleteItem(w http.ResponseWriter, r *http.Request) {
	var cacheKey string
	if !s.decode(w, r, &cacheKey) {
		return
	}
	s.engine.DeleteItem(r.Context(), cacheKey)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) stampNext(w http.ResponseWriter, r *http.Request) {
	var req ExpiringStampRequest
	if !s.decode(w, r, &req) {
		return
	}
	dir := stamp.Before
	if req.Direction == string(stamp.After) {
		dir = stamp.After
	}
	items, err := s.stamps.Next(r.Context(), req.Table, req.Index, req.StoreKeys, req.StampKey, dir)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if items == nil {
		items = []string{}
	}
	s.respond(w, items)
}

func (s *Server) stampCommit(w http.ResponseWriter, r *http.Request) {
	var req StampCommitRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.stamps.CommitItem(r.Context(), req.Table, req.StoreKeys, req.ItemJSON); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return false
	}
	return true
}

func (s *Server) respond(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// fail maps errors to status codes. A broken lease invariant is a conflict
// worth distinguishing; everything else is an upstream failure surfaced
// as-is, with no retry here.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	s.log.Error("request failed", logger.Fields{
		"path": r.URL.Path,
		"err":  err,
	})
	if errors.Is(err, lease.ErrInvalidState) {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	http.Error(w, err.Error(), http.StatusBadGateway)
}

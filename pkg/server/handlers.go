package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/verdantlabs/symbiont/pkg/retrieval"
	"github.com/verdantlabs/symbiont/pkg/storage"
	"github.com/verdantlabs/symbiont/pkg/tree"
)

type errorResponse struct {
	Error string `json:"error"`
}

// statusFor maps sentinel errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, storage.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, storage.ErrInvalidData),
		errors.Is(err, storage.ErrInvalidID),
		errors.Is(err, storage.ErrInvalidDimension):
		return http.StatusBadRequest
	case errors.Is(err, storage.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.log.Error("request failed", zap.Error(err))
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func (s *Server) handleCreateNode(w http.ResponseWriter, r *http.Request) {
	var req tree.CreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
		return
	}
	node, err := s.db.CreateNode(&req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, node)
}

func (s *Server) handleGetNode(w http.ResponseWriter, r *http.Request) {
	node, err := s.db.GetNode(storage.NodeID(chi.URLParam(r, "nodeID")))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, node)
}

func (s *Server) handleUpdateNode(w http.ResponseWriter, r *http.Request) {
	var node storage.Node
	if err := decodeJSON(r, &node); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
		return
	}
	node.ID = storage.NodeID(chi.URLParam(r, "nodeID"))
	updated, err := s.db.UpdateNode(&node)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteNode(w http.ResponseWriter, r *http.Request) {
	cascade := r.URL.Query().Get("cascade") == "true"
	result, err := s.db.DeleteNode(r.Context(), storage.NodeID(chi.URLParam(r, "nodeID")), cascade)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleListChildren(w http.ResponseWriter, r *http.Request) {
	children, err := s.db.Tree().Children(storage.NodeID(chi.URLParam(r, "nodeID")))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, children)
}

func (s *Server) handleNodePath(w http.ResponseWriter, r *http.Request) {
	path, err := s.db.Tree().Path(storage.NodeID(chi.URLParam(r, "nodeID")))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, path)
}

func (s *Server) handleSessionNodes(w http.ResponseWriter, r *http.Request) {
	nodes, err := s.db.Tree().Session(chi.URLParam(r, "sessionID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nodes)
}

func (s *Server) handleUpsertParagraph(w http.ResponseWriter, r *http.Request) {
	var p storage.Paragraph
	if err := decodeJSON(r, &p); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
		return
	}
	p.ID = storage.ParagraphID(chi.URLParam(r, "paragraphID"))
	if err := s.db.UpsertParagraph(r.Context(), &p); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleDeleteParagraph(w http.ResponseWriter, r *http.Request) {
	if err := s.db.DeleteParagraph(r.Context(), storage.ParagraphID(chi.URLParam(r, "paragraphID"))); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type retrieveRequest struct {
	Query   string           `json:"query"`
	Scope   retrieval.Scope  `json:"scope"`
	Options *retrieveOptions `json:"options,omitempty"`
}

type retrieveOptions struct {
	K           int     `json:"k,omitempty"`
	Alpha       float64 `json:"alpha,omitempty"`
	LexicalOnly bool    `json:"lexicalOnly,omitempty"`
	Depth       int     `json:"depth,omitempty"`
	Rerank      bool    `json:"rerank,omitempty"`
}

func (s *Server) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	var req retrieveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
		return
	}
	if req.Query == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "query must not be empty"})
		return
	}

	var opts *retrieval.Options
	if req.Options != nil {
		opts = &retrieval.Options{
			K:           req.Options.K,
			Alpha:       req.Options.Alpha,
			LexicalOnly: req.Options.LexicalOnly,
			Depth:       req.Options.Depth,
			Rerank:      req.Options.Rerank,
		}
	}
	bundle, err := s.db.Retrieve(r.Context(), req.Query, req.Scope, opts)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bundle)
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	stats, err := s.db.Stats()
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

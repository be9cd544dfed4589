package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/diaryrag/internal/command"
)

const maxBodyBytes = 4 << 20

func (s *Server) handleCommand(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, ok := s.readBody(w, r)
		if !ok {
			return
		}
		s.logger.Debug("command request", zap.String("command", name), zap.Int("bytes", len(body)))
		s.respond(w, s.dispatcher.Handle(r.Context(), name, body))
	}
}

func (s *Server) handleUpsert(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}
	resp := s.dispatcher.Handle(r.Context(), command.Upsert, body)
	if resp.Success {
		resp.Status = http.StatusCreated
	}
	s.respond(w, resp)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "diary id must be an integer")
		return
	}
	s.logger.Debug("delete diary request", zap.Int64("diary_id", id))
	s.respond(w, s.dispatcher.DeleteID(r.Context(), id))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.respond(w, s.dispatcher.Handle(r.Context(), command.Status, nil))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return nil, false
	}
	return body, true
}

func (s *Server) respond(w http.ResponseWriter, resp command.Response) {
	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}
	s.respondJSON(w, status, resp)
}

// respondJSON encodes data before writing the header, so an unencodable
// payload still reaches the client as an error envelope.
func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(data); err != nil {
		s.logger.Error("failed to encode response", zap.Error(err))
		buf.Reset()
		status = http.StatusInternalServerError
		_ = json.NewEncoder(&buf).Encode(map[string]any{
			"success": false,
			"message": "failed to encode response: " + err.Error(),
		})
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(buf.Bytes()); err != nil {
		s.logger.Warn("failed to write response", zap.Error(err))
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]any{"success": false, "message": message})
}

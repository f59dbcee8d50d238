package app

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"preview/api/internal/realtime"
)

type HTTPServer struct {
	service    *Service
	stream     *realtime.StreamHandler
	corsOrigin string
	logger     zerolog.Logger
}

func NewHTTPServer(service *Service, stream *realtime.StreamHandler, corsOrigin string, logger zerolog.Logger) *HTTPServer {
	return &HTTPServer{
		service:    service,
		stream:     stream,
		corsOrigin: corsOrigin,
		logger:     logger.With().Str("component", "http").Logger(),
	}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"sessionStore": map[string]any{"status": "ok"},
		}
		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["sessionStore"] = map[string]any{
				"status": "error",
				"error":  err.Error(),
			}
		}
		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	parts := splitPath(r.URL.Path)

	// Viewer routes: the token is the only credential.
	if len(parts) == 2 && parts[0] == "preview-data" {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		body, err := s.service.PreviewData(r.Context(), parts[1])
		if err != nil {
			s.fail(w, r, err)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(body)
		return
	}

	if len(parts) < 2 || parts[0] != "api" || parts[1] != "preview" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	if len(parts) == 4 && r.Method == http.MethodGet && parts[3] == "stream" {
		key, err := s.service.StreamKey(r.Context(), parts[2])
		if err != nil {
			s.fail(w, r, err)
			return
		}
		s.stream.Serve(w, r, key)
		return
	}

	if len(parts) == 4 && r.Method == http.MethodGet && parts[3] == "history" {
		limit := 20
		if raw := r.URL.Query().Get("limit"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed <= 0 {
				writeError(w, http.StatusBadRequest, "INVALID_LIMIT", "limit must be a positive integer", nil)
				return
			}
			limit = parsed
		}
		history, err := s.service.History(r.Context(), parts[2], limit)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		items := make([]map[string]any, 0, len(history))
		for _, commit := range history {
			items = append(items, map[string]any{
				"hash":      commit.Hash,
				"message":   strings.TrimSpace(commit.Message),
				"author":    commit.Author,
				"createdAt": commit.CreatedAt.UTC().Format(time.RFC3339),
			})
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
		return
	}

	if len(parts) == 4 && r.Method == http.MethodGet && parts[3] == "published" {
		published, err := s.service.Published(r.Context(), parts[2])
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"page":    published.Page,
			"changes": published.Changes,
			"commit": map[string]any{
				"hash":      published.Commit.Hash,
				"message":   strings.TrimSpace(published.Commit.Message),
				"author":    published.Commit.Author,
				"createdAt": published.Commit.CreatedAt.UTC().Format(time.RFC3339),
			},
		})
		return
	}

	// Editor routes.
	if err := s.service.AuthorizeEditor(r.Header.Get("X-Preview-Editor-Key")); err != nil {
		s.fail(w, r, err)
		return
	}

	if len(parts) == 2 && r.Method == http.MethodPost {
		var body struct {
			Page    string         `json:"page"`
			Changes map[string]any `json:"changes"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		created, err := s.service.CreateSession(r.Context(), body.Page, body.Changes)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{
			"token":     created.Token,
			"page":      created.Page,
			"expiresAt": created.ExpiresAt.UTC().Format(time.RFC3339),
			"dropped":   nonNil(created.Dropped),
		})
		return
	}

	if len(parts) == 3 && r.Method == http.MethodDelete {
		if err := s.service.DeleteSession(r.Context(), parts[2]); err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if len(parts) == 4 && parts[3] == "changes" && (r.Method == http.MethodPatch || r.Method == http.MethodPost) {
		var entries map[string]any
		if err := decodeBody(r, &entries); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		result, err := s.service.ApplyChanges(r.Context(), parts[2], entries)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"applied": result.Applied,
			"dropped": nonNil(result.Dropped),
		})
		return
	}

	if len(parts) == 4 && parts[3] == "publish" && r.Method == http.MethodPost {
		var body struct {
			Author  string `json:"author"`
			Message string `json:"message"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		commit, err := s.service.Publish(r.Context(), parts[2], body.Author, body.Message)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"hash":      commit.Hash,
			"message":   strings.TrimSpace(commit.Message),
			"author":    commit.Author,
			"createdAt": commit.CreatedAt.UTC().Format(time.RFC3339),
		})
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error().
			Err(err).
			Str("request_id", requestIDFrom(r.Context())).
			Str("path", redactPath(r.URL.Path)).
			Msg("request failed")
	}
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		s.logger.Info().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", redactPath(r.URL.Path)).
			Int("status", writer.status).
			Int64("duration_ms", time.Since(started).Milliseconds()).
			Msg("request")
	})
}

type requestIDKey struct{}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Hijack lets the websocket upgrader take over the connection.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return hijacker.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// redactPath keeps preview tokens out of access logs.
func redactPath(path string) string {
	parts := splitPath(path)
	if len(parts) >= 2 && parts[0] == "preview-data" {
		parts[1] = "{token}"
	}
	if len(parts) >= 3 && parts[0] == "api" && parts[1] == "preview" {
		parts[2] = "{token}"
	}
	return "/" + strings.Join(parts, "/")
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, X-Preview-Editor-Key, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PATCH,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

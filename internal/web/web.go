package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"examcal/internal/app"
	"examcal/internal/config"
	"examcal/internal/exam"
	"examcal/internal/ics"
	appLog "examcal/internal/log"
	"examcal/internal/model"
)

// maxImportBytes bounds the calendar document accepted by the import
// endpoint.
const maxImportBytes = 1 << 20

// Server exposes the schedule, selections and export links over HTTP. It
// holds no state of its own; everything goes through app.App.
type Server struct {
	cfg *config.Config
	app *app.App
	mux *http.ServeMux
}

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, a *app.App) *Server {
	s := &Server{
		cfg: cfg,
		app: a,
		mux: http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled for /api", "listen", "http://"+s.cfg.Listen)
		h = s.basicAuthMiddleware(h)
	}
	return s.logRequests(h)
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// Empty username or password disables auth.
	if s.cfg.BasicAuth.Username == "" || s.cfg.BasicAuth.Password == "" {
		return false
	}
	return true
}

// basicAuthMiddleware guards /api/*. Health and export links stay open so
// calendar clients can subscribe without credentials.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !isAPIPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="examcal", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func isAPIPath(p string) bool {
	return p == "/api" || strings.HasPrefix(p, "/api/")
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		appLog.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"elapsed", time.Since(start).String(),
		)
	})
}

// Serve runs an HTTP server on cfg.Listen until ctx is cancelled, then
// shuts it down gracefully.
func Serve(ctx context.Context, cfg *config.Config, a *app.App) error {
	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           NewServer(cfg, a).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)

	s.mux.HandleFunc("GET /api/exams", s.handleExams)
	s.mux.HandleFunc("GET /api/exams/{id}", s.handleExam)
	s.mux.HandleFunc("GET /api/filters", s.handleFilters)
	s.mux.HandleFunc("GET /api/range", s.handleRange)
	s.mux.HandleFunc("GET /api/token", s.handleToken)

	s.mux.HandleFunc("GET /api/selection/{token}", s.handleSelection)
	s.mux.HandleFunc("DELETE /api/selection/{token}", s.handleClearSelection)
	s.mux.HandleFunc("PUT /api/selection/{token}/{id}", s.handleSelect)
	s.mux.HandleFunc("DELETE /api/selection/{token}/{id}", s.handleDeselect)
	s.mux.HandleFunc("POST /api/selection/{token}/import", s.handleImport)

	s.mux.HandleFunc("GET "+s.exportPrefix()+"{file...}", s.handleExport)
}

func (s *Server) exportPrefix() string {
	if s.cfg == nil || s.cfg.Export.PathPrefix == "" {
		return app.DefaultPathPrefix
	}
	return config.NormalizePathPrefix(s.cfg.Export.PathPrefix)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// examsResponse is the JSON response shape for /api/exams.
type examsResponse struct {
	Exams []model.ProjectedEvent `json:"exams"`
}

// handleExams returns the projected exams matching the query.
//
// GET /api/exams?group=I4&examiner=Schmidt&room=T101&name=Mathe
//   - group, room: must equal one comma-separated token
//   - examiner, name: substring match
func (s *Server) handleExams(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	c := exam.Criteria{
		Group:    q.Get("group"),
		Examiner: q.Get("examiner"),
		Room:     q.Get("room"),
		Name:     q.Get("name"),
	}
	writeJSON(w, http.StatusOK, examsResponse{Exams: s.app.Exams(c)})
}

func (s *Server) handleExam(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt(w, r, "id")
	if !ok {
		return
	}
	ev, err := s.app.Repository().EventByID(id)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

func (s *Server) handleFilters(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.app.FilterValues())
}

// rangeResponse is the JSON response shape for /api/range.
type rangeResponse struct {
	Empty bool     `json:"empty"`
	First string   `json:"first,omitempty"`
	Last  string   `json:"last,omitempty"`
	Days  []string `json:"days"`
}

func (s *Server) handleRange(w http.ResponseWriter, _ *http.Request) {
	rng, ok, err := s.app.DisplayRange()
	if err != nil {
		writeAppError(w, err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusOK, rangeResponse{Empty: true, Days: []string{}})
		return
	}
	days := make([]string, 0, len(rng.Days))
	for _, d := range rng.Days {
		days = append(days, d.Format(time.DateOnly))
	}
	writeJSON(w, http.StatusOK, rangeResponse{
		First: rng.First.Format(time.DateOnly),
		Last:  rng.End.AddDate(0, 0, -1).Format(time.DateOnly),
		Days:  days,
	})
}

// tokenResponse is the JSON response shape for /api/token.
type tokenResponse struct {
	Token      string `json:"token"`
	ExportPath string `json:"export_path"`
}

func (s *Server) handleToken(w http.ResponseWriter, _ *http.Request) {
	token, err := s.app.NewToken()
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{
		Token:      token.String(),
		ExportPath: s.app.ExportPath(token),
	})
}

// selectionResponse is the JSON response shape for /api/selection/{token}.
type selectionResponse struct {
	Token      string `json:"token"`
	IDs        []int  `json:"ids"`
	Count      int    `json:"count"`
	Stale      int    `json:"stale,omitempty"`
	ExportPath string `json:"export_path"`
}

func (s *Server) selectionBody(token model.Token) (selectionResponse, error) {
	view, err := s.app.Selection(token)
	if err != nil {
		return selectionResponse{}, err
	}
	return selectionResponse{
		Token:      view.Token.String(),
		IDs:        view.IDs,
		Count:      len(view.IDs),
		Stale:      view.Stale,
		ExportPath: s.app.ExportPath(token),
	}, nil
}

func (s *Server) writeSelection(w http.ResponseWriter, token model.Token) {
	body, err := s.selectionBody(token)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleSelection(w http.ResponseWriter, r *http.Request) {
	token, ok := pathToken(w, r)
	if !ok {
		return
	}
	s.writeSelection(w, token)
}

func (s *Server) handleClearSelection(w http.ResponseWriter, r *http.Request) {
	token, ok := pathToken(w, r)
	if !ok {
		return
	}
	if err := s.app.Clear(token); err != nil {
		writeAppError(w, err)
		return
	}
	s.writeSelection(w, token)
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	token, ok := pathToken(w, r)
	if !ok {
		return
	}
	id, ok := pathInt(w, r, "id")
	if !ok {
		return
	}
	if err := s.app.Select(token, id); err != nil {
		writeAppError(w, err)
		return
	}
	s.writeSelection(w, token)
}

func (s *Server) handleDeselect(w http.ResponseWriter, r *http.Request) {
	token, ok := pathToken(w, r)
	if !ok {
		return
	}
	id, ok := pathInt(w, r, "id")
	if !ok {
		return
	}
	if err := s.app.Deselect(token, id); err != nil {
		writeAppError(w, err)
		return
	}
	s.writeSelection(w, token)
}

// importResponse is the JSON response shape for the import endpoint.
type importResponse struct {
	Added int `json:"added"`
	selectionResponse
}

// handleImport merges a previously exported calendar document (request
// body) into the selection.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	token, ok := pathToken(w, r)
	if !ok {
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxImportBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "calendar document too large")
			return
		}
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	added, err := s.app.Import(token, body)
	if err != nil {
		writeAppError(w, err)
		return
	}
	sel, err := s.selectionBody(token)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, importResponse{Added: added, selectionResponse: sel})
}

// handleExport serves GET <prefix><token>.ics. The path is validated by
// app.ExportByPath; this handler only maps its errors to status codes.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	body, err := s.app.ExportByPath(r.URL.Path)
	if err != nil {
		writeAppError(w, err)
		return
	}
	w.Header().Set("Content-Type", ics.ContentType)
	w.Header().Set("Content-Disposition", `inline; filename="`+path.Base(r.URL.Path)+`"`)
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func pathToken(w http.ResponseWriter, r *http.Request) (model.Token, bool) {
	token, err := model.ParseToken(r.PathValue("token"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid token")
		return model.Token{}, false
	}
	return token, true
}

func pathInt(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	n, err := strconv.Atoi(r.PathValue(name))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return n, true
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	var pe *model.ParseError
	switch {
	case errors.Is(err, model.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &pe):
		return http.StatusUnprocessableEntity
	case errors.Is(err, model.ErrStorage), errors.Is(err, model.ErrSourceUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeAppError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		appLog.Error("request failed", err, "status", status)
		writeError(w, status, http.StatusText(status))
		return
	}
	writeError(w, status, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}

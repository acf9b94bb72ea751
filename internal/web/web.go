package web

import (
	"context"
	"crypto/subtle"
	"embed"
	"encoding/json"
	"errors"
	"html/template"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"workcal/internal/config"
	"workcal/internal/ics"
	appLog "workcal/internal/log"
	"workcal/internal/metrics"
	"workcal/internal/model"
	"workcal/internal/pipeline"
	"workcal/internal/schedule"
	"workcal/internal/textfmt"
)

const (
	scheduleCacheTTL = 30 * time.Second
	maxRequestBytes  = 1 << 20

	// maxWindowDays bounds both days and backfill of a feed request.
	maxWindowDays = 366
	// maxCachedWindows bounds the number of windows kept in the cache.
	maxCachedWindows = 8
)

//go:embed templates/schedule.html
var templateFS embed.FS

var scheduleTmpl = template.Must(template.ParseFS(templateFS, "templates/schedule.html"))

// Server serves the rescheduled feed and an ad-hoc reschedule API.
type Server struct {
	cfg      *config.Config
	runner   *pipeline.Runner
	recorder *metrics.Recorder
	mux      *http.ServeMux
	now      func() time.Time

	// Feed schedules keyed by window, so API requests do not refetch
	// every feed. The cron refresh in serve mode keeps the default
	// window warm.
	mu    sync.RWMutex
	cache map[windowKey]*cachedSchedule
}

type windowKey struct {
	days, backfill int
}

type cachedSchedule struct {
	res       pipeline.Result
	updatedAt time.Time
}

// NewServer constructs a Server. recorder may be nil.
func NewServer(cfg *config.Config, runner *pipeline.Runner, recorder *metrics.Recorder) *Server {
	s := &Server{
		cfg:      cfg,
		runner:   runner,
		recorder: recorder,
		mux:      http.NewServeMux(),
		now:      time.Now,
		cache:    make(map[windowKey]*cachedSchedule),
	}
	s.registerRoutes()
	return s
}

// Handler returns the root handler, wrapped in Basic Auth when configured.
func (s *Server) Handler() http.Handler {
	if s.basicAuthEnabled() {
		return s.basicAuthMiddleware(s.mux)
	}
	return s.mux
}

// ListenAndServe serves until ctx is canceled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen, "basic_auth", s.basicAuthEnabled())
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

// Refresh rebuilds the default window and stores it in the cache.
func (s *Server) Refresh(ctx context.Context, trigger string) error {
	key := windowKey{days: min(s.cfg.HorizonDays, maxWindowDays)}
	_, err := s.build(ctx, trigger, key)
	return err
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/schedule", s.handleSchedule)
	s.mux.HandleFunc("POST /api/reschedule", s.handleReschedule)
	s.mux.HandleFunc("GET /schedule.ics", s.handleScheduleICS)
	s.mux.HandleFunc("GET /schedule", s.handleSchedulePage)
	s.mux.Handle("GET /metrics", promhttp.Handler())
}

func (s *Server) basicAuthEnabled() bool {
	return s.cfg != nil && s.cfg.BasicAuth != nil &&
		s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware guards everything except /health.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}
		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="workcal", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func secureCompare(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// eventDTO is the JSON view of a scheduled event.
type eventDTO struct {
	SourceID      string     `json:"source_id,omitempty"`
	UID           string     `json:"uid,omitempty"`
	Name          string     `json:"name"`
	Start         time.Time  `json:"start"`
	End           time.Time  `json:"end"`
	Relocated     bool       `json:"relocated"`
	OriginalStart *time.Time `json:"original_start,omitempty"`
}

// scheduleResponse is the JSON shape of /api/schedule and /api/reschedule.
type scheduleResponse struct {
	Events        []eventDTO `json:"events"`
	Kept          int        `json:"kept"`
	Relocated     int        `json:"relocated"`
	RangeStart    *time.Time `json:"range_start,omitempty"`
	RangeEnd      *time.Time `json:"range_end,omitempty"`
	TimeZone      string     `json:"timezone"`
	TruncatedUIDs []string   `json:"truncated_uids,omitempty"`
	SkippedAllDay int        `json:"skipped_all_day,omitempty"`
	SourceErrors  string     `json:"source_errors,omitempty"`
}

type lineErrorDTO struct {
	Line  int    `json:"line"`
	Text  string `json:"text"`
	Error string `json:"error"`
}

func toDTOs(res schedule.Result) []eventDTO {
	origin := make(map[model.Event]model.Event, len(res.Relocations))
	for _, rel := range res.Relocations {
		if rel.Moved() {
			origin[rel.To] = rel.From
		}
	}
	dtos := make([]eventDTO, 0, len(res.Events))
	for _, ev := range res.Events {
		dto := eventDTO{
			SourceID: ev.SourceID,
			UID:      ev.UID,
			Name:     ev.Name,
			Start:    ev.Start,
			End:      ev.End,
		}
		if from, ok := origin[ev]; ok {
			dto.Relocated = true
			start := from.Start
			dto.OriginalStart = &start
		}
		dtos = append(dtos, dto)
	}
	return dtos
}

func relocatedCount(res schedule.Result) int {
	n := 0
	for _, rel := range res.Relocations {
		if rel.Moved() {
			n++
		}
	}
	return n
}

// handleSchedule returns the rescheduled feed.
//
// GET /api/schedule?days=14&backfill=0
//   - days:     number of days ahead (default horizon_days, at most 366)
//   - backfill: number of past days to include (default 0, at most 366)
func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	res, err := s.current(r)
	if err != nil {
		s.writeRunError(w, err)
		return
	}

	resp := scheduleResponse{
		Events:        toDTOs(res.Result),
		Kept:          res.Kept,
		Relocated:     relocatedCount(res.Result),
		RangeStart:    &res.Window.Start,
		RangeEnd:      &res.Window.End,
		TimeZone:      res.Location.String(),
		TruncatedUIDs: res.TruncatedUIDs,
		SkippedAllDay: res.SkippedAllDay,
	}
	if res.FetchErr != nil {
		resp.SourceErrors = res.FetchErr.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleScheduleICS(w http.ResponseWriter, r *http.Request) {
	res, err := s.current(r)
	if err != nil {
		s.writeRunError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	if err := ics.Encode(w, res.Events, res.BuiltAt); err != nil {
		appLog.Error("failed to write ICS response", err)
	}
}

// schedulePage feeds templates/schedule.html.
type schedulePage struct {
	Title     string
	TimeZone  string
	BuiltAt   time.Time
	Kept      int
	Relocated int
	Days      []scheduleDay
}

type scheduleDay struct {
	Date   time.Time
	Events []eventDTO
}

func groupByDay(events []eventDTO) []scheduleDay {
	var days []scheduleDay
	for _, ev := range events {
		y, m, d := ev.Start.Date()
		if n := len(days); n > 0 {
			py, pm, pd := days[n-1].Date.Date()
			if py == y && pm == m && pd == d {
				days[n-1].Events = append(days[n-1].Events, ev)
				continue
			}
		}
		days = append(days, scheduleDay{
			Date:   time.Date(y, m, d, 0, 0, 0, 0, ev.Start.Location()),
			Events: []eventDTO{ev},
		})
	}
	return days
}

// handleSchedulePage renders an HTML view. The root element carries
// data-ready="true" once rendered, which the snapshot command waits for.
func (s *Server) handleSchedulePage(w http.ResponseWriter, r *http.Request) {
	res, err := s.current(r)
	if err != nil {
		s.writeRunError(w, err)
		return
	}
	page := schedulePage{
		Title:     "Schedule",
		TimeZone:  res.Location.String(),
		BuiltAt:   res.BuiltAt,
		Kept:      res.Kept,
		Relocated: relocatedCount(res.Result),
		Days:      groupByDay(toDTOs(res.Result)),
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := scheduleTmpl.Execute(w, page); err != nil {
		appLog.Error("failed to render schedule page", err)
	}
}

// handleReschedule reschedules the events posted in the line format.
//
// POST /api/reschedule?format=json|text|ics
func (s *Server) handleReschedule(w http.ResponseWriter, r *http.Request) {
	events, err := textfmt.Parse(http.MaxBytesReader(w, r.Body, maxRequestBytes), s.cfg.Location())
	if err != nil {
		var perr *textfmt.ParseError
		if errors.As(err, &perr) {
			lines := make([]lineErrorDTO, 0, len(perr.Lines))
			for _, le := range perr.Lines {
				lines = append(lines, lineErrorDTO{Line: le.Line, Text: le.Text, Error: le.Err.Error()})
			}
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"error": "malformed input",
				"lines": lines,
			})
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sc, err := s.cfg.ScheduleConfig()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	began := time.Now()
	res, err := schedule.Reschedule(events, sc)
	s.recorder.Observe("api", res, err, time.Since(began))
	if err != nil {
		if errors.Is(err, schedule.ErrExceedsBusinessDay) {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	appLog.Debug("api reschedule", "events", len(events), "kept", res.Kept, "relocated", len(res.Relocations))

	switch r.URL.Query().Get("format") {
	case "text":
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		if err := textfmt.Format(w, res.Events); err != nil {
			appLog.Error("failed to write text response", err)
		}
	case "ics":
		w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
		if err := ics.Encode(w, res.Events, s.now()); err != nil {
			appLog.Error("failed to write ICS response", err)
		}
	default:
		writeJSON(w, http.StatusOK, scheduleResponse{
			Events:    toDTOs(res),
			Kept:      res.Kept,
			Relocated: relocatedCount(res),
			TimeZone:  s.cfg.Location().String(),
		})
	}
}

// current returns the feed schedule for the request's window, from cache
// when fresh.
func (s *Server) current(r *http.Request) (pipeline.Result, error) {
	q := r.URL.Query()
	key := windowKey{
		days:     parseIntDefault(q.Get("days"), s.cfg.HorizonDays),
		backfill: parseIntDefault(q.Get("backfill"), 0),
	}
	if key.days <= 0 {
		key.days = s.cfg.HorizonDays
	}
	key.days = min(key.days, maxWindowDays)
	key.backfill = min(max(key.backfill, 0), maxWindowDays)

	s.mu.RLock()
	c := s.cache[key]
	s.mu.RUnlock()
	if c != nil && s.now().Sub(c.updatedAt) < scheduleCacheTTL {
		return c.res, nil
	}
	return s.build(r.Context(), "api", key)
}

func (s *Server) build(ctx context.Context, trigger string, key windowKey) (pipeline.Result, error) {
	win := pipeline.WindowFrom(s.now(), s.cfg.Location(), key.days, key.backfill)
	res, err := s.runner.Run(ctx, trigger, win)
	if err != nil {
		return res, err
	}

	s.mu.Lock()
	s.store(key, res)
	s.mu.Unlock()
	return res, nil
}

// store caches res under key, dropping expired windows first and then the
// oldest ones while the cache is full. Callers hold s.mu.
func (s *Server) store(key windowKey, res pipeline.Result) {
	now := s.now()
	for k, c := range s.cache {
		if now.Sub(c.updatedAt) >= scheduleCacheTTL {
			delete(s.cache, k)
		}
	}
	delete(s.cache, key)
	for len(s.cache) >= maxCachedWindows {
		var oldest windowKey
		var oldestAt time.Time
		first := true
		for k, c := range s.cache {
			if first || c.updatedAt.Before(oldestAt) {
				oldest, oldestAt, first = k, c.updatedAt, false
			}
		}
		delete(s.cache, oldest)
	}
	s.cache[key] = &cachedSchedule{res: res, updatedAt: now}
}

func (s *Server) cacheLen() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.cache)
}

func (s *Server) writeRunError(w http.ResponseWriter, err error) {
	appLog.Error("schedule build failed", err)
	if errors.Is(err, schedule.ErrExceedsBusinessDay) {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, "failed to build schedule")
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"sync"
	"time"

	"freecal/internal/config"
	"freecal/internal/ics"
	appLog "freecal/internal/log"
	"freecal/internal/model"
	"freecal/internal/pipeline"
)

const freeCacheTTL = 30 * time.Second

// Server provides the HTTP API for free-time lookups.
type Server struct {
	cfg    *config.Config
	loader pipeline.Loader
	mux    *http.ServeMux
	now    func() time.Time

	// Per-date cache so repeated lookups do not refetch every source.
	freeMu    sync.RWMutex
	freeCache map[string]*freeCache
}

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, loader pipeline.Loader) *Server {
	s := &Server{
		cfg:       cfg,
		loader:    loader,
		mux:       http.NewServeMux(),
		now:       time.Now,
		freeCache: make(map[string]*freeCache),
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured with both
// a username and a password.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
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
			w.Header().Set("WWW-Authenticate", `Basic realm="freecal", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// StartServer serves the API on cfg.Listen until ctx is cancelled, then
// shuts down gracefully.
func StartServer(ctx context.Context, cfg *config.Config, loader pipeline.Loader) error {
	s := NewServer(cfg, loader)
	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           s.Handler(),
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
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/free", s.handleFree)
	s.mux.HandleFunc("GET /free.ics", s.handleFreeICS)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// freeResponse is the JSON response shape for /api/free.
type freeResponse struct {
	Date           string    `json:"date"`
	TimeZone       string    `json:"timezone"`
	Slots          []slotDTO `json:"slots"`
	FreeSeconds    int       `json:"free_seconds"`
	FullyBooked    bool      `json:"fully_booked"`
	Events         int       `json:"events"`
	RejectedEvents []string  `json:"rejected_events,omitempty"`
	SourceErrors   []string  `json:"source_errors,omitempty"`
}

// slotDTO is a JSON-friendly view of one free slot.
type slotDTO struct {
	Start      string `json:"start"`
	End        string `json:"end"`
	StartClock string `json:"start_clock"`
	EndClock   string `json:"end_clock"`
}

// freeCache holds a computed result and its timestamp.
type freeCache struct {
	res       pipeline.Result
	updatedAt time.Time
}

// handleFree returns the free slots of a day as JSON.
//
// GET /api/free?date=YYYYMMDD
//   - date: day to compute (default: today in config.Timezone)
func (s *Server) handleFree(w http.ResponseWriter, r *http.Request) {
	res, status, err := s.result(r)
	if err != nil {
		writeError(w, status, err.Error())
		return
	}

	resp := freeResponse{
		Date:        res.Date,
		TimeZone:    res.TZID,
		Slots:       make([]slotDTO, 0, len(res.Slots)),
		FreeSeconds: res.FreeSeconds,
		FullyBooked: res.Empty(),
		Events:      res.Events,
	}
	for _, slot := range res.Slots {
		resp.Slots = append(resp.Slots, slotDTO{
			Start:      slot.Start.String(),
			End:        slot.End.String(),
			StartClock: slot.Start.Clock(),
			EndClock:   slot.End.Clock(),
		})
	}
	for _, e := range res.EventErrors {
		resp.RejectedEvents = append(resp.RejectedEvents, e.Error())
	}
	for _, e := range res.SourceErrors {
		resp.SourceErrors = append(resp.SourceErrors, e.Error())
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleFreeICS returns the free slots of a day as an iCalendar file.
func (s *Server) handleFreeICS(w http.ResponseWriter, r *http.Request) {
	res, status, err := s.result(r)
	if err != nil {
		writeError(w, status, err.Error())
		return
	}
	cal := ics.FreeCalendar(slices.Values(res.Slots), ics.EncodeOptions{ProdID: s.cfg.ProdID})
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="free-`+res.Date+`.ics"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(cal.Serialize()))
}

// result resolves the requested date and returns a cached or fresh result.
func (s *Server) result(r *http.Request) (pipeline.Result, int, error) {
	loc := resolveLocationOrLocal(s.cfg.Timezone)
	date := r.URL.Query().Get("date")
	if date == "" {
		date = s.now().In(loc).Format(model.DateLayout)
	}
	if _, err := model.ParseDate(date); err != nil {
		return pipeline.Result{}, http.StatusBadRequest, err
	}

	now := s.now()
	s.freeMu.RLock()
	fc := s.freeCache[date]
	s.freeMu.RUnlock()
	if fc != nil && now.Sub(fc.updatedAt) < freeCacheTTL {
		return fc.res, http.StatusOK, nil
	}

	appLog.Info("api free request", "date", date, "timezone", s.cfg.Timezone)

	res, err := pipeline.Run(r.Context(), s.loader, pipeline.Request{
		Date:       date,
		TZID:       s.cfg.Timezone,
		StrictDate: s.cfg.StrictDate,
		Sources:    s.cfg.IcsSources(),
	})
	if err != nil {
		appLog.Error("api free: pipeline failed", err, "date", date)
		return pipeline.Result{}, http.StatusInternalServerError, errors.New("failed to compute free time")
	}

	s.storeResult(date, res, now)
	return res, http.StatusOK, nil
}

// storeResult caches res for date and drops entries older than the TTL, so
// lookups of many distinct dates do not accumulate.
func (s *Server) storeResult(date string, res pipeline.Result, now time.Time) {
	s.freeMu.Lock()
	defer s.freeMu.Unlock()
	for d, fc := range s.freeCache {
		if now.Sub(fc.updatedAt) >= freeCacheTTL {
			delete(s.freeCache, d)
		}
	}
	s.freeCache[date] = &freeCache{res: res, updatedAt: now}
}

func resolveLocationOrLocal(name string) *time.Location {
	if name == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		appLog.Error("failed to load timezone; falling back to local", err, "name", name)
		return time.Local
	}
	return loc
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

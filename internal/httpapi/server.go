// Package httpapi exposes swap sessions and the price table over HTTP and
// WebSocket.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/caesar-terminal/swapdesk/internal/feed"
	"github.com/caesar-terminal/swapdesk/internal/metrics"
	"github.com/caesar-terminal/swapdesk/internal/pricing"
	"github.com/caesar-terminal/swapdesk/internal/swap"
)

var (
	errRateLimited = errors.New("rate limit exceeded")
	errBadSide     = errors.New("side must be send or receive")
)

// Sessions is the session store the API drives.
type Sessions interface {
	Open() *swap.Session
	Get(id string) (*swap.Session, error)
	Close(id string) error
	Exchange(ctx context.Context, id string) (swap.ExchangeSummary, error)
	Table() pricing.Table
}

// HealthReporter reports price source availability.
type HealthReporter interface {
	Available() bool
	Snapshot() []feed.SourceStatus
}

// Observer records request latency.
type Observer interface {
	ObserveHTTP(route string, status int, seconds float64)
}

// Config captures the dependencies of the HTTP surface.
type Config struct {
	Sessions          Sessions
	Health            HealthReporter
	Observer          Observer
	Gatherer          prometheus.Gatherer
	Logger            *slog.Logger
	RequestsPerMinute float64
	Burst             int
}

// Server serves the desk API.
type Server struct {
	sessions Sessions
	health   HealthReporter
	observer Observer
	gatherer prometheus.Gatherer
	logger   *slog.Logger
	limiter  *RateLimiter
	upgrader websocket.Upgrader
	now      func() time.Time

	router http.Handler
}

// New builds the router.
func New(cfg Config) *Server {
	s := &Server{
		sessions: cfg.Sessions,
		health:   cfg.Health,
		observer: cfg.Observer,
		gatherer: cfg.Gatherer,
		logger:   cfg.Logger,
		limiter:  NewRateLimiter(cfg.RequestsPerMinute, cfg.Burst),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		now: time.Now,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.observer == nil {
		s.observer = (*metrics.Desk)(nil)
	}
	s.router = s.buildRouter()
	return s
}

// Handler exposes the configured router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(s.observe)

	r.Get("/healthz", s.healthz)
	if s.gatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(s.gatherer))
	}

	r.Route("/v1", func(api chi.Router) {
		api.Use(s.limiter.Middleware)
		api.Get("/prices", s.prices)
		api.Post("/sessions", s.openSession)
		api.Route("/sessions/{id}", func(sr chi.Router) {
			sr.Get("/", s.getSession)
			sr.Delete("/", s.closeSession)
			sr.Put("/{side}/amount", s.setAmount)
			sr.Put("/{side}/asset", s.setAsset)
			sr.Post("/exchange", s.exchange)
			sr.Get("/stream", s.stream)
		})
	})
	return r
}

// observe records latency under the matched route pattern so ids do not
// explode label cardinality.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := s.now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if p := rc.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.observer.ObserveHTTP(route, status, s.now().Sub(start).Seconds())
	})
}

type healthResponse struct {
	Status  string              `json:"status"`
	Sources []feed.SourceStatus `json:"sources"`
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	if s.health == nil {
		writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Sources: []feed.SourceStatus{}})
		return
	}
	resp := healthResponse{Status: "ok", Sources: s.health.Snapshot()}
	code := http.StatusOK
	if !s.health.Available() {
		resp.Status = "degraded"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

type priceEntry struct {
	Currency string  `json:"currency"`
	Price    float64 `json:"price"`
}

func (s *Server) prices(w http.ResponseWriter, _ *http.Request) {
	table := s.sessions.Table()
	out := make([]priceEntry, 0, table.Len())
	for _, asset := range table.Assets() {
		price, _ := table.Price(asset)
		out = append(out, priceEntry{Currency: asset, Price: price})
	}
	writeJSON(w, http.StatusOK, out)
}

// sessionView is a session as returned to clients.
type sessionView struct {
	ID                     string     `json:"id"`
	State                  swap.State `json:"state"`
	Valid                  bool       `json:"valid"`
	ApproxUSDSendAmount    float64    `json:"approxUsdSendAmount"`
	ApproxUSDReceiveAmount float64    `json:"approxUsdReceiveAmount"`
}

// viewOf renders the session with its state and table read together.
func viewOf(sess *swap.Session) sessionView {
	st, table := sess.View()
	return sessionView{
		ID:                     sess.ID(),
		State:                  st,
		Valid:                  swap.IsValid(st),
		ApproxUSDSendAmount:    pricing.USDValue(st.SendAmount, st.SendAsset, table),
		ApproxUSDReceiveAmount: pricing.USDValue(st.ReceiveAmount, st.ReceiveAsset, table),
	}
}

func (s *Server) openSession(w http.ResponseWriter, _ *http.Request) {
	sess := s.sessions.Open()
	w.Header().Set("Location", "/v1/sessions/"+sess.ID())
	writeJSON(w, http.StatusCreated, viewOf(sess))
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*swap.Session, bool) {
	sess, err := s.sessions.Get(chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, err)
		return nil, false
	}
	return sess, true
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, viewOf(sess))
}

func (s *Server) closeSession(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Close(chi.URLParam(r, "id")); err != nil {
		s.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func parseSide(r *http.Request) (swap.Side, error) {
	switch strings.ToLower(chi.URLParam(r, "side")) {
	case "send":
		return swap.SideSend, nil
	case "receive":
		return swap.SideReceive, nil
	default:
		return swap.SideNone, errBadSide
	}
}

type amountRequest struct {
	Amount pricing.Amount `json:"amount"`
}

func (s *Server) setAmount(w http.ResponseWriter, r *http.Request) {
	side, err := parseSide(r)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var req amountRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if !req.Amount.IsEmpty() && (!req.Amount.Finite() || req.Amount.Float() < 0) {
		writeError(w, http.StatusBadRequest, errors.New("amount must be a finite non-negative number"))
		return
	}

	if side == swap.SideSend {
		sess.EditSendAmount(req.Amount)
	} else {
		sess.EditReceiveAmount(req.Amount)
	}
	writeJSON(w, http.StatusOK, viewOf(sess))
}

type assetRequest struct {
	Asset string `json:"asset"`
}

func (s *Server) setAsset(w http.ResponseWriter, r *http.Request) {
	side, err := parseSide(r)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var req assetRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	asset := strings.TrimSpace(req.Asset)
	if asset == "" {
		writeError(w, http.StatusBadRequest, errors.New("asset is required"))
		return
	}
	if _, ok := sess.Table().Price(asset); !ok {
		writeError(w, http.StatusUnprocessableEntity, fmt.Errorf("unknown asset %q", asset))
		return
	}

	if side == swap.SideSend {
		sess.ChangeSendAsset(asset)
	} else {
		sess.ChangeReceiveAsset(asset)
	}
	writeJSON(w, http.StatusOK, viewOf(sess))
}

func (s *Server) exchange(w http.ResponseWriter, r *http.Request) {
	summary, err := s.sessions.Exchange(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// stream pushes the session state after every change until either side
// goes away.
func (s *Server) stream(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("httpapi: websocket upgrade failed", "session", sess.ID(), "error", err)
		return
	}
	defer conn.Close()

	states, stop := sess.Watch()
	defer stop()

	// The read loop only detects the peer closing.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case _, ok := <-states:
			if !ok {
				err := conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "session closed"),
					time.Now().Add(time.Second))
				if err != nil {
					s.logger.Debug("httpapi: stream close failed", "session", sess.ID(), "error", err)
				}
				return
			}
			// A wake-up means the state changed; send the latest view.
			if err := conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				s.logger.Debug("httpapi: stream deadline failed", "session", sess.ID(), "error", err)
				return
			}
			if err := conn.WriteJSON(viewOf(sess)); err != nil {
				s.logger.Debug("httpapi: stream write failed", "session", sess.ID(), "error", err)
				return
			}
		case <-gone:
			return
		case <-r.Context().Done():
			return
		}
	}
}

// writeDomainError maps session errors to HTTP statuses.
func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, swap.ErrSessionNotFound), errors.Is(err, swap.ErrSessionClosed):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, swap.ErrInvalidSession):
		writeError(w, http.StatusConflict, err)
	default:
		s.logger.Error("httpapi: request failed", "error", err)
		writeError(w, http.StatusBadGateway, err)
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	message := strings.TrimSpace(err.Error())
	if message == "" {
		message = http.StatusText(status)
	}
	writeJSON(w, status, map[string]string{"error": message})
}

// Package api exposes the lottery session over HTTP and WebSocket.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/R3E-Network/lottery_dapp/internal/journal"
	"github.com/R3E-Network/lottery_dapp/internal/metrics"
	"github.com/R3E-Network/lottery_dapp/internal/middleware"
	"github.com/R3E-Network/lottery_dapp/internal/session"
	"github.com/R3E-Network/lottery_dapp/internal/wallet"
	"github.com/R3E-Network/lottery_dapp/pkg/logger"
)

// Pinger reports the ledger node version; used by /health.
type Pinger interface {
	Version(ctx context.Context) (string, error)
}

// Options configures a Server.
type Options struct {
	Controller *session.Controller
	Journal    journal.Store
	// Adapter supplies the signer for POST /api/wallet/connect.
	Adapter wallet.Adapter
	Ledger  Pinger
	Logger  *logger.Logger

	Version     string
	RateLimit   int
	RateBurst   int
	CORSOrigins []string
}

// Server routes API requests to the session controller.
type Server struct {
	ctrl     *session.Controller
	journal  journal.Store
	adapter  wallet.Adapter
	ledger   Pinger
	log      *logger.Logger
	version  string
	limiter  *middleware.RateLimiter
	router   *mux.Router
	upgrader websocket.Upgrader
}

// NewServer builds the router.
func NewServer(opts Options) *Server {
	log := opts.Logger
	if log == nil {
		log = logger.NewDefault("lottery")
	}
	rps := opts.RateLimit
	if rps <= 0 {
		rps = 20
	}

	s := &Server{
		ctrl:    opts.Controller,
		journal: opts.Journal,
		adapter: opts.Adapter,
		ledger:  opts.Ledger,
		log:     log.Named("api"),
		version: opts.Version,
		limiter: middleware.NewRateLimiter(rps, opts.RateBurst, log),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(opts.CORSOrigins),
		},
	}

	r := mux.NewRouter()
	r.Use(middleware.Logging(log))
	r.Use(middleware.CORS(opts.CORSOrigins))

	r.HandleFunc("/health", s.health).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	sub := r.PathPrefix("/api").Subrouter()
	sub.Use(s.limiter.Handler)
	sub.HandleFunc("/session", s.getSession).Methods(http.MethodGet)
	sub.HandleFunc("/events", s.events).Methods(http.MethodGet)

	sub.HandleFunc("/wallet", s.walletInfo).Methods(http.MethodGet)
	sub.HandleFunc("/wallet/connect", s.connect).Methods(http.MethodPost, http.MethodOptions)
	sub.HandleFunc("/wallet/disconnect", s.disconnect).Methods(http.MethodPost, http.MethodOptions)

	sub.HandleFunc("/lottery/initialize", s.initialize).Methods(http.MethodPost, http.MethodOptions)
	sub.HandleFunc("/lottery/enter", s.enter).Methods(http.MethodPost, http.MethodOptions)
	sub.HandleFunc("/lottery/pick-winner", s.pickWinner).Methods(http.MethodPost, http.MethodOptions)
	sub.HandleFunc("/lottery/refresh", s.refresh).Methods(http.MethodPost, http.MethodOptions)

	sub.HandleFunc("/journal", s.listJournal).Methods(http.MethodGet)

	s.router = r
	return s
}

// Handler returns the instrumented root handler.
func (s *Server) Handler() http.Handler {
	return metrics.InstrumentHandler(s.router)
}

// StartCleanup prunes idle rate limiter entries until ctx is done.
func (s *Server) StartCleanup(ctx context.Context) {
	s.limiter.StartCleanup(5*time.Minute, ctx.Done())
}

func originChecker(origins []string) func(*http.Request) bool {
	if len(origins) == 0 {
		return nil
	}
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || allowed["*"] || allowed[origin]
	}
}

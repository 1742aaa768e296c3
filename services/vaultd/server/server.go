package server

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"optionsvault/gateway/middleware"
	"optionsvault/services/vaultd/indexer"
	"optionsvault/services/vaultd/node"
)

// Route groups used for rate limits and request metrics.
const (
	groupRead  = "read"
	groupWrite = "write"
)

// Config captures the dependencies required to construct the server.
type Config struct {
	Node          *node.Node
	Indexer       *indexer.Indexer
	Authenticator *middleware.Authenticator
	RateLimiter   *middleware.RateLimiter
	Observability *middleware.Observability
	CORS          middleware.CORSConfig
	// StreamOrigins lists the origin patterns accepted by the event stream.
	StreamOrigins []string
	Logger        *slog.Logger
}

// Server exposes the vault, its actions and the devnet helpers over HTTP.
type Server struct {
	node    *node.Node
	index   *indexer.Indexer
	auth    *middleware.Authenticator
	limiter *middleware.RateLimiter
	obs     *middleware.Observability
	cors    middleware.CORSConfig
	origins []string
	logger  *slog.Logger

	router http.Handler
}

// New constructs the router.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	auth := cfg.Authenticator
	if auth == nil {
		auth = middleware.NewAuthenticator(middleware.AuthConfig{}, logger)
	}
	obs := cfg.Observability
	if obs == nil {
		obs = middleware.NewObservability(middleware.ObservabilityConfig{}, logger)
	}
	origins := cfg.StreamOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	srv := &Server{
		node:    cfg.Node,
		index:   cfg.Indexer,
		auth:    auth,
		limiter: cfg.RateLimiter,
		obs:     obs,
		cors:    cfg.CORS,
		origins: origins,
		logger:  logger,
	}
	srv.router = srv.buildRouter()
	return srv
}

// Handler exposes the configured HTTP router wrapped for tracing.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.router, "vaultd")
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(middleware.CORS(s.cors))

	r.Get("/healthz", s.health)
	r.Handle("/metrics", s.obs.MetricsHandler())

	r.Route("/v1", func(v1 chi.Router) {
		v1.Use(s.auth.Middleware())

		v1.Group(func(read chi.Router) {
			read.Use(s.group(groupRead))
			read.Get("/vault", s.vaultInfo)
			read.Get("/vault/accounts/{addr}", s.vaultAccount)
			read.Get("/vault/rounds/{round}", s.vaultRound)
			read.Get("/actions", s.listActions)
			read.Get("/actions/{addr}", s.actionInfo)
			read.Get("/instruments", s.listInstruments)
			read.Get("/auctions/{id}", s.auctionInfo)
			read.Get("/balances/{addr}", s.balances)
			read.Get("/history/events", s.historyEvents)
			read.Get("/history/rounds", s.historyRounds)
			read.Get("/history/rounds/{round}", s.historyRound)
			read.Get("/events/ws", s.streamEvents)
		})

		v1.Group(func(write chi.Router) {
			write.Use(s.group(groupWrite))
			write.Use(requireCaller)

			write.Post("/vault/deposit", s.deposit)
			write.Post("/vault/withdraw", s.withdraw)
			write.Post("/vault/register-deposit", s.registerDeposit)
			write.Post("/vault/register-withdraw", s.registerWithdraw)
			write.Post("/vault/claim", s.claim)
			write.Post("/vault/withdraw-queue", s.withdrawQueue)
			write.Post("/vault/rollover", s.rollover)
			write.Post("/vault/close", s.closeRound)
			write.Post("/vault/pause", s.pause)
			write.Post("/vault/resume", s.resume)
			write.Post("/vault/params", s.updateParams)

			write.Route("/actions/{addr}", func(act chi.Router) {
				act.Post("/commit", s.commit)
				act.Post("/trade/signed", s.tradeSigned)
				act.Post("/trade/limit", s.tradeLimit)
				act.Post("/trade/rfq", s.tradeRFQ)
				act.Post("/auction", s.startAuction)
				act.Post("/auction/settle", s.settleAuction)
			})

			write.Route("/devnet", func(dev chi.Router) {
				dev.Post("/time", s.devnetTime)
				dev.Post("/price", s.devnetPrice)
				dev.Post("/faucet", s.devnetFaucet)
				dev.Post("/instruments", s.devnetInstrument)
			})
		})
	})
	return r
}

// group applies the rate limit and request metrics of a route group.
func (s *Server) group(name string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		h := s.obs.Middleware(name)(next)
		if s.limiter != nil {
			h = s.limiter.Middleware(name)(h)
		}
		return h
	}
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	_, height := s.node.Root()
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"height": height,
		"devnet": s.node.Devnet(),
		"time":   s.node.Clock().Now(),
	})
}

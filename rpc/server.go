package rpc

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"spotchain/crypto"
	"spotchain/indexer"
	nativecommon "spotchain/native/common"
	"spotchain/native/lending"
	"spotchain/native/pool"
	"spotchain/native/stream"
	"spotchain/observability/metrics"
)

// LendingQuerier is the read side of the credit-line engine.
type LendingQuerier interface {
	Details(key [32]byte) (*lending.LineDetails, error)
	LinesByLender(lender crypto.Address) ([][32]byte, error)
	LinesByBorrower(borrower crypto.Address) ([][32]byte, error)
}

// StreamQuerier is the read side of the streaming engine.
type StreamQuerier interface {
	Details(key [32]byte) (*stream.Details, error)
	Streamable(asset, streamer, recipient crypto.Address) (*stream.Streamable, error)
	StreamsByStreamer(streamer crypto.Address) ([][32]byte, error)
	StreamsByRecipient(recipient crypto.Address) ([][32]byte, error)
}

// PoolQuerier is the read side of the pooled loan engine.
type PoolQuerier interface {
	Details(id [32]byte) (*pool.Details, error)
	Holder(id [32]byte, addr crypto.Address) (*pool.Holder, error)
	ClaimableInterest(id [32]byte, addr crypto.Address) (*big.Int, error)
	Holders(id [32]byte) ([]crypto.Address, error)
	PoolsByBorrower(borrower crypto.Address) ([][32]byte, error)
}

// LendingWriter is the transaction side of the credit-line engine.
type LendingWriter interface {
	ModuleAddress() crypto.Address
	Allow(lender, asset, borrower crypto.Address, ceiling *big.Int, ratePerMille uint64) ([32]byte, error)
	Borrow(caller crypto.Address, key [32]byte, amount *big.Int) error
	Repay(payer crypto.Address, key [32]byte, amount *big.Int) (*lending.RepayResult, error)
}

// StreamWriter is the transaction side of the streaming engine.
type StreamWriter interface {
	ModuleAddress() crypto.Address
	Allow(streamer, asset, recipient crypto.Address, amount *big.Int, window uint64, once bool) ([32]byte, error)
	Cancel(streamer, asset, recipient crypto.Address) error
	Release(asset, streamer, recipient crypto.Address) (*stream.Release, error)
	BatchRelease(assets, streamers, recipients []crypto.Address) ([]stream.Release, error)
	ReleaseAvailableBatch(assets, streamers, recipients []crypto.Address) ([]stream.Release, error)
}

// PoolWriter is the transaction side of the pooled loan engine.
type PoolWriter interface {
	ModuleAddress() crypto.Address
	CreatePool(params pool.Params) (*pool.Pool, error)
	Fund(holder crypto.Address, id [32]byte, amount *big.Int) (*big.Int, error)
	DrawDown(caller crypto.Address, id [32]byte, amount *big.Int) (*big.Int, error)
	Repay(payer crypto.Address, id [32]byte, amount *big.Int) (*pool.RepayResult, error)
	ClaimInterest(holder crypto.Address, id [32]byte) (*big.Int, error)
	TransferClaimTokens(from, to crypto.Address, id [32]byte, amount *big.Int) error
	Redeem(holder crypto.Address, id [32]byte, amount *big.Int) (*big.Int, error)
	Unfund(holder crypto.Address, id [32]byte, amount *big.Int) (*big.Int, error)
}

// TokenLedger is the asset ledger behind the token routes.
type TokenLedger interface {
	RegisterToken(asset crypto.Address, name, symbol string, decimals uint8) error
	Mint(asset, holder crypto.Address, amount *big.Int) error
	Approve(asset, owner, spender crypto.Address, amount *big.Int) error
	Transfer(asset, from, to crypto.Address, amount *big.Int) error
	BalanceOf(asset, holder crypto.Address) (*big.Int, error)
	Allowance(asset, owner, spender crypto.Address) (*big.Int, error)
}

// TxState is the journaled state writes are applied to.
type TxState interface {
	nativecommon.Snapshotter
	nativecommon.Committer
}

// EventSource serves indexed events.
type EventSource interface {
	Query(ctx context.Context, f indexer.Filter) ([]indexer.Entry, error)
}

// Backends are the components the API reads from. Nil backends leave their
// routes unmounted.
//
// Write routes are mounted for engines that also implement their writer
// interface, and only when Executor and State are set. Executor must be the
// one every engine on State runs its transactions through; accepted writes
// are committed to State through it before the response is sent.
type Backends struct {
	Lending  LendingQuerier
	Streams  StreamQuerier
	Pools    PoolQuerier
	Tokens   TokenLedger
	Events   EventSource
	Executor *nativecommon.Executor
	State    TxState
}

// Config tunes the HTTP layer.
type Config struct {
	RateLimitPerSecond float64
	RateLimitBurst     int
	RequestTimeout     time.Duration
	// AuthToken is the bearer token write routes require. Writes are
	// rejected with 401 while it is empty.
	AuthToken string
	// AllowFaucet mounts token registration and minting.
	AllowFaucet bool
}

// Server exposes the engines over HTTP.
type Server struct {
	backends  Backends
	cfg       Config
	limiter   *RateLimiter
	logger    *slog.Logger
	telemetry *metrics.APIMetrics
}

// NewServer returns a server over backends.
func NewServer(backends Backends, cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	s := &Server{
		backends:  backends,
		cfg:       cfg,
		logger:    logger,
		telemetry: metrics.API(),
	}
	if cfg.RateLimitPerSecond > 0 {
		s.limiter = NewRateLimiter(cfg.RateLimitPerSecond, cfg.RateLimitBurst)
	}
	return s
}

// Handler builds the routed, instrumented handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(s.observe)
	r.Use(chimiddleware.Timeout(s.cfg.RequestTimeout))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(v1 chi.Router) {
		if s.limiter != nil {
			v1.Use(s.limiter.Middleware(s.telemetry))
		}
		if s.backends.Lending != nil {
			v1.Route("/lending", s.mountLending)
		}
		if s.backends.Streams != nil {
			v1.Route("/streams", s.mountStreams)
		}
		if s.backends.Pools != nil {
			v1.Route("/pools", s.mountPools)
		}
		if s.backends.Tokens != nil {
			v1.Route("/tokens", s.mountTokens)
		}
		if s.backends.Events != nil {
			v1.Get("/events", s.listEvents)
		}
		v1.Get("/modules", s.listModules)
	})
	return otelhttp.NewHandler(r, "spotd.api")
}

// observe records status and latency by route pattern.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		route := ""
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.telemetry.Observe(route, status, time.Since(start))
	})
}

func (s *Server) writable() bool {
	return s.backends.Executor != nil && s.backends.State != nil
}

// requireAuth rejects requests without the configured bearer token.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.AuthToken == "" {
			writeError(w, http.StatusUnauthorized, "write authentication token not configured")
			return
		}
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			writeError(w, http.StatusUnauthorized, "Authorization header must use Bearer scheme")
			return
		}
		token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.AuthToken)) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		next.ServeHTTP(w, r)
	})
}

package rpc

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"go.dedis.ch/votechain"
	"go.dedis.ch/votechain/chain"
	"go.dedis.ch/votechain/core/txn"
	"go.dedis.ch/votechain/core/txn/signed"
	"golang.org/x/xerrors"
)

type key int

const (
	requestIDKey key = 0

	// RequestIDHeader is the header that carries the identifier of a
	// request.
	RequestIDHeader = "X-Request-Id"
)

// Server is the HTTP server of a ledger node.
type Server struct {
	sync.Mutex

	backend    Backend
	router     chi.Router
	server     *http.Server
	listenAddr string
	ln         net.Listener
	ready      chan struct{}
	txFac      signed.TransactionFactory
	logger     zerolog.Logger
}

// NewServer creates a server that will listen on the address. An empty port
// picks a random free one.
func NewServer(listenAddr string, backend Backend) *Server {
	logger := votechain.Logger.With().Str("role", "rpc server").Logger()

	srv := &Server{
		backend:    backend,
		router:     chi.NewRouter(),
		listenAddr: listenAddr,
		ready:      make(chan struct{}),
		txFac:      signed.NewTransactionFactory(),
		logger:     logger,
	}

	srv.router.Use(tracing(uuid.NewString), logging(logger), middleware.Recoverer)

	srv.router.Get("/accounts/{address}", srv.getAccount)
	srv.router.Post("/transactions/simulate", srv.simulate)
	srv.router.Post("/transactions", srv.submit)
	srv.router.Get("/transactions/{hash}", srv.getStatus)
	srv.router.Get("/polls/{poll}/events", srv.getEvents)
	srv.router.Method(http.MethodGet, "/metrics", metricsHandler(logger))

	srv.server = &http.Server{
		Handler:           srv.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return srv
}

// Listen serves the requests until the context is done. The server is then
// shut down gracefully.
func (s *Server) Listen(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.listenAddr)
	if err != nil {
		return xerrors.Errorf("failed to listen on '%s': %v", s.listenAddr, err)
	}

	s.Lock()
	s.ln = ln
	s.Unlock()

	close(s.ready)

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("server is ready to handle requests")

	done := make(chan struct{})

	go func() {
		defer close(done)

		<-ctx.Done()
		s.Stop()
	}()

	err = s.server.Serve(ln)
	if err != nil && err != http.ErrServerClosed {
		return xerrors.Errorf("failed to serve: %v", err)
	}

	<-done
	s.logger.Info().Msg("server stopped")

	return nil
}

// Stop shuts the server down, waiting at most ten seconds for the requests in
// progress.
func (s *Server) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s.server.SetKeepAlivesEnabled(false)

	err := s.server.Shutdown(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("could not gracefully shutdown the server")
	}
}

// Ready returns a channel closed when the server is listening.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// GetAddr returns the address the server listens on, or nil if it is not
// listening yet.
func (s *Server) GetAddr() net.Addr {
	s.Lock()
	defer s.Unlock()

	if s.ln == nil {
		return nil
	}

	return s.ln.Addr()
}

func (s *Server) getAccount(w http.ResponseWriter, r *http.Request) {
	addr := txn.Address(chi.URLParam(r, "address"))

	state, err := s.backend.LoadAccount(r.Context(), addr)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	s.reply(w, r, accountJSON{Address: state.Address.String(), Nonce: state.Nonce})
}

func (s *Server) simulate(w http.ResponseWriter, r *http.Request) {
	tx, ok := s.readTx(w, r)
	if !ok {
		return
	}

	outcome, err := s.backend.Simulate(r.Context(), tx)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	s.reply(w, r, simulationJSON{
		MinFee: outcome.MinFee,
		Reads:  outcome.Footprint.Reads,
		Writes: outcome.Footprint.Writes,
		Error:  outcome.Error,
	})
}

func (s *Server) submit(w http.ResponseWriter, r *http.Request) {
	tx, ok := s.readTx(w, r)
	if !ok {
		return
	}

	receipt, err := s.backend.Submit(r.Context(), tx)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	s.replyWith(w, r, http.StatusAccepted, receiptJSON{Hash: receipt.Hash})
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.backend.GetStatus(r.Context(), chi.URLParam(r, "hash"))
	if err != nil {
		s.fail(w, r, err)
		return
	}

	s.reply(w, r, encodeStatus(status))
}

func (s *Server) getEvents(w http.ResponseWriter, r *http.Request) {
	pollID, err := strconv.ParseUint(chi.URLParam(r, "poll"), 10, 64)
	if err != nil {
		s.refuse(w, r, http.StatusBadRequest, "invalid poll identifier")
		return
	}

	from := uint64(0)
	if value := r.URL.Query().Get("from"); value != "" {
		from, err = strconv.ParseUint(value, 10, 64)
		if err != nil {
			s.refuse(w, r, http.StatusBadRequest, "invalid index")
			return
		}
	}

	events, next, err := s.backend.Events(r.Context(), pollID, from)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	m := eventsJSON{
		Events: make([]eventJSON, len(events)),
		Next:   next,
	}

	for i, ev := range events {
		m.Events[i] = encodeEvent(ev)
	}

	s.reply(w, r, m)
}

func (s *Server) readTx(w http.ResponseWriter, r *http.Request) (*signed.Transaction, bool) {
	var m envelopeJSON

	err := json.NewDecoder(r.Body).Decode(&m)
	if err != nil {
		s.refuse(w, r, http.StatusBadRequest, "invalid request body")
		return nil, false
	}

	tx, err := s.txFac.TransactionOf(m.Envelope)
	if err != nil {
		s.refuse(w, r, http.StatusBadRequest, "invalid envelope: "+err.Error())
		return nil, false
	}

	return tx, true
}

func (s *Server) reply(w http.ResponseWriter, r *http.Request, v interface{}) {
	s.replyWith(w, r, http.StatusOK, v)
}

func (s *Server) replyWith(w http.ResponseWriter, r *http.Request, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)

	err := json.NewEncoder(w).Encode(v)
	if err != nil {
		s.logger.Warn().Err(err).Str("url", r.URL.Path).Msg("failed to write response")
	}
}

// fail answers with the status that matches the kind of error of the backend.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	var protoErr *chain.ProtocolError
	if xerrors.As(err, &protoErr) && protoErr.Code >= 400 && protoErr.Code < 500 {
		s.refuse(w, r, protoErr.Code, protoErr.Reason)
		return
	}

	s.logger.Error().Err(err).Str("url", r.URL.Path).Msg("request failed")

	s.refuse(w, r, http.StatusServiceUnavailable, err.Error())
}

func (s *Server) refuse(w http.ResponseWriter, r *http.Request, code int, reason string) {
	s.replyWith(w, r, code, errorJSON{Error: reason})
}

// metricsHandler exposes the collectors of the components on a registry of
// its own.
func metricsHandler(logger zerolog.Logger) http.Handler {
	registry := prometheus.NewRegistry()

	for _, c := range votechain.PromCollectors {
		err := registry.Register(c)
		if err != nil {
			logger.Warn().Err(err).Msg("failed to register collector")
		}
	}

	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// logging is a utility function that logs the http server events
func logging(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			defer func() {
				requestID, ok := r.Context().Value(requestIDKey).(string)
				if !ok {
					requestID = "unknown"
				}

				logger.Info().Str("requestID", requestID).
					Str("method", r.Method).
					Str("url", r.URL.Path).
					Int("status", ww.Status()).
					Dur("duration", time.Since(start)).
					Str("remoteAddr", r.RemoteAddr).
					Msg("request served")
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

// tracing is a utility function that adds header tracing
func tracing(nextRequestID func() string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get(RequestIDHeader)
			if requestID == "" {
				requestID = nextRequestID()
			}

			ctx := context.WithValue(r.Context(), requestIDKey, requestID)
			w.Header().Set(RequestIDHeader, requestID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

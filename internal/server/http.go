package server

import (
	"VesselLedger/internal/observability"
	"VesselLedger/internal/query"
	"VesselLedger/internal/token"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const defaultPageSize = 50

// HTTPDeps holds what the HTTP surface serves.
type HTTPDeps struct {
	Query    *query.QueryService
	Health   *observability.HealthChecker
	Gatherer prometheus.Gatherer // nil disables /metrics
}

// gateway adapts QueryService onto a grpc-gateway mux.
type gateway struct {
	mux       *runtime.ServeMux
	marshaler runtime.Marshaler
	qs        *query.QueryService
}

// NewHandler builds the HTTP handler: JSON query endpoints under /v1 plus
// /healthz, /readyz and /metrics.
func NewHandler(deps HTTPDeps) (http.Handler, error) {
	g := &gateway{
		mux:       runtime.NewServeMux(),
		marshaler: &runtime.JSONBuiltin{},
		qs:        deps.Query,
	}

	routes := []struct {
		path string
		h    runtime.HandlerFunc
	}{
		{"/v1/assets", g.listAssets},
		{"/v1/assets/{asset}/accumulators", g.getAccumulators},
		{"/v1/assets/{asset}/vessels", g.listVessels},
		{"/v1/assets/{asset}/vessels/{borrower}", g.getVessel},
		{"/v1/assets/{asset}/deposits/{depositor}", g.getDeposit},
		{"/v1/assets/{asset}/liquidations", g.liquidationHistory},
		{"/v1/assets/{asset}/redemptions", g.redemptionHistory},
		{"/v1/balances/{token}", g.getBalance},
		{"/v1/admin/integrity", g.verifyIntegrity},
	}
	for _, r := range routes {
		if err := g.mux.HandlePath(http.MethodGet, r.path, r.h); err != nil {
			return nil, fmt.Errorf("register %s: %w", r.path, err)
		}
	}

	httpMux := http.NewServeMux()
	if deps.Health != nil {
		httpMux.HandleFunc("/healthz", deps.Health.LivenessHandler)
		httpMux.HandleFunc("/readyz", deps.Health.ReadinessHandler)
	}
	if deps.Gatherer != nil {
		httpMux.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}
	httpMux.Handle("/", g.mux)
	return httpMux, nil
}

func (g *gateway) respond(w http.ResponseWriter, r *http.Request, v interface{}, err error) {
	if err != nil {
		runtime.HTTPError(r.Context(), g.mux, g.marshaler, w, r, toStatus(err))
		return
	}
	data, err := g.marshaler.Marshal(v)
	if err != nil {
		runtime.HTTPError(r.Context(), g.mux, g.marshaler, w, r, status.Error(codes.Internal, err.Error()))
		return
	}
	w.Header().Set("Content-Type", g.marshaler.ContentType(v))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// toStatus maps query errors onto gRPC codes, which the gateway turns
// into HTTP statuses.
func toStatus(err error) error {
	switch {
	case errors.Is(err, query.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, query.ErrInvalidPageSize), errors.Is(err, errBadRequest):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, query.ErrHistoryUnavailable):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

var errBadRequest = errors.New("bad request")

func parseID(params map[string]string, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(params[name])
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %s: %w", errBadRequest, name, err)
	}
	return id, nil
}

func intParam(r *http.Request, name string, def int64) (int64, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return def, nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", errBadRequest, name)
	}
	return v, nil
}

func pageParams(r *http.Request) (limit int, before int64, err error) {
	l, err := intParam(r, "limit", defaultPageSize)
	if err != nil {
		return 0, 0, err
	}
	before, err = intParam(r, "before_sequence", 0)
	return int(l), before, err
}

func (g *gateway) listAssets(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	assets, err := g.qs.ListAssets(r.Context())
	g.respond(w, r, map[string][]string{"assets": assets}, err)
}

func (g *gateway) getAccumulators(w http.ResponseWriter, r *http.Request, p map[string]string) {
	resp, err := g.qs.GetAccumulators(r.Context(), p["asset"])
	g.respond(w, r, resp, err)
}

func (g *gateway) listVessels(w http.ResponseWriter, r *http.Request, p map[string]string) {
	limit, _, err := pageParams(r)
	if err != nil {
		g.respond(w, r, nil, err)
		return
	}
	resp, err := g.qs.ListVessels(r.Context(), p["asset"], limit)
	g.respond(w, r, resp, err)
}

func (g *gateway) getVessel(w http.ResponseWriter, r *http.Request, p map[string]string) {
	borrower, err := parseID(p, "borrower")
	if err != nil {
		g.respond(w, r, nil, err)
		return
	}
	resp, err := g.qs.GetVessel(r.Context(), p["asset"], borrower)
	g.respond(w, r, resp, err)
}

func (g *gateway) getDeposit(w http.ResponseWriter, r *http.Request, p map[string]string) {
	depositor, err := parseID(p, "depositor")
	if err != nil {
		g.respond(w, r, nil, err)
		return
	}
	resp, err := g.qs.GetDeposit(r.Context(), p["asset"], depositor)
	g.respond(w, r, resp, err)
}

func (g *gateway) liquidationHistory(w http.ResponseWriter, r *http.Request, p map[string]string) {
	limit, before, err := pageParams(r)
	if err != nil {
		g.respond(w, r, nil, err)
		return
	}
	resp, err := g.qs.GetLiquidationHistory(r.Context(), p["asset"], limit, before)
	g.respond(w, r, resp, err)
}

func (g *gateway) redemptionHistory(w http.ResponseWriter, r *http.Request, p map[string]string) {
	limit, before, err := pageParams(r)
	if err != nil {
		g.respond(w, r, nil, err)
		return
	}
	resp, err := g.qs.GetRedemptionHistory(r.Context(), p["asset"], limit, before)
	g.respond(w, r, resp, err)
}

// getBalance takes the account as ?account=user:<uuid> or ?user=<uuid>.
func (g *gateway) getBalance(w http.ResponseWriter, r *http.Request, p map[string]string) {
	account := token.Account(r.URL.Query().Get("account"))
	if u := r.URL.Query().Get("user"); u != "" {
		id, err := uuid.Parse(u)
		if err != nil {
			g.respond(w, r, nil, fmt.Errorf("%w: user: %w", errBadRequest, err))
			return
		}
		account = token.User(id)
	}
	if account == "" {
		g.respond(w, r, nil, fmt.Errorf("%w: account or user is required", errBadRequest))
		return
	}
	resp, err := g.qs.GetBalance(r.Context(), p["token"], account)
	g.respond(w, r, resp, err)
}

func (g *gateway) verifyIntegrity(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	resp, err := g.qs.VerifyIntegrity(r.Context())
	g.respond(w, r, resp, err)
}

// HTTPServer runs the handler with graceful shutdown.
type HTTPServer struct {
	srv    *http.Server
	logger zerolog.Logger
}

func NewHTTPServer(addr string, handler http.Handler, logger zerolog.Logger) *HTTPServer {
	return &HTTPServer{
		srv: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
	}
}

// Start serves until ctx is cancelled.
func (s *HTTPServer) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.logger.Info().Msg("HTTP server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info().Str("addr", s.srv.Addr).Msg("HTTP server listening")
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

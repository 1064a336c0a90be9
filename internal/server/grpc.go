package server

import (
	"RaffleLedger/internal/ingestion"
	"RaffleLedger/internal/observability"
	"RaffleLedger/internal/query"
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "raffle.v1.RaffleService"

// RaffleServiceDesc describes RaffleService for grpc.Server. Messages use
// the json codec.
var RaffleServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*RaffleServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("SubmitCommand", RaffleServiceServer.SubmitCommand),
		unary("CreateRaffle", RaffleServiceServer.CreateRaffle),
		unary("GetRaffle", RaffleServiceServer.GetRaffle),
		unary("GetEntryRanges", RaffleServiceServer.GetEntryRanges),
		unary("GetClaimable", RaffleServiceServer.GetClaimable),
		unary("GetReserves", RaffleServiceServer.GetReserves),
		unary("ListRaffles", RaffleServiceServer.ListRaffles),
		unary("ListEvents", RaffleServiceServer.ListEvents),
		unary("ListJournals", RaffleServiceServer.ListJournals),
		unary("ListDirectory", RaffleServiceServer.ListDirectory),
		unary("VerifyIntegrity", RaffleServiceServer.VerifyIntegrity),
		unary("RebuildProjections", RaffleServiceServer.RebuildProjections),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "raffle/v1/raffle.proto",
}

func unary[Req, Resp any](name string, call func(RaffleServiceServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(RaffleServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + name}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(RaffleServiceServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// GRPCServer wraps the gRPC server and the HTTP gateway.
type GRPCServer struct {
	grpcServer    *grpc.Server
	httpServer    *http.Server
	grpcAddr      string
	httpAddr      string
	service       *raffleService
	healthChecker *observability.HealthChecker
	logger        zerolog.Logger
}

// ServerDeps holds everything the RaffleService handlers need.
type ServerDeps struct {
	Creator       RaffleCreator
	QueryService  *query.QueryService
	IngestService *ingestion.GRPCIngestService
	Directory     DirectoryLister // nil when no directory is persisted
	DB            *sql.DB         // nil without persistence
	HealthChecker *observability.HealthChecker
	AdminToken    string
	Logger        zerolog.Logger
}

// NewGRPCServer creates a gRPC server with RaffleService, health and
// reflection registered.
func NewGRPCServer(grpcAddr, httpAddr string, deps *ServerDeps) *GRPCServer {
	logger := deps.Logger.With().Str("component", "server").Logger()
	svc := &raffleService{
		creator:    deps.Creator,
		queries:    deps.QueryService,
		ingest:     deps.IngestService,
		directory:  deps.Directory,
		db:         deps.DB,
		adminToken: deps.AdminToken,
		logger:     logger,
	}

	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(loggingInterceptor(logger)))
	grpcServer.RegisterService(&RaffleServiceDesc, svc)

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)

	reflection.Register(grpcServer)

	return &GRPCServer{
		grpcServer:    grpcServer,
		grpcAddr:      grpcAddr,
		httpAddr:      httpAddr,
		service:       svc,
		healthChecker: deps.HealthChecker,
		logger:        logger,
	}
}

func loggingInterceptor(logger zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		ev := logger.Debug()
		if err != nil {
			ev = logger.Warn().Str("code", status.Code(err).String()).Err(err)
		}
		ev.Str("method", info.FullMethod).Dur("elapsed", time.Since(start)).Msg("rpc")
		return resp, err
	}
}

func (s *GRPCServer) StartGRPC(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.grpcAddr)
	if err != nil {
		return errors.Wrap(err, "grpc listen")
	}

	go func() {
		<-ctx.Done()
		s.logger.Info().Msg("gRPC server shutting down")
		s.grpcServer.GracefulStop()
	}()

	s.logger.Info().Str("addr", s.grpcAddr).Msg("gRPC server listening")
	return s.grpcServer.Serve(lis)
}

// Handler returns the HTTP gateway: RaffleService routes under /v1 plus
// health and metrics endpoints.
func (s *GRPCServer) Handler() (http.Handler, error) {
	gw := runtime.NewServeMux()
	if err := registerRoutes(gw, s.service); err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	if s.healthChecker != nil {
		mux.HandleFunc("/healthz", s.healthChecker.LivenessHandler)
		mux.HandleFunc("/readyz", s.healthChecker.ReadinessHandler)
	} else {
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})
	}
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", gw)
	return mux, nil
}

func (s *GRPCServer) StartHTTPGateway(ctx context.Context) error {
	handler, err := s.Handler()
	if err != nil {
		return errors.Wrap(err, "register gateway routes")
	}
	s.httpServer = &http.Server{
		Addr:              s.httpAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.logger.Info().Msg("HTTP gateway shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	s.logger.Info().Str("addr", s.httpAddr).Msg("HTTP gateway listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// ============================================================================
// HTTP gateway routes
// ============================================================================

type route struct {
	method  string
	pattern string
	handler runtime.HandlerFunc
}

func registerRoutes(gw *runtime.ServeMux, svc *raffleService) error {
	routes := []route{
		{"POST", "/v1/commands", gatewayBody(svc.SubmitCommand, nil)},
		{"POST", "/v1/raffles", gatewayBody(svc.CreateRaffle, nil)},
		{"GET", "/v1/raffles", gatewayQuery(svc.ListRaffles, func(r *http.Request, _ map[string]string, req *ListRafflesRequest) error {
			req.State = r.URL.Query().Get("state")
			return queryInt32(r, "page_size", &req.PageSize)
		})},
		{"GET", "/v1/raffles/{raffle_id}", gatewayQuery(svc.GetRaffle, raffleParam)},
		{"GET", "/v1/raffles/{raffle_id}/entries", gatewayQuery(svc.GetEntryRanges, raffleParam)},
		{"GET", "/v1/raffles/{raffle_id}/reserves", gatewayQuery(svc.GetReserves, raffleParam)},
		{"GET", "/v1/raffles/{raffle_id}/integrity", gatewayQuery(svc.VerifyIntegrity, raffleParam)},
		{"GET", "/v1/raffles/{raffle_id}/claimable/{participant}", gatewayQuery(svc.GetClaimable, func(_ *http.Request, p map[string]string, req *ParticipantRequest) error {
			req.RaffleID = p["raffle_id"]
			req.Participant = p["participant"]
			return nil
		})},
		{"GET", "/v1/raffles/{raffle_id}/events", gatewayQuery(svc.ListEvents, func(r *http.Request, p map[string]string, req *ListEventsRequest) error {
			req.RaffleID = p["raffle_id"]
			if err := queryInt64(r, "from_sequence", &req.FromSequence); err != nil {
				return err
			}
			return queryInt32(r, "page_size", &req.PageSize)
		})},
		{"GET", "/v1/raffles/{raffle_id}/journals/{participant}", gatewayQuery(svc.ListJournals, func(r *http.Request, p map[string]string, req *ListJournalsRequest) error {
			req.RaffleID = p["raffle_id"]
			req.Participant = p["participant"]
			if err := queryInt64(r, "before_sequence", &req.BeforeSequence); err != nil {
				return err
			}
			return queryInt32(r, "page_size", &req.PageSize)
		})},
		{"GET", "/v1/directory", gatewayQuery(svc.ListDirectory, func(r *http.Request, _ map[string]string, req *ListDirectoryRequest) error {
			if err := queryInt32(r, "offset", &req.Offset); err != nil {
				return err
			}
			return queryInt32(r, "page_size", &req.PageSize)
		})},
		{"POST", "/v1/admin/rebuild-projections", gatewayBody(svc.RebuildProjections, nil)},
	}

	for _, rt := range routes {
		if err := gw.HandlePath(rt.method, rt.pattern, rt.handler); err != nil {
			return errors.Wrapf(err, "%s %s", rt.method, rt.pattern)
		}
	}
	return nil
}

func raffleParam(_ *http.Request, p map[string]string, req *RaffleRequest) error {
	req.RaffleID = p["raffle_id"]
	return nil
}

// gatewayBody decodes the JSON request body, then applies bind.
func gatewayBody[Req, Resp any](call func(context.Context, *Req) (*Resp, error), bind func(*http.Request, map[string]string, *Req) error) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		req := new(Req)
		body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			writeError(w, status.Error(codes.InvalidArgument, "read body"))
			return
		}
		if len(body) > 0 {
			if err := json.Unmarshal(body, req); err != nil {
				writeError(w, status.Errorf(codes.InvalidArgument, "malformed body: %v", err))
				return
			}
		}
		serve(w, r, params, req, call, bind)
	}
}

// gatewayQuery builds the request from path and query parameters only.
func gatewayQuery[Req, Resp any](call func(context.Context, *Req) (*Resp, error), bind func(*http.Request, map[string]string, *Req) error) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		serve(w, r, params, new(Req), call, bind)
	}
}

func serve[Req, Resp any](w http.ResponseWriter, r *http.Request, params map[string]string, req *Req, call func(context.Context, *Req) (*Resp, error), bind func(*http.Request, map[string]string, *Req) error) {
	if bind != nil {
		if err := bind(r, params, req); err != nil {
			writeError(w, err)
			return
		}
	}
	resp, err := call(incomingContext(r), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// incomingContext exposes the admin token header as gRPC metadata so HTTP
// and gRPC callers share one authorization path.
func incomingContext(r *http.Request) context.Context {
	md := metadata.MD{}
	if token := r.Header.Get(adminTokenHeader); token != "" {
		md.Set(adminTokenHeader, token)
	}
	return metadata.NewIncomingContext(r.Context(), md)
}

func queryInt32(r *http.Request, name string, dst *int32) error {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseInt(raw, 10, 32)
	if err != nil {
		return status.Errorf(codes.InvalidArgument, "invalid %s", name)
	}
	*dst = int32(v)
	return nil
}

func queryInt64(r *http.Request, name string, dst *int64) error {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return status.Errorf(codes.InvalidArgument, "invalid %s", name)
	}
	*dst = v
	return nil
}

func writeError(w http.ResponseWriter, err error) {
	st := status.Convert(StatusFromError(err))
	writeJSON(w, runtime.HTTPStatusFromCode(st.Code()), map[string]interface{}{
		"code":    int(st.Code()),
		"status":  st.Code().String(),
		"message": st.Message(),
	})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// Package grpcapi exposes the settlement engine as the gRPC service
// wager.v1.Wager. Messages are JSON encoded so the service needs no
// generated code; callers select the codec with CallContentSubtype.
package grpcapi

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"

	"github.com/xtding233/wager-backend/internal/apperrors"
	"github.com/xtding233/wager-backend/internal/auth"
	"github.com/xtding233/wager-backend/internal/bet"
	"github.com/xtding233/wager-backend/internal/round"
	"github.com/xtding233/wager-backend/internal/settle"
)

const (
	ServiceName = "wager.v1.Wager"
	// MetadataSession carries the auth session id.
	MetadataSession = "x-session-id"
)

type SettleRequest struct {
	Family         string          `json:"family"`
	Stake          decimal.Decimal `json:"stake"`
	Selector       bet.Selector    `json:"selector"`
	IdempotencyKey string          `json:"idempotencyKey,omitempty"`
}

type StartSessionRequest struct {
	Family   string          `json:"family"`
	Stake    decimal.Decimal `json:"stake"`
	Selector bet.Selector    `json:"selector"`
}

type ActRequest struct {
	Family    string `json:"family"`
	SessionID string `json:"sessionId"`
	Action    string `json:"action"`
}

type RoundRequest struct {
	Family string `json:"family"`
}

// RoundView carries the outcome pre-encoded so clients can decode it without
// knowing the family's outcome type.
type RoundView struct {
	round.Round
	Phase   string          `json:"phase"`
	Outcome json.RawMessage `json:"outcome,omitempty"`
}

type RoundReply struct {
	Current  RoundView `json:"current"`
	Previous RoundView `json:"previous"`
}

// WagerServer is the service contract.
type WagerServer interface {
	Settle(context.Context, *SettleRequest) (*settle.Result, error)
	StartSession(context.Context, *StartSessionRequest) (*settle.SessionView, error)
	Act(context.Context, *ActRequest) (*settle.SessionView, error)
	CurrentRound(context.Context, *RoundRequest) (*RoundReply, error)
}

// Service implements WagerServer on top of an Engine.
type Service struct {
	engine *settle.Engine
	auth   *auth.Sessions
}

func NewService(engine *settle.Engine, sessions *auth.Sessions) *Service {
	return &Service{engine: engine, auth: sessions}
}

func (s *Service) player(ctx context.Context) (string, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	var sid string
	if v := md.Get(MetadataSession); len(v) > 0 {
		sid = v[0]
	}
	ident, err := s.auth.Resolve(ctx, sid)
	if errors.Is(err, auth.ErrUnauthenticated) {
		return "", apperrors.New(apperrors.CodeUnauthenticated, "missing or expired session")
	}
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeInternal, "auth unavailable", err)
	}
	return ident.Address, nil
}

func (s *Service) Settle(ctx context.Context, in *SettleRequest) (*settle.Result, error) {
	player, err := s.player(ctx)
	if err != nil {
		return nil, err
	}
	res, err := s.engine.Settle(ctx, settle.Wager{
		Family:         in.Family,
		Player:         player,
		Stake:          in.Stake,
		Selector:       in.Selector,
		IdempotencyKey: in.IdempotencyKey,
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func (s *Service) StartSession(ctx context.Context, in *StartSessionRequest) (*settle.SessionView, error) {
	player, err := s.player(ctx)
	if err != nil {
		return nil, err
	}
	v, err := s.engine.StartSession(ctx, settle.StartRequest{
		Family:   in.Family,
		Player:   player,
		Stake:    in.Stake,
		Selector: in.Selector,
	})
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (s *Service) Act(ctx context.Context, in *ActRequest) (*settle.SessionView, error) {
	player, err := s.player(ctx)
	if err != nil {
		return nil, err
	}
	v, err := s.engine.Act(ctx, settle.ActRequest{
		Family:    in.Family,
		SessionID: in.SessionID,
		Player:    player,
		Action:    in.Action,
	})
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// CurrentRound needs no session.
func (s *Service) CurrentRound(_ context.Context, in *RoundRequest) (*RoundReply, error) {
	st, err := s.engine.CurrentRound(in.Family)
	if err != nil {
		return nil, err
	}
	cur, err := roundView(st.Current)
	if err != nil {
		return nil, err
	}
	prev, err := roundView(st.Previous)
	if err != nil {
		return nil, err
	}
	return &RoundReply{Current: cur, Previous: prev}, nil
}

func roundView(info settle.RoundInfo) (RoundView, error) {
	v := RoundView{Round: info.Round, Phase: info.Phase}
	if info.Outcome != nil {
		b, err := json.Marshal(info.Outcome)
		if err != nil {
			return RoundView{}, apperrors.Wrap(apperrors.CodeInternal, "encode outcome", err)
		}
		v.Outcome = b
	}
	return v, nil
}

func unary[Req any, Resp any](method string, call func(WagerServer, context.Context, *Req) (*Resp, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, apperrors.Wrap(apperrors.CodeSelectorInvalid, "malformed request", err).ToGRPCStatus()
		}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(WagerServer), ctx, req.(*Req))
		}
		if interceptor == nil {
			return handler(ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + method}
		return interceptor(ctx, in, info, handler)
	}
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*WagerServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Settle", Handler: unary("Settle", WagerServer.Settle)},
		{MethodName: "StartSession", Handler: unary("StartSession", WagerServer.StartSession)},
		{MethodName: "Act", Handler: unary("Act", WagerServer.Act)},
		{MethodName: "CurrentRound", Handler: unary("CurrentRound", WagerServer.CurrentRound)},
	},
	Metadata: "wager/v1/wager.json",
}

func RegisterWagerServer(s grpc.ServiceRegistrar, srv WagerServer) {
	s.RegisterService(&serviceDesc, srv)
}

// errorInterceptor turns domain errors into statuses with ErrorInfo details
// and logs every call.
func errorInterceptor(log *logrus.Entry) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		entry := log.WithFields(logrus.Fields{"method": info.FullMethod, "duration": time.Since(start)})
		if err == nil {
			entry.Debug("rpc")
			return resp, nil
		}
		e := apperrors.From(err)
		entry = entry.WithField("code", e.Code)
		if e.Code.Kind() == apperrors.KindInternal {
			entry.WithError(err).Error("rpc failed")
		} else {
			entry.Debug("rpc rejected")
		}
		return nil, e.ToGRPCStatus()
	}
}

// Server owns the listener, the gRPC server and its health service.
type Server struct {
	listener net.Listener
	grpc     *grpc.Server
	health   *health.Server
	log      *logrus.Entry
}

func NewServer(lis net.Listener, svc WagerServer, log *logrus.Entry) *Server {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	g := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(errorInterceptor(log)),
	)
	hs := health.NewServer()
	RegisterWagerServer(g, svc)
	healthpb.RegisterHealthServer(g, hs)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	return &Server{listener: lis, grpc: g, health: hs, log: log}
}

// Serve blocks until ctx is done, then stops gracefully.
func (s *Server) Serve(ctx context.Context) error {
	serveErr := make(chan error, 1)
	go func() { serveErr <- s.grpc.Serve(s.listener) }()
	s.log.WithField("addr", s.listener.Addr().String()).Info("grpc listening")

	select {
	case <-ctx.Done():
		s.health.Shutdown()
		s.grpc.GracefulStop()
		err := <-serveErr
		if err == nil || errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return err
	case err := <-serveErr:
		if err == nil || errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return err
	}
}

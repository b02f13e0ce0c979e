package main

import (
	"net"

	config "github.com/NordCoder/Questline/internal/config/api-gateway"
	domain "github.com/NordCoder/Questline/internal/domain/realtime"
	"github.com/NordCoder/Questline/internal/obs"
	grpcprometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

const realtimeHealthService = "questline.realtime"

func buildGRPCServer(cfg *config.Config, rt *realtimeStack) (*grpc.Server, net.Listener, error) {
	grpcMetrics := grpcprometheus.NewServerMetrics()

	opts := obs.GRPCServerOpts()
	opts = append(opts,
		grpc.ChainUnaryInterceptor(grpcMetrics.UnaryServerInterceptor()),
		grpc.ChainStreamInterceptor(grpcMetrics.StreamServerInterceptor()),
	)
	grpcServer := grpc.NewServer(opts...)

	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	setRealtimeHealth(hs, rt.Manager.Status())
	rt.Manager.OnStatusChange(func(s domain.Status) { setRealtimeHealth(hs, s) })
	healthpb.RegisterHealthServer(grpcServer, hs)

	reflection.Register(grpcServer)
	grpcMetrics.InitializeMetrics(grpcServer)

	ln, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		return nil, nil, err
	}
	return grpcServer, ln, nil
}

func setRealtimeHealth(hs *health.Server, s domain.Status) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if s == domain.StatusOpen {
		st = healthpb.HealthCheckResponse_SERVING
	}
	hs.SetServingStatus(realtimeHealthService, st)
}

func serveGRPC(s *grpc.Server, ln net.Listener, cfg *config.Config, logger *zap.Logger) error {
	logger.Info("grpc listening", zap.String("addr", cfg.Server.GRPCAddr))
	return s.Serve(ln)
}

func gracefulStopGRPC(s *grpc.Server) { s.GracefulStop() }

package detect

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"eyeline/internal/landmark"
)

// Gateway serves ServiceName in front of another Client, typically the REST
// detection service, so gRPC callers never speak multipart.
type Gateway struct {
	backend Client
	logger  *slog.Logger

	startTime time.Time
	submitted atomic.Int64
	fetched   atomic.Int64
}

// GatewayStats is a point-in-time view of gateway traffic.
type GatewayStats struct {
	Uptime    time.Duration
	Submitted int64
	Fetched   int64
}

func NewGateway(backend Client, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{backend: backend, logger: logger, startTime: time.Now()}
}

// Serve blocks serving on lis until ctx is cancelled.
func (g *Gateway) Serve(ctx context.Context, lis net.Listener) error {
	srv := grpc.NewServer(
		grpc.MaxRecvMsgSize(maxMessageSize),
		grpc.MaxSendMsgSize(maxMessageSize),
	)
	RegisterDetectionServer(srv, g)

	go func() {
		<-ctx.Done()
		srv.GracefulStop()
	}()

	g.logger.Info("detection gateway listening", "addr", lis.Addr().String())
	if err := srv.Serve(lis); err != nil && err != grpc.ErrServerStopped {
		return fmt.Errorf("grpc serve: %w", err)
	}
	return nil
}

// ListenAndServe listens on addr and calls Serve.
func (g *Gateway) ListenAndServe(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return g.Serve(ctx, lis)
}

func (g *Gateway) Stats() GatewayStats {
	return GatewayStats{
		Uptime:    time.Since(g.startTime),
		Submitted: g.submitted.Load(),
		Fetched:   g.fetched.Load(),
	}
}

func (g *Gateway) Submit(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	raw := req.GetFields()["images"].GetListValue().GetValues()
	if len(raw) == 0 {
		return nil, status.Error(codes.InvalidArgument, "no images in request")
	}
	images := make([]landmark.Image, 0, len(raw))
	for i, v := range raw {
		fields := v.GetStructValue().GetFields()
		data, err := base64.StdEncoding.DecodeString(fields["data"].GetStringValue())
		if err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "image %d: bad base64: %v", i, err)
		}
		images = append(images, landmark.Image{Name: fields["name"].GetStringValue(), Data: data})
	}

	id, err := g.backend.Submit(ctx, images)
	if err != nil {
		g.logger.Error("gateway submit failed", "images", len(images), "error", err)
		return nil, grpcStatus(err)
	}
	g.submitted.Add(int64(len(images)))
	g.logger.Info("gateway submitted job", "job_id", id, "images", len(images))
	return toStruct(submitResponse{JobID: id})
}

func (g *Gateway) Poll(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := requireJobID(req)
	if err != nil {
		return nil, err
	}
	p, err := g.backend.Poll(ctx, id)
	if err != nil {
		return nil, grpcStatus(err)
	}
	return toStruct(p)
}

func (g *Gateway) Fetch(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := requireJobID(req)
	if err != nil {
		return nil, err
	}
	recs, err := g.backend.Fetch(ctx, id)
	if err != nil {
		return nil, grpcStatus(err)
	}
	g.fetched.Add(1)
	var resp fetchResponse
	resp.Data.EyePosition = recs
	return toStruct(resp)
}

func requireJobID(req *structpb.Struct) (string, error) {
	id := req.GetFields()["job_id"].GetStringValue()
	if id == "" {
		return "", status.Error(codes.InvalidArgument, "job_id is required")
	}
	return id, nil
}

package detect

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"eyeline/internal/landmark"
)

// ServiceName is the fully qualified gRPC service of the detection API.
// Messages are google.protobuf.Struct carrying the same fields as the
// REST bodies; images travel as base64 under images[].data.
const ServiceName = "eyeline.detect.v1.Detection"

const maxMessageSize = 100 * 1024 * 1024

// DetectionServer is the server side of ServiceName.
type DetectionServer interface {
	Submit(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Poll(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Fetch(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*DetectionServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Submit", Handler: unaryHandler("Submit", DetectionServer.Submit)},
		{MethodName: "Poll", Handler: unaryHandler("Poll", DetectionServer.Poll)},
		{MethodName: "Fetch", Handler: unaryHandler("Fetch", DetectionServer.Fetch)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "eyeline/detect/v1/detection.proto",
}

// RegisterDetectionServer attaches srv to a gRPC server.
func RegisterDetectionServer(s grpc.ServiceRegistrar, srv DetectionServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func unaryHandler(method string, call func(DetectionServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodHandler {
	fullMethod := "/" + ServiceName + "/" + method
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(DetectionServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(DetectionServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// GRPCClient implements Client over ServiceName.
type GRPCClient struct {
	conn    *grpc.ClientConn
	timeout time.Duration
}

// DialGRPC connects to a detection service. Extra options are appended to
// the defaults, so tests can swap in a custom dialer.
func DialGRPC(addr string, timeout time.Duration, extra ...grpc.DialOption) (*GRPCClient, error) {
	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(
			grpc.MaxCallRecvMsgSize(maxMessageSize),
			grpc.MaxCallSendMsgSize(maxMessageSize),
		),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                30 * time.Second,
			Timeout:             10 * time.Second,
			PermitWithoutStream: true,
		}),
	}
	opts = append(opts, extra...)

	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("could not connect to detection service at %s: %w", addr, err)
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &GRPCClient{conn: conn, timeout: timeout}, nil
}

func (c *GRPCClient) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func (c *GRPCClient) Submit(ctx context.Context, images []landmark.Image) (string, error) {
	if err := checkImages(images); err != nil {
		return "", err
	}
	list := make([]any, len(images))
	for i, img := range images {
		list[i] = map[string]any{
			"name": img.Name,
			"data": base64.StdEncoding.EncodeToString(img.Data),
		}
	}
	req, err := structpb.NewStruct(map[string]any{"images": list})
	if err != nil {
		return "", err
	}

	var resp submitResponse
	if err := c.invoke(ctx, "Submit", req, &resp); err != nil {
		return "", err
	}
	if resp.JobID == "" {
		return "", fmt.Errorf("%w: submit response has no job_id", ErrTransport)
	}
	return resp.JobID, nil
}

func (c *GRPCClient) Poll(ctx context.Context, jobID string) (Progress, error) {
	var p Progress
	err := c.invoke(ctx, "Poll", jobRequest(jobID), &p)
	return p, err
}

func (c *GRPCClient) Fetch(ctx context.Context, jobID string) ([]landmark.Record, error) {
	var resp fetchResponse
	if err := c.invoke(ctx, "Fetch", jobRequest(jobID), &resp); err != nil {
		return nil, err
	}
	return resp.Data.EyePosition, nil
}

func (c *GRPCClient) invoke(ctx context.Context, method string, req *structpb.Struct, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, "/"+ServiceName+"/"+method, req, resp); err != nil {
		if status.Code(err) == codes.InvalidArgument {
			return fmt.Errorf("%w: %s", ErrRejected, status.Convert(err).Message())
		}
		return transportErr(method, err)
	}
	return fromStruct(resp, out)
}

func jobRequest(jobID string) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"job_id": structpb.NewStringValue(jobID),
	}}
}

// toStruct converts a JSON-tagged value into a Struct.
func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	s := new(structpb.Struct)
	if err := s.UnmarshalJSON(data); err != nil {
		return nil, err
	}
	return s, nil
}

func fromStruct(s *structpb.Struct, out any) error {
	data, err := s.MarshalJSON()
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %T: %w", out, err)
	}
	return nil
}

// grpcStatus maps a backend error onto a gRPC status.
func grpcStatus(err error) error {
	switch {
	case errors.Is(err, ErrUnsupportedImage):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, ErrTransport):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

package scoring

import (
	"context"
	"fmt"
	"time"

	"TrafficLens/internal/model"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	serviceName = "trafficlens.scoring.v1.OutlierScorer"
	scoreMethod = "/" + serviceName + "/Score"
)

// GRPCScorer calls a remote scoring service. Requests are a ListValue of
// numeric ListValues, responses a ListValue of label strings.
type GRPCScorer struct {
	conn    *grpc.ClientConn
	timeout time.Duration
}

// NewGRPCScorer creates a client for the scoring service at addr. The
// connection is established lazily on the first call.
func NewGRPCScorer(addr string, timeout time.Duration, opts ...grpc.DialOption) (*GRPCScorer, error) {
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create scoring client for %s: %w", addr, err)
	}
	return &GRPCScorer{conn: conn, timeout: timeout}, nil
}

// Score implements model.Scorer. Transport failures are reported as
// model.ErrScoringUnavailable.
func (s *GRPCScorer) Score(ctx context.Context, vectors []model.FeatureVector) ([]model.Label, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	rows := make([]*structpb.Value, len(vectors))
	for i, v := range vectors {
		values := v.Values()
		items := make([]*structpb.Value, len(values))
		for j, x := range values {
			items[j] = structpb.NewNumberValue(x)
		}
		rows[i] = structpb.NewListValue(&structpb.ListValue{Values: items})
	}

	req := &structpb.ListValue{Values: rows}
	resp := &structpb.ListValue{}
	if err := s.conn.Invoke(ctx, scoreMethod, req, resp); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrScoringUnavailable, err)
	}

	labels := make([]model.Label, len(resp.GetValues()))
	for i, v := range resp.GetValues() {
		labels[i] = model.Label(v.GetStringValue())
	}
	return labels, nil
}

// Close releases the underlying connection.
func (s *GRPCScorer) Close() error {
	return s.conn.Close()
}

// scorerServer is the HandlerType of the scoring service description.
type scorerServer interface {
	model.Scorer
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*scorerServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Score",
			Handler:    scoreHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "trafficlens/scoring/v1/scoring.proto",
}

// RegisterScorerServer exposes scorer over gRPC on s.
func RegisterScorerServer(s *grpc.Server, scorer model.Scorer) {
	s.RegisterService(&serviceDesc, scorer)
}

func scoreHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	req := &structpb.ListValue{}
	if err := dec(req); err != nil {
		return nil, err
	}
	handler := func(ctx context.Context, in any) (any, error) {
		return score(ctx, srv.(model.Scorer), in.(*structpb.ListValue))
	}
	if interceptor == nil {
		return handler(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: scoreMethod}
	return interceptor(ctx, req, info, handler)
}

func score(ctx context.Context, scorer model.Scorer, req *structpb.ListValue) (*structpb.ListValue, error) {
	vectors := make([]model.FeatureVector, len(req.GetValues()))
	for i, row := range req.GetValues() {
		items := row.GetListValue().GetValues()
		if len(items) != 3 {
			return nil, status.Errorf(codes.InvalidArgument, "vector %d has %d dimensions, want 3", i, len(items))
		}
		vectors[i] = model.FeatureVector{
			Size:      items[0].GetNumberValue(),
			Protocol:  items[1].GetNumberValue(),
			Timestamp: items[2].GetNumberValue(),
		}
	}

	labels, err := scorer.Score(ctx, vectors)
	if err != nil {
		return nil, status.Errorf(codes.Unavailable, "scoring failed: %v", err)
	}

	out := make([]*structpb.Value, len(labels))
	for i, l := range labels {
		out[i] = structpb.NewStringValue(string(l))
	}
	return &structpb.ListValue{Values: out}, nil
}

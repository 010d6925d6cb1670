package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/miradorstack/mirador-aha/internal/services"
	"github.com/miradorstack/mirador-aha/internal/store"
)

// IncidentServiceName is the fully qualified gRPC service name.
const IncidentServiceName = "mirador.aha.v1.IncidentService"

// IncidentServiceServer is the gRPC query surface over incidents. Messages are
// protobuf well-known types; incidents travel as Structs with the same field
// names as the JSON API.
type IncidentServiceServer interface {
	ListIncidents(context.Context, *emptypb.Empty) (*structpb.ListValue, error)
	GetIncident(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	ClearIncidents(context.Context, *emptypb.Empty) (*wrapperspb.Int64Value, error)
	ListPatterns(context.Context, *emptypb.Empty) (*structpb.ListValue, error)
}

// RegisterIncidentServiceServer registers srv on s.
func RegisterIncidentServiceServer(s grpc.ServiceRegistrar, srv IncidentServiceServer) {
	s.RegisterService(&incidentServiceDesc, srv)
}

var incidentServiceDesc = grpc.ServiceDesc{
	ServiceName: IncidentServiceName,
	HandlerType: (*IncidentServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ListIncidents", Handler: listIncidentsHandler},
		{MethodName: "GetIncident", Handler: getIncidentHandler},
		{MethodName: "ClearIncidents", Handler: clearIncidentsHandler},
		{MethodName: "ListPatterns", Handler: listPatternsHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "mirador/aha/v1/incident.proto",
}

func fullMethod(name string) string {
	return "/" + IncidentServiceName + "/" + name
}

func listIncidentsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(IncidentServiceServer).ListIncidents(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod("ListIncidents")}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(IncidentServiceServer).ListIncidents(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func getIncidentHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(IncidentServiceServer).GetIncident(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod("GetIncident")}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(IncidentServiceServer).GetIncident(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

func clearIncidentsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(IncidentServiceServer).ClearIncidents(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod("ClearIncidents")}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(IncidentServiceServer).ClearIncidents(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func listPatternsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(IncidentServiceServer).ListPatterns(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod("ListPatterns")}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(IncidentServiceServer).ListPatterns(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

// IncidentGRPC adapts services.IncidentService to IncidentServiceServer.
type IncidentGRPC struct {
	svc *services.IncidentService
}

// NewIncidentGRPC wraps svc.
func NewIncidentGRPC(svc *services.IncidentService) *IncidentGRPC {
	return &IncidentGRPC{svc: svc}
}

func (g *IncidentGRPC) ListIncidents(ctx context.Context, _ *emptypb.Empty) (*structpb.ListValue, error) {
	return toListValue(g.svc.ListIncidents())
}

func (g *IncidentGRPC) GetIncident(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	id := strings.TrimSpace(req.GetValue())
	if id == "" {
		return nil, status.Error(codes.InvalidArgument, "incident id is required")
	}
	inc, err := g.svc.GetIncident(id)
	if errors.Is(err, store.ErrIncidentNotFound) {
		return nil, status.Error(codes.NotFound, "incident not found")
	}
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return toStruct(inc)
}

func (g *IncidentGRPC) ClearIncidents(ctx context.Context, _ *emptypb.Empty) (*wrapperspb.Int64Value, error) {
	return wrapperspb.Int64(int64(g.svc.ClearIncidents())), nil
}

func (g *IncidentGRPC) ListPatterns(ctx context.Context, _ *emptypb.Empty) (*structpb.ListValue, error) {
	return toListValue(g.svc.Patterns())
}

// toStruct converts v through its JSON form so field names match the HTTP API.
func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, status.Error(codes.Internal, fmt.Sprintf("encode: %v", err))
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, status.Error(codes.Internal, fmt.Sprintf("encode: %v", err))
	}
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Error(codes.Internal, fmt.Sprintf("encode: %v", err))
	}
	return s, nil
}

func toListValue[T any](items []T) (*structpb.ListValue, error) {
	list := &structpb.ListValue{Values: make([]*structpb.Value, 0, len(items))}
	for _, item := range items {
		s, err := toStruct(item)
		if err != nil {
			return nil, err
		}
		list.Values = append(list.Values, structpb.NewStructValue(s))
	}
	return list, nil
}

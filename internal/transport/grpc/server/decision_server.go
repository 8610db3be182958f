// Package server exposes authorization decisions over gRPC.
//
// Messages are google.protobuf.Struct values so that callers need no generated
// stubs: Decide takes {user_id, permission_code, context} and returns {allowed};
// EffectivePermissions takes {user_id} and returns {user_id, permissions}.
package server

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/arklim/bizhub-authz/internal/core/domain"
	"github.com/arklim/bizhub-authz/internal/transport/grpc/interceptors"
	"github.com/arklim/bizhub-authz/internal/usecase"
)

const (
	DecisionServiceName        = "authz.v1.DecisionService"
	DecideMethod               = "/" + DecisionServiceName + "/Decide"
	EffectivePermissionsMethod = "/" + DecisionServiceName + "/EffectivePermissions"
)

// Resolver is the decision capability served over gRPC.
type Resolver interface {
	Decide(ctx context.Context, userID, permissionCode string, reqCtx domain.ScalarMap) (domain.Decision, error)
	EffectivePermissions(ctx context.Context, userID string) ([]string, error)
}

// DecisionServiceServer is the server API for authz.v1.DecisionService.
type DecisionServiceServer interface {
	Decide(context.Context, *structpb.Struct) (*structpb.Struct, error)
	EffectivePermissions(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// DecisionServer answers decision queries. When a caller code is configured,
// authenticated callers must themselves hold it.
type DecisionServer struct {
	resolver   Resolver
	callerCode string
	logger     *zap.Logger
}

// NewDecisionServer constructs a DecisionServer.
func NewDecisionServer(resolver Resolver, callerCode string, logger *zap.Logger) *DecisionServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DecisionServer{resolver: resolver, callerCode: strings.TrimSpace(callerCode), logger: logger}
}

// Decide returns whether user_id may exercise permission_code. The reason is never returned.
func (s *DecisionServer) Decide(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	fields := req.GetFields()
	userID := fields["user_id"].GetStringValue()
	if err := s.authorizeCaller(ctx, userID); err != nil {
		return nil, err
	}

	code := fields["permission_code"].GetStringValue()
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(code) == "" {
		return nil, status.Error(codes.InvalidArgument, "user_id and permission_code are required")
	}

	reqCtx, err := scalarMapFromStruct(fields["context"].GetStructValue())
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	decision, err := s.resolver.Decide(ctx, userID, code, reqCtx)
	if err != nil {
		return nil, s.statusFromError(err)
	}

	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"allowed": structpb.NewBoolValue(decision.Allowed),
	}}, nil
}

// EffectivePermissions returns the codes user_id holds without request context.
func (s *DecisionServer) EffectivePermissions(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	userID := req.GetFields()["user_id"].GetStringValue()
	if err := s.authorizeCaller(ctx, userID); err != nil {
		return nil, err
	}

	if strings.TrimSpace(userID) == "" {
		return nil, status.Error(codes.InvalidArgument, "user_id is required")
	}

	permissions, err := s.resolver.EffectivePermissions(ctx, userID)
	if err != nil {
		return nil, s.statusFromError(err)
	}

	values := make([]*structpb.Value, 0, len(permissions))
	for _, code := range permissions {
		values = append(values, structpb.NewStringValue(code))
	}

	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"user_id":     structpb.NewStringValue(userID),
		"permissions": structpb.NewListValue(&structpb.ListValue{Values: values}),
	}}, nil
}

// authorizeCaller checks the caller's own permission with the same condition
// context the HTTP surface builds: caller id, tenant and the targeted user.
func (s *DecisionServer) authorizeCaller(ctx context.Context, subjectUserID string) error {
	if s.callerCode == "" {
		return nil
	}
	claims, ok := interceptors.ClaimsFromContext(ctx)
	if !ok {
		return status.Error(codes.Unauthenticated, "authentication required")
	}

	decision, err := s.resolver.Decide(ctx, claims.ActorID(), s.callerCode,
		domain.CallerContext(claims.ActorID(), claims.TenantID, subjectUserID))
	if err != nil {
		s.logger.Warn("caller authorization check failed", zap.Error(err))
		return status.Error(codes.PermissionDenied, "not authorized")
	}
	if !decision.Allowed {
		return status.Error(codes.PermissionDenied, "not authorized")
	}
	return nil
}

func (s *DecisionServer) statusFromError(err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, "decision timed out")
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, "request cancelled")
	case errors.Is(err, usecase.ErrInfrastructure):
		s.logger.Error("decision failed", zap.Error(err))
		return status.Error(codes.Unavailable, "authorization store unavailable")
	default:
		s.logger.Error("decision failed", zap.Error(err))
		return status.Error(codes.Internal, "failed to evaluate permission")
	}
}

func scalarMapFromStruct(in *structpb.Struct) (domain.ScalarMap, error) {
	out := make(domain.ScalarMap, len(in.GetFields()))
	for key, value := range in.GetFields() {
		switch kind := value.GetKind().(type) {
		case *structpb.Value_StringValue:
			out[key] = domain.StringValue(kind.StringValue)
		case *structpb.Value_NumberValue:
			out[key] = domain.NumberValue(kind.NumberValue)
		case *structpb.Value_BoolValue:
			out[key] = domain.BoolValue(kind.BoolValue)
		default:
			return nil, errors.Join(domain.ErrInvalidScalar, errors.New("context."+key+" must be a string, number or boolean"))
		}
	}
	return out, nil
}

// RegisterDecisionServiceServer registers srv on the registrar.
func RegisterDecisionServiceServer(s grpc.ServiceRegistrar, srv DecisionServiceServer) {
	s.RegisterService(&decisionServiceDesc, srv)
}

func decideHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DecisionServiceServer).Decide(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: DecideMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(DecisionServiceServer).Decide(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func effectivePermissionsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DecisionServiceServer).EffectivePermissions(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: EffectivePermissionsMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(DecisionServiceServer).EffectivePermissions(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

var decisionServiceDesc = grpc.ServiceDesc{
	ServiceName: DecisionServiceName,
	HandlerType: (*DecisionServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Decide", Handler: decideHandler},
		{MethodName: "EffectivePermissions", Handler: effectivePermissionsHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "authz/v1/decision.proto",
}

package transportgrpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/arklim/bizhub-authz/internal/core/domain"
	"github.com/arklim/bizhub-authz/internal/infra/security"
	"github.com/arklim/bizhub-authz/internal/transport/grpc/interceptors"
	"github.com/arklim/bizhub-authz/internal/transport/grpc/server"
	"github.com/arklim/bizhub-authz/internal/usecase"
)

const callerCode = "authz:decision:query"

type stubResolver struct {
	allowed map[string]bool
	codes   []string
	err     error
	reqCtx  domain.ScalarMap

	// callerConditions, when set, guard the caller's grant like a conditional direct grant.
	callerConditions domain.ScalarMap
}

func (s *stubResolver) Decide(_ context.Context, userID, code string, reqCtx domain.ScalarMap) (domain.Decision, error) {
	if code == callerCode && s.callerConditions != nil && !domain.MatchConditions(s.callerConditions, reqCtx) {
		return domain.NoGrant(), nil
	}
	if code != callerCode {
		s.reqCtx = reqCtx
		if s.err != nil {
			return domain.Decision{}, s.err
		}
	}
	if s.allowed[userID+"|"+code] {
		return domain.Decision{Allowed: true, Reason: domain.DecisionReasonRoleAllow}, nil
	}
	return domain.NoGrant(), nil
}

func (s *stubResolver) EffectivePermissions(context.Context, string) ([]string, error) {
	return s.codes, s.err
}

type harness struct {
	conn     *grpc.ClientConn
	verifier *security.TokenVerifier
	srv      *Server
	spans    *tracetest.SpanRecorder
	registry *prometheus.Registry
}

func newHarness(t *testing.T, resolver *stubResolver) *harness {
	t.Helper()

	verifier, err := security.NewTokenVerifier("grpc-secret", "", "")
	if err != nil {
		t.Fatalf("NewTokenVerifier returned error: %v", err)
	}

	registry := prometheus.NewRegistry()
	metrics, err := interceptors.NewGRPCMetrics(interceptors.GRPCMetricsOptions{Registerer: registry})
	if err != nil {
		t.Fatalf("NewGRPCMetrics returned error: %v", err)
	}

	spans := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	srv, err := NewServer(ServerDependencies{
		Resolver:   resolver,
		Verifier:   verifier,
		Metrics:    metrics,
		Tracing:    interceptors.NewTracing(interceptors.TracingOptions{TracerProvider: tp}),
		Logger:     zaptest.NewLogger(t),
		CallerCode: callerCode,
	})
	if err != nil {
		t.Fatalf("NewServer returned error: %v", err)
	}

	listener := bufconn.Listen(1 << 20)
	go func() { _ = srv.Serve(listener) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return listener.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	return &harness{conn: conn, verifier: verifier, srv: srv, spans: spans, registry: registry}
}

func (h *harness) authContext(t *testing.T, userID string) context.Context {
	t.Helper()
	token, err := h.verifier.Sign(security.AccessTokenOptions{UserID: userID})
	if err != nil {
		t.Fatalf("Sign returned error: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+token)
}

func decideRequest(t *testing.T, userID, code string, reqCtx map[string]any) *structpb.Struct {
	t.Helper()
	req, err := structpb.NewStruct(map[string]any{
		"user_id":         userID,
		"permission_code": code,
		"context":         reqCtx,
	})
	if err != nil {
		t.Fatalf("NewStruct returned error: %v", err)
	}
	return req
}

func TestHealthCheckIsPublic(t *testing.T) {
	h := newHarness(t, &stubResolver{})

	client := healthpb.NewHealthClient(h.conn)
	resp, err := client.Check(context.Background(), &healthpb.HealthCheckRequest{Service: server.DecisionServiceName})
	if err != nil {
		t.Fatalf("Check returned error: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("expected SERVING, got %v", resp.GetStatus())
	}
}

func TestDecideReturnsVerdictOnly(t *testing.T) {
	resolver := &stubResolver{allowed: map[string]bool{
		"svc|" + callerCode:       true,
		"V|hr:employee:terminate": true,
	}}
	h := newHarness(t, resolver)

	resp := new(structpb.Struct)
	err := h.conn.Invoke(h.authContext(t, "svc"), server.DecideMethod,
		decideRequest(t, "V", "hr:employee:terminate", map[string]any{"departmentId": "d1", "level": 3.0}), resp)
	if err != nil {
		t.Fatalf("Decide returned error: %v", err)
	}
	if !resp.GetFields()["allowed"].GetBoolValue() {
		t.Fatalf("expected allowed, got %v", resp)
	}
	if _, leaked := resp.GetFields()["reason"]; leaked {
		t.Fatalf("reason must not be exposed")
	}
	if !resolver.reqCtx.Equal(domain.ScalarMap{"departmentId": domain.StringValue("d1"), "level": domain.NumberValue(3)}) {
		t.Fatalf("unexpected request context: %+v", resolver.reqCtx)
	}

	count, err := testutil.GatherAndCount(h.registry, "authz_grpc_requests_total")
	if err != nil || count == 0 {
		t.Fatalf("expected request metrics, got %d (%v)", count, err)
	}

	deadline := time.Now().Add(time.Second)
	for len(h.spans.Ended()) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if len(h.spans.Ended()) == 0 {
		t.Fatalf("expected a server span to be recorded")
	}
}

func TestDecideRequiresCallerPermission(t *testing.T) {
	h := newHarness(t, &stubResolver{})

	err := h.conn.Invoke(h.authContext(t, "intruder"), server.DecideMethod,
		decideRequest(t, "V", "hr:employee:terminate", nil), new(structpb.Struct))
	if status.Code(err) != codes.PermissionDenied {
		t.Fatalf("expected PermissionDenied, got %v", err)
	}
}

func TestCallerCheckSeesTenantAndSubject(t *testing.T) {
	resolver := &stubResolver{
		allowed: map[string]bool{"svc|" + callerCode: true},
		callerConditions: domain.ScalarMap{
			"tenantId":      domain.StringValue("t1"),
			"subjectUserId": domain.StringValue("V"),
		},
	}
	h := newHarness(t, resolver)

	tenantCtx := func(tenantID string) context.Context {
		token, err := h.verifier.Sign(security.AccessTokenOptions{UserID: "svc", TenantID: tenantID})
		if err != nil {
			t.Fatalf("Sign returned error: %v", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		t.Cleanup(cancel)
		return metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+token)
	}

	if err := h.conn.Invoke(tenantCtx("t1"), server.DecideMethod,
		decideRequest(t, "V", "hr:employee:terminate", nil), new(structpb.Struct)); err != nil {
		t.Fatalf("expected conditional caller grant to match, got %v", err)
	}

	err := h.conn.Invoke(tenantCtx("t2"), server.DecideMethod,
		decideRequest(t, "V", "hr:employee:terminate", nil), new(structpb.Struct))
	if status.Code(err) != codes.PermissionDenied {
		t.Fatalf("expected PermissionDenied for another tenant, got %v", err)
	}

	err = h.conn.Invoke(tenantCtx("t1"), server.DecideMethod,
		decideRequest(t, "W", "hr:employee:terminate", nil), new(structpb.Struct))
	if status.Code(err) != codes.PermissionDenied {
		t.Fatalf("expected PermissionDenied for another subject, got %v", err)
	}

	req, err := structpb.NewStruct(map[string]any{"user_id": "V"})
	if err != nil {
		t.Fatalf("NewStruct returned error: %v", err)
	}
	if err := h.conn.Invoke(tenantCtx("t1"), server.EffectivePermissionsMethod, req, new(structpb.Struct)); err != nil {
		t.Fatalf("expected EffectivePermissions caller check to match, got %v", err)
	}
}

func TestDecideRequiresAuthentication(t *testing.T) {
	h := newHarness(t, &stubResolver{})

	err := h.conn.Invoke(context.Background(), server.DecideMethod,
		decideRequest(t, "V", "hr:employee:terminate", nil), new(structpb.Struct))
	if status.Code(err) != codes.Unauthenticated {
		t.Fatalf("expected Unauthenticated, got %v", err)
	}
}

func TestDecideRejectsNestedContextValues(t *testing.T) {
	h := newHarness(t, &stubResolver{allowed: map[string]bool{"svc|" + callerCode: true}})

	err := h.conn.Invoke(h.authContext(t, "svc"), server.DecideMethod,
		decideRequest(t, "V", "hr:employee:terminate", map[string]any{"nested": map[string]any{"a": "b"}}), new(structpb.Struct))
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("expected InvalidArgument, got %v", err)
	}
}

func TestDecideMapsInfrastructureFailures(t *testing.T) {
	h := newHarness(t, &stubResolver{
		allowed: map[string]bool{"svc|" + callerCode: true},
		err:     fmt.Errorf("%w: %w", usecase.ErrInfrastructure, errors.New("connection refused")),
	})

	err := h.conn.Invoke(h.authContext(t, "svc"), server.DecideMethod,
		decideRequest(t, "V", "hr:employee:terminate", nil), new(structpb.Struct))
	if status.Code(err) != codes.Unavailable {
		t.Fatalf("expected Unavailable, got %v", err)
	}
}

func TestEffectivePermissions(t *testing.T) {
	h := newHarness(t, &stubResolver{
		allowed: map[string]bool{"svc|" + callerCode: true},
		codes:   []string{"sales:report:export", "sales:report:read"},
	})

	req, err := structpb.NewStruct(map[string]any{"user_id": "U"})
	if err != nil {
		t.Fatalf("NewStruct returned error: %v", err)
	}
	resp := new(structpb.Struct)
	if err := h.conn.Invoke(h.authContext(t, "svc"), server.EffectivePermissionsMethod, req, resp); err != nil {
		t.Fatalf("EffectivePermissions returned error: %v", err)
	}

	values := resp.GetFields()["permissions"].GetListValue().GetValues()
	if len(values) != 2 || values[0].GetStringValue() != "sales:report:export" {
		t.Fatalf("unexpected permissions: %v", resp)
	}
}

func TestShutdownMarksNotServing(t *testing.T) {
	h := newHarness(t, &stubResolver{})
	h.srv.Health.Shutdown()

	client := healthpb.NewHealthClient(h.conn)
	resp, err := client.Check(context.Background(), &healthpb.HealthCheckRequest{Service: server.DecisionServiceName})
	if err != nil {
		t.Fatalf("Check returned error: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("expected NOT_SERVING, got %v", resp.GetStatus())
	}
}

func TestNewServerRequiresResolver(t *testing.T) {
	if _, err := NewServer(ServerDependencies{}); err == nil {
		t.Fatalf("expected error without resolver")
	}
}

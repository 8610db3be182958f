package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/arklim/bizhub-authz/internal/core/domain"
	"github.com/arklim/bizhub-authz/internal/infra/security"
	"github.com/arklim/bizhub-authz/internal/usecase"
)

type stubDecider struct {
	decision domain.Decision
	err      error
	userID   string
	code     string
	reqCtx   domain.ScalarMap
}

func (s *stubDecider) Decide(_ context.Context, userID, code string, reqCtx domain.ScalarMap) (domain.Decision, error) {
	s.userID = userID
	s.code = code
	s.reqCtx = reqCtx
	return s.decision, s.err
}

func newVerifier(t *testing.T) *security.TokenVerifier {
	t.Helper()
	verifier, err := security.NewTokenVerifier("test-secret", "", "")
	if err != nil {
		t.Fatalf("NewTokenVerifier returned error: %v", err)
	}
	return verifier
}

func bearer(t *testing.T, verifier *security.TokenVerifier, userID, tenantID string) string {
	t.Helper()
	token, err := verifier.Sign(security.AccessTokenOptions{UserID: userID, TenantID: tenantID})
	if err != nil {
		t.Fatalf("Sign returned error: %v", err)
	}
	return "Bearer " + token
}

func TestRequireAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	verifier := newVerifier(t)

	router := gin.New()
	router.Use(EnrichContext(), RequireAuth(verifier))
	router.GET("/whoami", func(c *gin.Context) {
		userID, _ := GetAuthenticatedUserID(c)
		c.JSON(http.StatusOK, gin.H{
			"user":   userID,
			"tenant": c.GetString(TenantIDKey),
			"actor":  usecase.ActorFromContext(c.Request.Context()),
		})
	})

	cases := []struct {
		name   string
		header string
		status int
	}{
		{name: "missing header", header: "", status: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic abc", status: http.StatusUnauthorized},
		{name: "empty token", header: "Bearer  ", status: http.StatusUnauthorized},
		{name: "garbage token", header: "Bearer nope", status: http.StatusUnauthorized},
		{name: "valid", header: bearer(t, verifier, "user-1", "tenant-1"), status: http.StatusOK},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)

			if rr.Code != tc.status {
				t.Fatalf("expected status %d, got %d: %s", tc.status, rr.Code, rr.Body.String())
			}
			if tc.status != http.StatusOK {
				return
			}

			var body map[string]string
			if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode body: %v", err)
			}
			if body["user"] != "user-1" || body["tenant"] != "tenant-1" || body["actor"] != "user-1" {
				t.Fatalf("unexpected identity %v", body)
			}
		})
	}
}

func TestRequirePermission(t *testing.T) {
	gin.SetMode(gin.TestMode)
	verifier := newVerifier(t)

	cases := []struct {
		name    string
		decider *stubDecider
		status  int
	}{
		{name: "allowed", decider: &stubDecider{decision: domain.Decision{Allowed: true, Reason: domain.DecisionReasonRoleAllow}}, status: http.StatusOK},
		{name: "denied", decider: &stubDecider{decision: domain.Decision{Reason: domain.DecisionReasonDirectDeny}}, status: http.StatusForbidden},
		{name: "resolver failure", decider: &stubDecider{err: errors.New("db down")}, status: http.StatusForbidden},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			router := gin.New()
			router.Use(EnrichContext(), RequireAuth(verifier))
			router.GET("/users/:userId/direct-permissions", RequirePermission(tc.decider, "authz:grant:read", nil), func(c *gin.Context) {
				c.Status(http.StatusOK)
			})

			req := httptest.NewRequest(http.MethodGet, "/users/user-9/direct-permissions", nil)
			req.Header.Set("Authorization", bearer(t, verifier, "user-1", "tenant-1"))
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)

			if rr.Code != tc.status {
				t.Fatalf("expected status %d, got %d", tc.status, rr.Code)
			}
			if tc.decider.code != "authz:grant:read" || tc.decider.userID != "user-1" {
				t.Fatalf("unexpected decide call %q %q", tc.decider.userID, tc.decider.code)
			}

			want := domain.ScalarMap{
				"userId":        domain.StringValue("user-1"),
				"tenantId":      domain.StringValue("tenant-1"),
				"subjectUserId": domain.StringValue("user-9"),
			}
			if !tc.decider.reqCtx.Equal(want) {
				t.Fatalf("unexpected decision context %v", tc.decider.reqCtx)
			}

			if tc.status == http.StatusForbidden {
				var body ErrorResponse
				if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
					t.Fatalf("decode body: %v", err)
				}
				if body.Error != "not authorized" {
					t.Fatalf("expected generic refusal, got %q", body.Error)
				}
			}
		})
	}
}

func TestRequirePermissionWithoutAuthentication(t *testing.T) {
	gin.SetMode(gin.TestMode)
	decider := &stubDecider{decision: domain.Decision{Allowed: true}}

	router := gin.New()
	router.GET("/x", RequirePermission(decider, "authz:permission:read", nil), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/x", nil))

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	if decider.code != "" {
		t.Fatalf("expected resolver not to be consulted")
	}
}

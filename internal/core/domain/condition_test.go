package domain

import "testing"

func TestMatchConditions(t *testing.T) {
	tests := []struct {
		name       string
		conditions ScalarMap
		reqCtx     ScalarMap
		want       bool
	}{
		{
			name:   "nil conditions always match",
			reqCtx: ScalarMap{"tenantId": StringValue("t1")},
			want:   true,
		},
		{
			name:       "empty conditions match empty context",
			conditions: ScalarMap{},
			want:       true,
		},
		{
			name:       "equal string matches",
			conditions: ScalarMap{"tenantId": StringValue("t1")},
			reqCtx:     ScalarMap{"tenantId": StringValue("t1"), "userId": StringValue("u1")},
			want:       true,
		},
		{
			name:       "different string does not match",
			conditions: ScalarMap{"tenantId": StringValue("t1")},
			reqCtx:     ScalarMap{"tenantId": StringValue("t2")},
			want:       false,
		},
		{
			name:       "missing key does not match",
			conditions: ScalarMap{"departmentId": StringValue("d1")},
			reqCtx:     ScalarMap{"tenantId": StringValue("t1")},
			want:       false,
		},
		{
			name:       "kind mismatch does not match",
			conditions: ScalarMap{"level": NumberValue(3)},
			reqCtx:     ScalarMap{"level": StringValue("3")},
			want:       false,
		},
		{
			name:       "numbers and booleans compare exactly",
			conditions: ScalarMap{"level": NumberValue(3), "owner": BoolValue(true)},
			reqCtx:     ScalarMap{"level": NumberValue(3), "owner": BoolValue(true)},
			want:       true,
		},
		{
			name:       "every condition must hold",
			conditions: ScalarMap{"level": NumberValue(3), "owner": BoolValue(true)},
			reqCtx:     ScalarMap{"level": NumberValue(3), "owner": BoolValue(false)},
			want:       false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MatchConditions(tt.conditions, tt.reqCtx); got != tt.want {
				t.Fatalf("MatchConditions() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCallerContext(t *testing.T) {
	got := CallerContext(" svc ", "t1", "V")
	want := ScalarMap{
		ContextKeyUserID:        StringValue("svc"),
		ContextKeyTenantID:      StringValue("t1"),
		ContextKeySubjectUserID: StringValue("V"),
	}
	if !got.Equal(want) {
		t.Fatalf("unexpected caller context %v", got)
	}

	if got := CallerContext("svc", "", "  "); !got.Equal(ScalarMap{ContextKeyUserID: StringValue("svc")}) {
		t.Fatalf("expected blank values to be omitted, got %v", got)
	}
}

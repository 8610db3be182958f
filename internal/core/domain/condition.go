package domain

import "strings"

// Context keys describing the authenticated caller of a management operation.
const (
	ContextKeyUserID        = "userId"
	ContextKeyTenantID      = "tenantId"
	ContextKeySubjectUserID = "subjectUserId"
)

// MatchConditions reports whether a grant's conditions hold for the request
// context. Nil or empty conditions always match. Otherwise every condition key
// must be present in the context with a scalar of the same kind and value.
//
// Only equality is supported; there are no comparison or set operators.
func MatchConditions(conditions, reqCtx ScalarMap) bool {
	for key, want := range conditions {
		got, ok := reqCtx[key]
		if !ok || !want.Equal(got) {
			return false
		}
	}
	return true
}

// CallerContext builds the context for checking a caller's own management
// permission. subjectUserID is the user the operation targets. Blank values are omitted.
func CallerContext(userID, tenantID, subjectUserID string) ScalarMap {
	reqCtx := ScalarMap{}
	if v := strings.TrimSpace(userID); v != "" {
		reqCtx[ContextKeyUserID] = StringValue(v)
	}
	if v := strings.TrimSpace(tenantID); v != "" {
		reqCtx[ContextKeyTenantID] = StringValue(v)
	}
	if v := strings.TrimSpace(subjectUserID); v != "" {
		reqCtx[ContextKeySubjectUserID] = StringValue(v)
	}
	return reqCtx
}

package domain

// DecisionReason explains which rule produced a decision. It is meant for
// logs and audit trails and must not be returned to the denied caller.
type DecisionReason string

const (
	DecisionReasonRoleAllow   DecisionReason = "ROLE_ALLOW"
	DecisionReasonDirectAllow DecisionReason = "DIRECT_ALLOW"
	DecisionReasonDirectDeny  DecisionReason = "DIRECT_DENY"
	DecisionReasonNoGrant     DecisionReason = "NO_GRANT"
)

// Decision is the resolver output for a (user, permission, context) triple.
type Decision struct {
	Allowed      bool
	Reason       DecisionReason
	MatchedGrant *DirectPermission
}

// NoGrant is the default deny decision.
func NoGrant() Decision {
	return Decision{Allowed: false, Reason: DecisionReasonNoGrant}
}

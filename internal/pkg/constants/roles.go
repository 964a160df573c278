package constants

// Operator identities recorded on authority-bearing actions (condition
// satisfy/revoke) when the caller does not name one.
const (
	OperatorAdmin     = "admin"
	OperatorAnonymous = "anonymous"
)

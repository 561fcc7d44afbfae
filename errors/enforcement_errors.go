// errors/enforcement_errors.go
package errors

import "errors"

// Denial errors are chosen by command class and deliberately do not reveal
// whether the target exists or is merely forbidden.
var (
	ErrPolicyNotAccessible = errors.New("policy not found or not accessible")
	ErrPolicyNotModifiable = errors.New("policy not found or not modifiable")
)

var (
	ErrPolicyUnavailable = errors.New("policy service unavailable")
	ErrEntityUnavailable = errors.New("entity service unavailable")
	ErrAskTimeout        = errors.New("ask timed out")
)

var (
	ErrInvalidPolicyData = errors.New("invalid policy data")
	ErrMalformedEntity   = errors.New("malformed entity projection")
)

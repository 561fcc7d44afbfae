// model/subject.go
package model

// Subject is an opaque authenticated identity, e.g. "integration:device-gw"
type Subject string

// AuthorizationContext is the ordered set of subjects a request acts under.
// Order only matters for the first-successful-subject shortcut during
// evaluation, never for the result.
type AuthorizationContext []Subject

func NewAuthorizationContext(subjects ...Subject) AuthorizationContext {
	return AuthorizationContext(subjects)
}

func (c AuthorizationContext) IsEmpty() bool {
	return len(c) == 0
}

func (c AuthorizationContext) Contains(subject Subject) bool {
	for _, s := range c {
		if s == subject {
			return true
		}
	}
	return false
}

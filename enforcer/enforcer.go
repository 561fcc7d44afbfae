// enforcer/enforcer.go
package enforcer

import (
	"github.com/neottil/ditto/model"
)

// Enforcer answers permission queries against a compiled permission model.
// It is immutable, performs no I/O and is safe to share by reference.
type Enforcer struct {
	root     *trieNode
	subjects []model.Subject
}

// Subjects returns every subject with at least one fact in the model, in
// first-seen order.
func (e *Enforcer) Subjects() []model.Subject {
	return e.subjects
}

// trieNode holds the grant/revoke facts declared at exactly one resource
// path, keyed by subject.
type trieNode struct {
	children map[string]*trieNode
	facts    map[model.Subject]*subjectFacts
}

type subjectFacts struct {
	grant  model.Permissions
	revoke model.Permissions
}

func newTrieNode() *trieNode {
	return &trieNode{
		children: make(map[string]*trieNode),
		facts:    make(map[model.Subject]*subjectFacts),
	}
}

func (n *trieNode) factsFor(subject model.Subject) *subjectFacts {
	f, ok := n.facts[subject]
	if !ok {
		f = &subjectFacts{
			grant:  model.NewPermissions(),
			revoke: model.NewPermissions(),
		}
		n.facts[subject] = f
	}
	return f
}

func (n *trieNode) child(segment string) (*trieNode, bool) {
	c, ok := n.children[segment]
	return c, ok
}

func (n *trieNode) ensureChild(segment string) *trieNode {
	if c, ok := n.children[segment]; ok {
		return c
	}
	c := newTrieNode()
	n.children[segment] = c
	return c
}

// nodeAt returns the node for the given path, or false when no facts were
// declared at or below it.
func (n *trieNode) nodeAt(path model.ResourcePath) (*trieNode, bool) {
	node := n
	for _, segment := range path.Segments() {
		next, ok := node.child(segment)
		if !ok {
			return nil, false
		}
		node = next
	}
	return node, true
}

type effect int

const (
	effectNone effect = iota
	effectGranted
	effectRevoked
)

// effectAt resolves the fact state of a single node for one subject and
// permission. A revoke beats a grant declared at the same path.
func (n *trieNode) effectAt(subject model.Subject, permission model.Permission) effect {
	f, ok := n.facts[subject]
	if !ok {
		return effectNone
	}
	if f.revoke.Contains(permission) {
		return effectRevoked
	}
	if f.grant.Contains(permission) {
		return effectGranted
	}
	return effectNone
}

// effectiveEffect applies the deepest-ancestor-wins rule: walking from the
// root toward path, the fact at the deepest matching node decides. No fact
// on the whole chain means denial.
func (e *Enforcer) effectiveEffect(subject model.Subject, path model.ResourcePath, permission model.Permission) effect {
	result := e.root.effectAt(subject, permission)
	node := e.root
	for _, segment := range path.Segments() {
		next, ok := node.child(segment)
		if !ok {
			break
		}
		node = next
		if eff := node.effectAt(subject, permission); eff != effectNone {
			result = eff
		}
	}
	return result
}

// hasRevokeAtOrBelow reports whether the subject has a revoke fact for the
// permission anywhere in the subtree rooted at path.
func (e *Enforcer) hasRevokeAtOrBelow(subject model.Subject, path model.ResourcePath, permission model.Permission) bool {
	node, ok := e.root.nodeAt(path)
	if !ok {
		return false
	}
	return subtreeHasRevoke(node, subject, permission)
}

func subtreeHasRevoke(node *trieNode, subject model.Subject, permission model.Permission) bool {
	if f, ok := node.facts[subject]; ok && f.revoke.Contains(permission) {
		return true
	}
	for _, child := range node.children {
		if subtreeHasRevoke(child, subject, permission) {
			return true
		}
	}
	return false
}

// HasUnrestrictedPermissions reports whether at least one subject is
// effectively granted the permission at path and that subject's grant is not
// narrowed by a revoke anywhere at or below path. An empty authorization
// context is always denied.
func (e *Enforcer) HasUnrestrictedPermissions(path model.ResourcePath, authCtx model.AuthorizationContext, permission model.Permission) bool {
	path = model.NewResourcePath(string(path))
	for _, subject := range authCtx {
		if e.effectiveEffect(subject, path, permission) != effectGranted {
			continue
		}
		if e.hasRevokeAtOrBelow(subject, path, permission) {
			continue
		}
		return true
	}
	return false
}

// HasPartialPermissions reports whether some subject holds the permission at
// path or at any sub-path below it. It allows a query to proceed so that
// field-level filtering can still return a partial result.
func (e *Enforcer) HasPartialPermissions(path model.ResourcePath, authCtx model.AuthorizationContext, permission model.Permission) bool {
	path = model.NewResourcePath(string(path))
	for _, subject := range authCtx {
		if e.effectiveEffect(subject, path, permission) == effectGranted {
			return true
		}
		node, ok := e.root.nodeAt(path)
		if !ok {
			continue
		}
		if subtreeHasGrant(node, subject, permission) {
			return true
		}
	}
	return false
}

func subtreeHasGrant(node *trieNode, subject model.Subject, permission model.Permission) bool {
	if node.effectAt(subject, permission) == effectGranted {
		return true
	}
	for _, child := range node.children {
		if subtreeHasGrant(child, subject, permission) {
			return true
		}
	}
	return false
}

// BuildJSONView filters candidate depth-first. A field survives when its
// path is allowlisted or the context holds the permission unrestricted
// there; nested objects additionally survive when any of their descendants
// survive. Arrays follow the verdict of their own path, since array
// elements carry no addressable paths in the policy model.
func (e *Enforcer) BuildJSONView(path model.ResourcePath, candidate map[string]any, authCtx model.AuthorizationContext, allowlist []model.ResourcePath, permission model.Permission) map[string]any {
	path = model.NewResourcePath(string(path))
	if containsPath(allowlist, path) || e.HasUnrestrictedPermissions(path, authCtx, permission) {
		return candidate
	}
	return e.filterObject(path, candidate, authCtx, allowlist, permission)
}

func (e *Enforcer) filterObject(path model.ResourcePath, object map[string]any, authCtx model.AuthorizationContext, allowlist []model.ResourcePath, permission model.Permission) map[string]any {
	filtered := make(map[string]any)
	for key, value := range object {
		fieldPath := path.Join(key)
		if containsPath(allowlist, fieldPath) || e.HasUnrestrictedPermissions(fieldPath, authCtx, permission) {
			filtered[key] = value
			continue
		}
		if nested, ok := value.(map[string]any); ok {
			if sub := e.filterObject(fieldPath, nested, authCtx, allowlist, permission); len(sub) > 0 {
				filtered[key] = sub
			}
		}
	}
	return filtered
}

func containsPath(allowlist []model.ResourcePath, path model.ResourcePath) bool {
	for _, p := range allowlist {
		if p == path {
			return true
		}
	}
	return false
}

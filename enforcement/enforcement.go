// enforcement/enforcement.go
package enforcement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/neottil/ditto/cache"
	"github.com/neottil/ditto/enforcer"
	ditto_errors "github.com/neottil/ditto/errors"
	logger "github.com/neottil/ditto/logging"
	"github.com/neottil/ditto/model"
)

// policyAllowlist names the fields of a policy that are always visible in
// query responses regardless of authorization.
var policyAllowlist = []model.ResourcePath{"/id"}

// Outcome is the result of successfully enforcing a command: the command as
// forwarded downstream (possibly rewritten and re-headered), and the
// view-filtered response for ask-based queries. Both are nil when an
// authorized query was dropped because no response was required.
type Outcome struct {
	Forwarded Command
	Response  *Response
}

// Enforcement authorizes policy commands against cached enforcers and
// forwards, asks or rejects accordingly.
type Enforcement struct {
	cache       *cache.EnforcerCache
	target      Target
	broadcaster cache.Broadcaster
	askTimeout  time.Duration
}

func NewEnforcement(enforcerCache *cache.EnforcerCache, target Target, broadcaster cache.Broadcaster, askTimeout time.Duration) *Enforcement {
	return &Enforcement{
		cache:       enforcerCache,
		target:      target,
		broadcaster: broadcaster,
		askTimeout:  askTimeout,
	}
}

// Enforce resolves the enforcer governing the command's target and runs the
// type-specific authorization. Denials surface as typed errors chosen by
// command class; they never reveal whether the policy exists.
func (e *Enforcement) Enforce(ctx context.Context, cmd Command) (*Outcome, error) {
	entry, err := e.cache.Get(ctx, cache.Key{PolicyID: cmd.PolicyID(), ResolveImports: false})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ditto_errors.ErrPolicyUnavailable, err)
	}
	if entry.IsFetchError() {
		return nil, fmt.Errorf("%w: %v", ditto_errors.ErrPolicyUnavailable, entry.FetchErrorCause())
	}
	if !entry.Exists() {
		return e.enforceByNonexistentEnforcer(ctx, cmd)
	}
	return e.enforceByEnforcer(ctx, cmd, entry.Value())
}

// enforceByNonexistentEnforcer handles the case of no governing policy: a
// create command authorizes itself against its own proposed payload, and a
// modify of a nonexistent policy is treated as a create attempt. Everything
// else is not accessible.
func (e *Enforcement) enforceByNonexistentEnforcer(ctx context.Context, cmd Command) (*Outcome, error) {
	create, ok := transformToCreate(cmd)
	if !ok {
		return nil, ditto_errors.ErrPolicyNotAccessible
	}
	selfEnforcer := enforcer.Compile(create.Policy)
	if !selfEnforcer.HasUnrestrictedPermissions(model.RootPath, create.AuthContext(), model.PermissionWrite) {
		return nil, ditto_errors.ErrPolicyNotModifiable
	}
	return e.forwardModify(ctx, create)
}

// transformToCreate turns a ModifyPolicy addressed at a nonexistent policy
// into the equivalent CreatePolicy.
func transformToCreate(cmd Command) (*CreatePolicy, bool) {
	switch c := cmd.(type) {
	case *CreatePolicy:
		return c, true
	case *ModifyPolicy:
		create := NewCreatePolicy(c.Policy, c.AuthContext())
		create.Hdrs = c.Headers()
		return create, true
	default:
		return nil, false
	}
}

func (e *Enforcement) enforceByEnforcer(ctx context.Context, cmd Command, policyEnforcer *enforcer.PolicyEnforcer) (*Outcome, error) {
	switch c := cmd.(type) {
	case ActionCommand:
		return e.enforceAction(ctx, c, policyEnforcer)
	case ModifyCommand:
		if !policyEnforcer.Enforcer.HasUnrestrictedPermissions(c.ResourcePath(), c.AuthContext(), model.PermissionWrite) {
			return nil, ditto_errors.ErrPolicyNotModifiable
		}
		return e.forwardModify(ctx, c)
	case QueryCommand:
		if !policyEnforcer.Enforcer.HasPartialPermissions(c.ResourcePath(), c.AuthContext(), model.PermissionRead) {
			return nil, ditto_errors.ErrPolicyNotAccessible
		}
		return e.askAndFilter(ctx, c, policyEnforcer.Enforcer)
	default:
		return nil, ditto_errors.ErrPolicyNotAccessible
	}
}

// enforceAction requires EXECUTE at the targeted entry paths. A top-level
// action fans out across every entry the context may execute on and is
// rewritten to target exactly those; it is denied only when zero qualify.
func (e *Enforcement) enforceAction(ctx context.Context, cmd ActionCommand, policyEnforcer *enforcer.PolicyEnforcer) (*Outcome, error) {
	authCtx := cmd.AuthContext()
	targeted := cmd.EntryLabels()
	if len(targeted) > 0 {
		for _, label := range targeted {
			if !policyEnforcer.Enforcer.HasUnrestrictedPermissions(entryPath(label), authCtx, model.PermissionExecute) {
				return nil, ditto_errors.ErrPolicyNotAccessible
			}
		}
		return e.forwardModify(ctx, cmd)
	}

	var authorized []model.Label
	for _, label := range policyEnforcer.Policy.EntryLabels() {
		if policyEnforcer.Enforcer.HasUnrestrictedPermissions(entryPath(label), authCtx, model.PermissionExecute) {
			authorized = append(authorized, label)
		}
	}
	if len(authorized) == 0 {
		return nil, ditto_errors.ErrPolicyNotAccessible
	}
	return e.forwardModify(ctx, cmd.WithEntryLabels(authorized))
}

// forwardModify invalidates the enforcer cache entry before the command
// becomes observable downstream, broadcasts the invalidation cluster-wide
// and tags the command so the persistence layer skips its own round-trip.
func (e *Enforcement) forwardModify(ctx context.Context, cmd Command) (*Outcome, error) {
	e.invalidateCaches(ctx, cmd.PolicyID())
	if base, ok := cmd.(interface{ setHeader(key, value string) }); ok {
		base.setHeader(HeaderEnforcerInvalidatedPreemptively, "true")
	}
	if err := e.target.Forward(ctx, cmd); err != nil {
		return nil, fmt.Errorf("%w: %v", ditto_errors.ErrPolicyUnavailable, err)
	}
	return &Outcome{Forwarded: cmd}, nil
}

// invalidateCaches drops the local entries for the policy and broadcasts
// the invalidation so no other node keeps serving the superseded enforcer.
func (e *Enforcement) invalidateCaches(ctx context.Context, id model.PolicyID) {
	e.cache.Invalidate(cache.Key{PolicyID: id, ResolveImports: false})
	e.cache.Invalidate(cache.Key{PolicyID: id, ResolveImports: true})
	if err := e.broadcaster.Publish(ctx, cache.InvalidationNotice{PolicyID: id}); err != nil {
		logger.Warn("Failed to broadcast cache invalidation",
			zap.String("policyID", string(id)), zap.Error(err))
	}
}

// askAndFilter issues the downstream query with a timeout and passes the
// response entity through the enforcer's view filtering.
func (e *Enforcement) askAndFilter(ctx context.Context, cmd QueryCommand, enf *enforcer.Enforcer) (*Outcome, error) {
	if base, ok := cmd.(interface{ responseRequired() bool }); ok && !base.responseRequired() {
		// authorized, but nobody is waiting for an answer
		return &Outcome{}, nil
	}

	askCtx, cancel := context.WithTimeout(ctx, e.askTimeout)
	defer cancel()
	response, err := e.target.Ask(askCtx, cmd)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ditto_errors.ErrAskTimeout) {
			logger.Error("Timeout before building JSON view",
				zap.String("policyID", string(cmd.PolicyID())), zap.Error(err))
			return nil, fmt.Errorf("%w: %v", ditto_errors.ErrPolicyUnavailable, err)
		}
		return nil, err
	}

	filtered := enf.BuildJSONView(response.Path, response.Entity, cmd.AuthContext(), policyAllowlist, model.PermissionRead)
	return &Outcome{Response: &Response{Path: response.Path, Entity: filtered}}, nil
}

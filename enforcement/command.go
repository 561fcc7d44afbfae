// enforcement/command.go
package enforcement

import (
	"context"
	"time"

	"github.com/neottil/ditto/model"
)

// Headers carries command metadata between enforcement and the downstream
// target.
type Headers map[string]string

const (
	// HeaderEnforcerInvalidatedPreemptively marks a forwarded modify
	// command whose enforcer cache entry was already invalidated, so the
	// persistence layer can skip a redundant invalidation round-trip.
	HeaderEnforcerInvalidatedPreemptively = "policy-enforcer-invalidated-preemptively"

	// HeaderResponseRequired suppresses the downstream ask when "false".
	HeaderResponseRequired = "response-required"
)

// Command is an inbound policy command awaiting authorization.
type Command interface {
	PolicyID() model.PolicyID
	// ResourcePath is the path within the policy the command addresses.
	ResourcePath() model.ResourcePath
	AuthContext() model.AuthorizationContext
	Headers() Headers
}

// ModifyCommand marks commands that change the policy (and therefore the
// authorization itself).
type ModifyCommand interface {
	Command
	isModify()
}

// QueryCommand marks read-only commands whose responses are view-filtered.
type QueryCommand interface {
	Command
	isQuery()
}

// ActionCommand marks subject activation style commands requiring EXECUTE.
type ActionCommand interface {
	Command
	// EntryLabels are the policy entries the action targets; empty means
	// top level, which fans out over every authorized entry.
	EntryLabels() []model.Label
	// WithEntryLabels rewrites the action to target only the given labels.
	WithEntryLabels(labels []model.Label) ActionCommand
}

type baseCommand struct {
	ID      model.PolicyID
	AuthCtx model.AuthorizationContext
	Hdrs    Headers
}

func (b *baseCommand) PolicyID() model.PolicyID                { return b.ID }
func (b *baseCommand) AuthContext() model.AuthorizationContext { return b.AuthCtx }

func (b *baseCommand) Headers() Headers {
	if b.Hdrs == nil {
		b.Hdrs = make(Headers)
	}
	return b.Hdrs
}

func (b *baseCommand) setHeader(key, value string) {
	b.Headers()[key] = value
}

func (b *baseCommand) responseRequired() bool {
	return b.Headers()[HeaderResponseRequired] != "false"
}

// CreatePolicy creates a new policy. With no governing policy in place it
// authorizes against its own payload.
type CreatePolicy struct {
	baseCommand
	Policy *model.Policy
}

func NewCreatePolicy(policy *model.Policy, authCtx model.AuthorizationContext) *CreatePolicy {
	return &CreatePolicy{
		baseCommand: baseCommand{ID: policy.ID, AuthCtx: authCtx},
		Policy:      policy,
	}
}

func (c *CreatePolicy) ResourcePath() model.ResourcePath { return model.RootPath }
func (c *CreatePolicy) isModify()                        {}

// ModifyPolicy replaces an existing policy wholesale.
type ModifyPolicy struct {
	baseCommand
	Policy *model.Policy
}

func NewModifyPolicy(policy *model.Policy, authCtx model.AuthorizationContext) *ModifyPolicy {
	return &ModifyPolicy{
		baseCommand: baseCommand{ID: policy.ID, AuthCtx: authCtx},
		Policy:      policy,
	}
}

func (c *ModifyPolicy) ResourcePath() model.ResourcePath { return model.RootPath }
func (c *ModifyPolicy) isModify()                        {}

// DeletePolicy removes a policy.
type DeletePolicy struct {
	baseCommand
}

func NewDeletePolicy(id model.PolicyID, authCtx model.AuthorizationContext) *DeletePolicy {
	return &DeletePolicy{baseCommand: baseCommand{ID: id, AuthCtx: authCtx}}
}

func (c *DeletePolicy) ResourcePath() model.ResourcePath { return model.RootPath }
func (c *DeletePolicy) isModify()                        {}

// RetrievePolicy reads a policy, or one of its parts when Path is set.
type RetrievePolicy struct {
	baseCommand
	Path model.ResourcePath
}

func NewRetrievePolicy(id model.PolicyID, path model.ResourcePath, authCtx model.AuthorizationContext) *RetrievePolicy {
	return &RetrievePolicy{
		baseCommand: baseCommand{ID: id, AuthCtx: authCtx},
		Path:        model.NewResourcePath(string(path)),
	}
}

func (c *RetrievePolicy) ResourcePath() model.ResourcePath { return c.Path }
func (c *RetrievePolicy) isQuery()                         {}

// RetrievePolicyEntry reads a single policy entry.
type RetrievePolicyEntry struct {
	baseCommand
	Label model.Label
}

func NewRetrievePolicyEntry(id model.PolicyID, label model.Label, authCtx model.AuthorizationContext) *RetrievePolicyEntry {
	return &RetrievePolicyEntry{
		baseCommand: baseCommand{ID: id, AuthCtx: authCtx},
		Label:       label,
	}
}

func (c *RetrievePolicyEntry) ResourcePath() model.ResourcePath { return entryPath(c.Label) }
func (c *RetrievePolicyEntry) isQuery()                         {}

// ActivateSubject activates a subject on the targeted policy entries.
type ActivateSubject struct {
	baseCommand
	Subject model.Subject
	Expiry  time.Time
	Labels  []model.Label
}

func NewActivateSubject(id model.PolicyID, subject model.Subject, expiry time.Time, labels []model.Label, authCtx model.AuthorizationContext) *ActivateSubject {
	return &ActivateSubject{
		baseCommand: baseCommand{ID: id, AuthCtx: authCtx},
		Subject:     subject,
		Expiry:      expiry,
		Labels:      labels,
	}
}

func (c *ActivateSubject) ResourcePath() model.ResourcePath { return actionPath(c.Labels) }
func (c *ActivateSubject) EntryLabels() []model.Label       { return c.Labels }

func (c *ActivateSubject) WithEntryLabels(labels []model.Label) ActionCommand {
	rewritten := *c
	rewritten.Labels = labels
	return &rewritten
}

// DeactivateSubject deactivates a subject on the targeted policy entries.
type DeactivateSubject struct {
	baseCommand
	Subject model.Subject
	Labels  []model.Label
}

func NewDeactivateSubject(id model.PolicyID, subject model.Subject, labels []model.Label, authCtx model.AuthorizationContext) *DeactivateSubject {
	return &DeactivateSubject{
		baseCommand: baseCommand{ID: id, AuthCtx: authCtx},
		Subject:     subject,
		Labels:      labels,
	}
}

func (c *DeactivateSubject) ResourcePath() model.ResourcePath { return actionPath(c.Labels) }
func (c *DeactivateSubject) EntryLabels() []model.Label       { return c.Labels }

func (c *DeactivateSubject) WithEntryLabels(labels []model.Label) ActionCommand {
	rewritten := *c
	rewritten.Labels = labels
	return &rewritten
}

func actionPath(labels []model.Label) model.ResourcePath {
	if len(labels) == 1 {
		return entryPath(labels[0])
	}
	return model.RootPath
}

// entryPath is the resource path of a single policy entry.
func entryPath(label model.Label) model.ResourcePath {
	return model.NewResourcePath("/entries/" + string(label))
}

// Response is a downstream answer to a query command.
type Response struct {
	Path   model.ResourcePath
	Entity map[string]any
}

// Target is the downstream recipient of authorized commands.
type Target interface {
	// Forward hands over an authorized command without awaiting an answer.
	Forward(ctx context.Context, cmd Command) error
	// Ask sends an authorized query and awaits its response.
	Ask(ctx context.Context, cmd Command) (*Response, error)
}

// flow/flow.go
package flow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/neottil/ditto/cache"
	"github.com/neottil/ditto/enforcer"
	ditto_errors "github.com/neottil/ditto/errors"
	logger "github.com/neottil/ditto/logging"
	"github.com/neottil/ditto/model"
)

// indexAllowlist names the entity fields the search index always carries
// regardless of authorization.
var indexAllowlist = []model.ResourcePath{"/entityId", "/policyId"}

// EntityFacade retrieves the current projection of an entity. Passing nil
// events and revision -1 forces a full refetch; otherwise the facade may
// apply the event tail to a cached base.
type EntityFacade interface {
	Retrieve(ctx context.Context, id model.EntityID, events []model.Event, fromRevision int64) (map[string]any, error)
}

// Writer commits batches of write models to the search index.
type Writer interface {
	WriteBulk(ctx context.Context, models []model.WriteModel) error
}

// Options holds the stream knobs. RetrieveAttempts bounds entity ask
// retries; the cache staleness retry is separately bounded to one by
// shouldReloadCache. The two bounds are distinct on purpose.
type Options struct {
	Parallelism      int
	MaxBulkSize      int
	RetrieveAttempts int
	CacheRetryDelay  time.Duration
}

// EnforcementFlow converts a stream of entity-change metadata into
// authorized write models for the search index.
type EnforcementFlow struct {
	facade        EntityFacade
	enforcerCache *cache.EnforcerCache
	writer        Writer
	opts          Options
}

func NewEnforcementFlow(facade EntityFacade, enforcerCache *cache.EnforcerCache, writer Writer, opts Options) *EnforcementFlow {
	if opts.Parallelism <= 0 {
		opts.Parallelism = 1
	}
	if opts.MaxBulkSize <= 0 {
		opts.MaxBulkSize = 1
	}
	if opts.RetrieveAttempts <= 0 {
		opts.RetrieveAttempts = 3
	}
	return &EnforcementFlow{
		facade:        facade,
		enforcerCache: enforcerCache,
		writer:        writer,
		opts:          opts,
	}
}

// Run consumes change metadata until the channel closes or ctx is
// cancelled. Items are processed with bounded parallelism; emitted write
// models are bulk-grouped up to MaxBulkSize before reaching the writer.
// Failures of single items or single batches never abort the stream.
func (f *EnforcementFlow) Run(ctx context.Context, changes <-chan model.Metadata) error {
	out := make(chan model.WriteModel)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		f.collectBulks(ctx, out)
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.opts.Parallelism)
loop:
	for {
		select {
		case metadata, ok := <-changes:
			if !ok {
				break loop
			}
			g.Go(func() error {
				writeModel, ok := f.ProcessChange(gctx, metadata)
				if !ok {
					return nil
				}
				select {
				case out <- writeModel:
				case <-gctx.Done():
				}
				return nil
			})
		case <-gctx.Done():
			break loop
		}
	}
	err := g.Wait()
	close(out)
	<-writerDone
	return err
}

// collectBulks groups write models into batches and flushes them to the
// index writer. No-op models never reach the writer. A failed flush drops
// the batch with a warning and keeps draining: the next change event for
// each affected entity retries naturally, and a terminated collector would
// leave the workers blocked on the output channel.
func (f *EnforcementFlow) collectBulks(ctx context.Context, in <-chan model.WriteModel) {
	batch := make([]model.WriteModel, 0, f.opts.MaxBulkSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := f.writer.WriteBulk(ctx, batch); err != nil {
			logger.Warn("Dropping write-model batch after bulk write failure",
				zap.Int("models", len(batch)), zap.Error(err))
		}
		batch = batch[:0]
	}
	for writeModel := range in {
		if writeModel.Kind == model.WriteModelNoop {
			continue
		}
		batch = append(batch, writeModel)
		if len(batch) >= f.opts.MaxBulkSize {
			flush()
		}
	}
	flush()
}

// ProcessChange computes at most one write model for a changed entity.
// ok=false means the item was discarded (retrieval retries exhausted); the
// next change event for the entity will retry naturally.
func (f *EnforcementFlow) ProcessChange(ctx context.Context, metadata model.Metadata) (model.WriteModel, bool) {
	entity, ok := f.retrieveEntity(ctx, metadata, f.opts.RetrieveAttempts)
	if !ok {
		return model.WriteModel{}, false
	}
	return f.computeWriteModel(ctx, metadata, entity), true
}

// retrieveEntity fetches the entity projection, retrying ask timeouts up to
// the configured attempt bound. Exhaustion and unexpected failures discard
// the item with a warning, never a pipeline fault.
func (f *EnforcementFlow) retrieveEntity(ctx context.Context, metadata model.Metadata, attemptsLeft int) (map[string]any, bool) {
	var entity map[string]any
	var err error
	if metadata.InvalidateEntity {
		entity, err = f.facade.Retrieve(ctx, metadata.EntityID, nil, -1)
	} else {
		entity, err = f.facade.Retrieve(ctx, metadata.EntityID, metadata.Events, metadata.EntityRevision)
	}
	if err == nil {
		return entity, true
	}
	if errors.Is(err, ditto_errors.ErrAskTimeout) || errors.Is(err, context.DeadlineExceeded) {
		if attemptsLeft > 1 {
			return f.retrieveEntity(ctx, metadata, attemptsLeft-1)
		}
		logger.Warn("No retries left for entity retrieval, giving up",
			zap.String("entityID", string(metadata.EntityID)), zap.Error(err))
		return nil, false
	}
	logger.Error("Unexpected error during entity retrieval",
		zap.String("entityID", string(metadata.EntityID)), zap.Error(err))
	return nil, false
}

func (f *EnforcementFlow) computeWriteModel(ctx context.Context, metadata model.Metadata, entity map[string]any) model.WriteModel {
	latest := metadata.LatestEvent()
	if (latest != nil && latest.Type == model.EventDeleted) || len(entity) == 0 {
		logger.Info("Computed delete write model",
			zap.String("entityID", string(metadata.EntityID)))
		return model.DeleteWriteModel(metadata)
	}

	policyID, ok := governingPolicyID(entity)
	if !ok {
		// no resolvable governing policy: hide the data
		logger.Warn("Computed emptied-out write model for entity without governing policy",
			zap.String("entityID", string(metadata.EntityID)))
		return model.EmptiedOutWriteModel(metadata, 0)
	}

	entry := f.readCachedEnforcer(ctx, metadata, policyID, 0)
	switch {
	case entry.Exists():
		projection, err := buildProjection(entity, entry.Value().Enforcer)
		if err != nil {
			logger.Error("Computed emptied-out write model due to malformed projection",
				zap.String("entityID", string(metadata.EntityID)), zap.Error(err))
			return model.EmptiedOutWriteModel(metadata, entry.Revision())
		}
		return model.PutWriteModel(metadata, entry.Revision(), projection)
	case entry.IsFetchError():
		// transient infrastructure failure: keep the last known good entry
		logger.Warn("Computed no-op write model due to fetch error on policy cache",
			zap.String("entityID", string(metadata.EntityID)),
			zap.Error(entry.FetchErrorCause()))
		return model.NoopWriteModel(metadata)
	default:
		logger.Warn("Computed emptied-out write model due to missing enforcer",
			zap.String("entityID", string(metadata.EntityID)),
			zap.String("policyID", string(policyID)))
		revision, _ := metadata.ReferencedRevision(policyID)
		return model.EmptiedOutWriteModel(metadata, revision)
	}
}

// governingPolicyID reads the entity's declared policy id; absent or
// malformed ids mean no enforcer is resolvable.
func governingPolicyID(entity map[string]any) (model.PolicyID, bool) {
	raw, ok := entity["policyId"]
	if !ok {
		return "", false
	}
	id, ok := raw.(string)
	if !ok || id == "" {
		return "", false
	}
	return model.PolicyID(id), true
}

// readCachedEnforcer resolves the import-resolved enforcer for the policy,
// applying the one-shot staleness check. A stale entry is invalidated
// (together with a conditional invalidation of the causing policy tag) and
// re-resolved once after the retry delay.
func (f *EnforcementFlow) readCachedEnforcer(ctx context.Context, metadata model.Metadata, policyID model.PolicyID, iteration int) cache.Entry[*enforcer.PolicyEnforcer] {
	key := cache.Key{PolicyID: policyID, ResolveImports: true}
	entry, err := f.enforcerCache.Get(ctx, key)
	if err != nil {
		logger.Warn("Failed to read policy enforcer cache",
			zap.String("policyID", string(policyID)), zap.Error(err))
		return cache.FetchError[*enforcer.PolicyEnforcer](err)
	}

	if !shouldReloadCache(entry, metadata, iteration) {
		return entry
	}

	f.enforcerCache.Invalidate(key)

	// only invalidate the causing policy tag once, e.g. when a massively
	// imported policy is changed
	if causing := metadata.CausingPolicyTag; causing != nil {
		invalidated := f.enforcerCache.InvalidateConditionally(
			cache.Key{PolicyID: causing.ID, ResolveImports: false},
			func(e cache.Entry[*enforcer.PolicyEnforcer]) bool {
				return !e.Exists() || e.Revision() < causing.Revision
			},
		)
		logger.Debug("Causing policy tag was invalidated conditionally",
			zap.Bool("invalidated", invalidated))
	}

	select {
	case <-time.After(f.opts.CacheRetryDelay):
	case <-ctx.Done():
		return entry
	}
	return f.readCachedEnforcer(ctx, metadata, policyID, iteration+1)
}

// shouldReloadCache decides whether an enforcer entry must be reloaded: it
// is missing, nonexistent, explicitly marked stale, or its revision trails
// the revision the change set references for its policy. The check runs at
// most once per logical operation to guarantee forward progress under
// continuous writes.
func shouldReloadCache(entry cache.Entry[*enforcer.PolicyEnforcer], metadata model.Metadata, iteration int) bool {
	if iteration > 0 {
		// never attempt to reload the cache more than once
		return false
	}
	if metadata.InvalidatePolicy || !entry.Exists() {
		return true
	}
	referenced, ok := metadata.ReferencedRevision(entry.Value().Policy.ID)
	if !ok {
		return false
	}
	return entry.Revision() < referenced
}

// buildProjection applies the enforcer's field-visibility rules for the
// model's own subjects and verifies the result is still index-encodable.
func buildProjection(entity map[string]any, enf *enforcer.Enforcer) (map[string]any, error) {
	authCtx := model.NewAuthorizationContext(enf.Subjects()...)
	projection := enf.BuildJSONView(model.RootPath, entity, authCtx, indexAllowlist, model.PermissionRead)
	if _, err := json.Marshal(projection); err != nil {
		return nil, fmt.Errorf("%w: %v", ditto_errors.ErrMalformedEntity, err)
	}
	return projection, nil
}

// dao/policy_dao.go
package dao

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"github.com/neottil/ditto/cache"
	"github.com/neottil/ditto/enforcer"
	ditto_errors "github.com/neottil/ditto/errors"
	logger "github.com/neottil/ditto/logging"
	"github.com/neottil/ditto/model"
)

const LabelPolicy = "Policy"

// PolicyDAO reads policies from the authoritative Neo4j store and compiles
// them into enforcers for the cache. Loads apply a bounded retry before
// giving up with a fetch error.
type PolicyDAO struct {
	Driver     neo4j.Driver
	Attempts   int
	RetryDelay time.Duration
}

func NewPolicyDAO(driver neo4j.Driver, attempts int, retryDelay time.Duration) *PolicyDAO {
	if attempts <= 0 {
		attempts = 3
	}
	return &PolicyDAO{Driver: driver, Attempts: attempts, RetryDelay: retryDelay}
}

// Load feeds enforcer cache misses. A confirmed-missing policy yields a
// nonexistent entry; store failures after all retries yield a fetch-error
// entry so callers can distinguish "no access" from "could not determine".
func (dao *PolicyDAO) Load(ctx context.Context, key cache.Key) (cache.Entry[*enforcer.PolicyEnforcer], error) {
	policy, err := dao.fetchPolicyWithRetry(ctx, key.PolicyID)
	if err != nil {
		logger.Warn("Failed to load policy after retries",
			zap.String("policyID", string(key.PolicyID)), zap.Error(err))
		return cache.FetchError[*enforcer.PolicyEnforcer](err), nil
	}
	if policy == nil {
		return cache.Nonexistent[*enforcer.PolicyEnforcer](), nil
	}

	if !key.ResolveImports {
		compiled := &enforcer.PolicyEnforcer{Policy: policy, Enforcer: enforcer.Compile(policy)}
		return cache.NewEntry(policy.Revision, compiled), nil
	}

	imports := make(map[model.PolicyID]*model.Policy, len(policy.Imports))
	for _, imp := range policy.Imports {
		imported, err := dao.fetchPolicyWithRetry(ctx, imp.ImportedID)
		if err != nil {
			return cache.FetchError[*enforcer.PolicyEnforcer](err), nil
		}
		if imported == nil {
			logger.Warn("Imported policy does not exist, skipping",
				zap.String("policyID", string(key.PolicyID)),
				zap.String("importedID", string(imp.ImportedID)))
			continue
		}
		imports[imp.ImportedID] = imported
	}
	return cache.NewEntry(policy.Revision, enforcer.CompileResolved(policy, imports)), nil
}

func (dao *PolicyDAO) fetchPolicyWithRetry(ctx context.Context, id model.PolicyID) (*model.Policy, error) {
	var lastErr error
	for attempt := 0; attempt < dao.Attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(dao.RetryDelay):
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %v", ditto_errors.ErrAskTimeout, ctx.Err())
			}
		}
		policy, err := dao.fetchPolicy(id)
		if err == nil {
			return policy, nil
		}
		lastErr = err
		logger.Debug("Policy fetch attempt failed",
			zap.String("policyID", string(id)), zap.Int("attempt", attempt+1), zap.Error(err))
	}
	return nil, fmt.Errorf("%w: %v", ditto_errors.ErrPolicyUnavailable, lastErr)
}

// fetchPolicy returns nil without error when the policy does not exist.
func (dao *PolicyDAO) fetchPolicy(id model.PolicyID) (*model.Policy, error) {
	session := dao.Driver.NewSession(neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close()

	result, err := session.ReadTransaction(func(tx neo4j.Transaction) (interface{}, error) {
		query := `
        MATCH (p:` + LabelPolicy + ` {id: $policyID})
        RETURN p
        `
		records, err := tx.Run(query, map[string]interface{}{"policyID": string(id)})
		if err != nil {
			return nil, err
		}
		if !records.Next() {
			return nil, nil
		}
		node, ok := records.Record().Values[0].(neo4j.Node)
		if !ok {
			return nil, fmt.Errorf("unexpected record shape for policy %s", id)
		}
		return mapNodeToPolicy(node)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve policy: %w", err)
	}
	if result == nil {
		return nil, nil
	}
	return result.(*model.Policy), nil
}

func mapNodeToPolicy(node neo4j.Node) (*model.Policy, error) {
	document, ok := node.Props["document"].(string)
	if !ok {
		return nil, fmt.Errorf("%w: policy node has no document", ditto_errors.ErrInvalidPolicyData)
	}
	var policy model.Policy
	if err := json.Unmarshal([]byte(document), &policy); err != nil {
		return nil, fmt.Errorf("%w: %v", ditto_errors.ErrInvalidPolicyData, err)
	}
	if revision, ok := node.Props["revision"].(int64); ok {
		policy.Revision = revision
	}
	return &policy, nil
}

// model/writemodel.go
package model

// WriteModelKind distinguishes the outcomes the enforcement flow can emit
// toward the search index.
type WriteModelKind string

const (
	// WriteModelPut carries an authorized projection of the entity.
	WriteModelPut WriteModelKind = "put"
	// WriteModelDelete is a tombstone for a deleted or empty entity.
	WriteModelDelete WriteModelKind = "delete"
	// WriteModelEmptiedOut retains the index entry but clears its contents:
	// authorization is permanently absent, the data must be hidden.
	WriteModelEmptiedOut WriteModelKind = "emptied-out"
	// WriteModelNoop leaves the index entry untouched: a transient
	// infrastructure failure must not destroy a previously good entry.
	WriteModelNoop WriteModelKind = "noop"
)

// WriteModel is the unit handed to the index writer. It carries the source
// revisions so re-application under at-least-once delivery is idempotent.
type WriteModel struct {
	Kind           WriteModelKind `json:"kind"`
	EntityID       EntityID       `json:"entity_id"`
	EntityRevision int64          `json:"entity_revision"`
	PolicyRevision int64          `json:"policy_revision,omitempty"`
	Projection     map[string]any `json:"projection,omitempty"`
}

func PutWriteModel(m Metadata, policyRevision int64, projection map[string]any) WriteModel {
	return WriteModel{
		Kind:           WriteModelPut,
		EntityID:       m.EntityID,
		EntityRevision: m.EntityRevision,
		PolicyRevision: policyRevision,
		Projection:     projection,
	}
}

func DeleteWriteModel(m Metadata) WriteModel {
	return WriteModel{
		Kind:           WriteModelDelete,
		EntityID:       m.EntityID,
		EntityRevision: m.EntityRevision,
	}
}

func EmptiedOutWriteModel(m Metadata, policyRevision int64) WriteModel {
	return WriteModel{
		Kind:           WriteModelEmptiedOut,
		EntityID:       m.EntityID,
		EntityRevision: m.EntityRevision,
		PolicyRevision: policyRevision,
	}
}

func NoopWriteModel(m Metadata) WriteModel {
	return WriteModel{
		Kind:           WriteModelNoop,
		EntityID:       m.EntityID,
		EntityRevision: m.EntityRevision,
	}
}

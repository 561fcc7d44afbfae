// model/policy.go
package model

// PolicyID identifies a policy, e.g. "org.example:sensor-policy".
type PolicyID string

// Label is a human identifier for a policy entry. It plays no semantic
// role in permission evaluation.
type Label string

// Resource pairs the permissions granted and revoked at one resource path.
// A revoke always wins over a grant at the same path for the same subject.
type Resource struct {
	Grant  Permissions `json:"grant"`
	Revoke Permissions `json:"revoke"`
}

// PolicyEntry associates a label with subjects and their per-path
// granted/revoked permissions.
type PolicyEntry struct {
	Label     Label                     `json:"label"`
	Subjects  []Subject                 `json:"subjects"`
	Resources map[ResourcePath]Resource `json:"resources"`
}

// PolicyImport includes another policy's entries into an enforcer's fact
// set. An empty EntryLabels imports every entry; otherwise only the listed
// entries are merged.
type PolicyImport struct {
	ImportedID  PolicyID `json:"imported_id"`
	EntryLabels []Label  `json:"entry_labels,omitempty"`
}

// Policy is the immutable grant/revoke document governing an entity.
// Instances are rebuilt on every create or modify, never mutated in place.
type Policy struct {
	ID       PolicyID       `json:"id"`
	Revision int64          `json:"revision"`
	Entries  []PolicyEntry  `json:"entries"`
	Imports  []PolicyImport `json:"imports,omitempty"`
}

// EntryLabels returns the labels of all entries in declaration order.
func (p *Policy) EntryLabels() []Label {
	labels := make([]Label, 0, len(p.Entries))
	for _, entry := range p.Entries {
		labels = append(labels, entry.Label)
	}
	return labels
}

// PolicyTag references a policy at a specific revision.
type PolicyTag struct {
	ID       PolicyID `json:"id"`
	Revision int64    `json:"revision"`
}

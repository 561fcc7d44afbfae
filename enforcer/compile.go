// enforcer/compile.go
package enforcer

import (
	"github.com/neottil/ditto/model"
)

// PolicyEnforcer pairs a compiled enforcer with the policy it was built
// from and, when imports were resolved, the tags of the imported policies.
type PolicyEnforcer struct {
	Policy       *model.Policy
	Enforcer     *Enforcer
	ImportedTags []model.PolicyTag
}

// Compile builds an enforcer from a single policy, ignoring its imports.
func Compile(policy *model.Policy) *Enforcer {
	e := &Enforcer{root: newTrieNode()}
	for _, entry := range policy.Entries {
		e.addEntry(entry)
	}
	return e
}

// CompileResolved builds an enforcer from a primary policy plus its
// resolved imports. Imported entries contribute facts at the paths they
// declare, optionally restricted to the entry labels named by the import.
// Primary and imported facts form a single merged fact set; conflicts
// resolve by path depth, not by origin.
func CompileResolved(primary *model.Policy, imports map[model.PolicyID]*model.Policy) *PolicyEnforcer {
	e := &Enforcer{root: newTrieNode()}
	for _, entry := range primary.Entries {
		e.addEntry(entry)
	}

	var importedTags []model.PolicyTag
	for _, imp := range primary.Imports {
		imported, ok := imports[imp.ImportedID]
		if !ok {
			continue
		}
		for _, entry := range imported.Entries {
			if restricted(imp.EntryLabels, entry.Label) {
				continue
			}
			e.addEntry(entry)
		}
		importedTags = append(importedTags, model.PolicyTag{
			ID:       imported.ID,
			Revision: imported.Revision,
		})
	}

	return &PolicyEnforcer{
		Policy:       primary,
		Enforcer:     e,
		ImportedTags: importedTags,
	}
}

func containsSubject(subjects []model.Subject, subject model.Subject) bool {
	for _, s := range subjects {
		if s == subject {
			return true
		}
	}
	return false
}

// restricted reports whether the import's entry restriction excludes label.
// An empty restriction imports every entry.
func restricted(entryLabels []model.Label, label model.Label) bool {
	if len(entryLabels) == 0 {
		return false
	}
	for _, l := range entryLabels {
		if l == label {
			return false
		}
	}
	return true
}

func (e *Enforcer) addEntry(entry model.PolicyEntry) {
	for _, subject := range entry.Subjects {
		if !containsSubject(e.subjects, subject) {
			e.subjects = append(e.subjects, subject)
		}
	}
	for rawPath, resource := range entry.Resources {
		path := model.NewResourcePath(string(rawPath))
		node := e.root
		for _, segment := range path.Segments() {
			node = node.ensureChild(segment)
		}
		for _, subject := range entry.Subjects {
			facts := node.factsFor(subject)
			for p := range resource.Grant {
				facts.grant[p] = struct{}{}
			}
			for p := range resource.Revoke {
				facts.revoke[p] = struct{}{}
			}
		}
	}
}

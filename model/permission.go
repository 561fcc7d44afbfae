// model/permission.go
package model

import (
	"encoding/json"
	"sort"
)

// Permission is an enumerated capability on a resource path.
type Permission string

const (
	PermissionRead    Permission = "READ"
	PermissionWrite   Permission = "WRITE"
	PermissionExecute Permission = "EXECUTE"
)

// Permissions is a set of permissions with set semantics.
type Permissions map[Permission]struct{}

func NewPermissions(permissions ...Permission) Permissions {
	set := make(Permissions, len(permissions))
	for _, p := range permissions {
		set[p] = struct{}{}
	}
	return set
}

func (ps Permissions) Contains(permission Permission) bool {
	_, ok := ps[permission]
	return ok
}

func (ps Permissions) ContainsAll(permissions ...Permission) bool {
	for _, p := range permissions {
		if !ps.Contains(p) {
			return false
		}
	}
	return true
}

func (ps Permissions) IsEmpty() bool {
	return len(ps) == 0
}

func (ps Permissions) Slice() []Permission {
	out := make([]Permission, 0, len(ps))
	for p := range ps {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Permission sets travel as JSON arrays in stored policy documents.
func (ps Permissions) MarshalJSON() ([]byte, error) {
	return json.Marshal(ps.Slice())
}

func (ps *Permissions) UnmarshalJSON(data []byte) error {
	var list []Permission
	if err := json.Unmarshal(data, &list); err != nil {
		return err
	}
	*ps = NewPermissions(list...)
	return nil
}

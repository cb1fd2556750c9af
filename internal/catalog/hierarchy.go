package catalog

import "sort"

// Action broadness ranks. A lower rank is a broader action: a grant on a
// broader action implies the grant of every action it subsumes, and a deny
// on a narrow action must cascade up to the broader actions that would
// otherwise still permit it.
var actionRank = map[string]int{
	"manage": 0,
	"create": 1,
	"edit":   1,
	"delete": 1,
	"export": 1,
	"view":   2,
}

// actionImplies declares which actions a grant subsumes within the same
// module. The table is static: hierarchy expansion never pattern-matches
// on permission name strings at check time.
var actionImplies = map[string][]string{
	"manage": {"create", "edit", "delete", "export", "view"},
	"create": {"view"},
	"edit":   {"view"},
	"delete": {"view"},
	"export": {"view"},
}

// Hierarchy answers "which other permissions, if granted or denied, imply
// the same effect for this one?". It is built once from the permission
// catalog and rebuilt only when the catalog changes.
type Hierarchy struct {
	byID     map[int64]Permission
	byKey    map[string]Permission
	broader  map[int64][]int64
	narrower map[int64][]int64
}

// BuildHierarchy indexes the given permissions. Soft-deleted permissions
// are excluded; relationships only exist between permissions of the same
// module.
func BuildHierarchy(perms []Permission) *Hierarchy {
	h := &Hierarchy{
		byID:     make(map[int64]Permission, len(perms)),
		byKey:    make(map[string]Permission, len(perms)),
		broader:  make(map[int64][]int64),
		narrower: make(map[int64][]int64),
	}

	byModule := make(map[int64][]Permission)
	for _, p := range perms {
		if !p.Active() {
			continue
		}
		h.byID[p.ID] = p
		h.byKey[p.Key] = p
		byModule[p.ModuleID] = append(byModule[p.ModuleID], p)
	}

	for _, family := range byModule {
		for _, p := range family {
			for _, other := range family {
				if other.ID == p.ID {
					continue
				}
				if implies(other.Action, p.Action) {
					h.broader[p.ID] = append(h.broader[p.ID], other.ID)
					h.narrower[other.ID] = append(h.narrower[other.ID], p.ID)
				}
			}
		}
	}

	// Nearest first: the closest rank above comes before "manage", and
	// the ordering is deterministic for equal ranks.
	for id, ids := range h.broader {
		h.sortByRank(ids, true)
		h.broader[id] = ids
	}
	for id, ids := range h.narrower {
		h.sortByRank(ids, false)
		h.narrower[id] = ids
	}

	return h
}

// BroaderThan returns the permissions whose grant (or deny) subsumes the
// given one, nearest first.
func (h *Hierarchy) BroaderThan(permissionID int64) []int64 {
	return h.broader[permissionID]
}

// NarrowerThan returns the permissions subsumed by the given one, nearest
// first.
func (h *Hierarchy) NarrowerThan(permissionID int64) []int64 {
	return h.narrower[permissionID]
}

// ByKey resolves a permission by its "<module>:<action>" key.
func (h *Hierarchy) ByKey(key string) (Permission, bool) {
	p, ok := h.byKey[key]
	return p, ok
}

// ByID resolves a permission by id.
func (h *Hierarchy) ByID(id int64) (Permission, bool) {
	p, ok := h.byID[id]
	return p, ok
}

// Permissions returns every indexed permission.
func (h *Hierarchy) Permissions() []Permission {
	out := make([]Permission, 0, len(h.byID))
	for _, p := range h.byID {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (h *Hierarchy) sortByRank(ids []int64, descending bool) {
	sort.SliceStable(ids, func(i, j int) bool {
		ri := actionRank[h.byID[ids[i]].Action]
		rj := actionRank[h.byID[ids[j]].Action]
		if ri != rj {
			if descending {
				return ri > rj
			}
			return ri < rj
		}
		return h.byID[ids[i]].Key < h.byID[ids[j]].Key
	})
}

func implies(broad, narrow string) bool {
	for _, a := range actionImplies[broad] {
		if a == narrow {
			return true
		}
	}
	return false
}

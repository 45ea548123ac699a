// Package permissions computes effective capabilities of user records.
//
// Admins are granted every known key regardless of what is stored; this is
// computed on read and never depends on the stored map being in sync.
package permissions

import (
	"sort"

	"github.com/and161185/waitgate/internal/model"
)

// Well-known permission keys.
const (
	ApproveWaitlist model.PermissionKey = "approveWaitlist"
	ManageUsers     model.PermissionKey = "manageUsers"
	ViewReports     model.PermissionKey = "viewReports"
	ExportData      model.PermissionKey = "exportData"
	ManageContent   model.PermissionKey = "manageContent"
)

// Set is the set of known permission keys.
type Set map[model.PermissionKey]struct{}

// NewSet builds a Set from keys; blanks are ignored.
func NewSet(keys ...model.PermissionKey) Set {
	s := make(Set, len(keys))
	for _, k := range keys {
		if k != "" {
			s[k] = struct{}{}
		}
	}
	return s
}

// DefaultSet is used when no key set is configured.
func DefaultSet() Set {
	return NewSet(ApproveWaitlist, ManageUsers, ViewReports, ExportData, ManageContent)
}

// Keys returns the keys in sorted order.
func (s Set) Keys() []model.PermissionKey {
	out := make([]model.PermissionKey, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Full maps every key to true.
func (s Set) Full() map[model.PermissionKey]bool {
	out := make(map[model.PermissionKey]bool, len(s))
	for k := range s {
		out[k] = true
	}
	return out
}

// Resolve returns the effective permissions of u over keys. It is total:
// every key gets a value and it never fails.
func Resolve(u model.UserRecord, keys Set) map[model.PermissionKey]bool {
	if u.Role == model.RoleAdmin {
		return keys.Full()
	}
	out := make(map[model.PermissionKey]bool, len(keys))
	for k := range keys {
		out[k] = u.Permissions[k]
	}
	return out
}

// Has reports whether u effectively holds key.
func Has(u model.UserRecord, key model.PermissionKey) bool {
	if u.Role == model.RoleAdmin {
		return true
	}
	return u.Permissions[key]
}

// NeedsRepair reports whether an admin record carries an empty stored map.
func NeedsRepair(u model.UserRecord) bool {
	return u.Role == model.RoleAdmin && len(u.Permissions) == 0
}

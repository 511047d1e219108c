package service

import (
	"github.com/damoang/angple-chat/internal/common"
	"github.com/damoang/angple-chat/internal/domain"
)

// canAccessTenant tenant isolation: same tenant, a tenant-less privileged
// actor, or a tenant-less room.
func canAccessTenant(actor domain.Actor, roomTenant string) bool {
	if roomTenant == "" || roomTenant == actor.TenantID {
		return true
	}
	return actor.IsTenantless() && actor.Role.IsPrivileged()
}

// checkPersonalPair clients only talk 1:1 with admin or hr.
func checkPersonalPair(a, b domain.Role) error {
	if a == domain.RoleClient && !b.IsPrivileged() {
		return common.Forbidden("clients can only message admin or hr directly")
	}
	if b == domain.RoleClient && !a.IsPrivileged() {
		return common.Forbidden("only admin or hr can message clients directly")
	}
	return nil
}

// reachable reports whether actor may put target in a group owned by roomTenant
func reachable(actor domain.Actor, roomTenant string, target *domain.User, globalAdminBypass bool) bool {
	if target == nil || target.Status != domain.StatusActive {
		return false
	}
	if target.TenantID == roomTenant {
		return true
	}
	if target.TenantID == "" && target.Role.IsPrivileged() {
		return true
	}
	return globalAdminBypass && actor.IsTenantless() && actor.Role == domain.RoleAdmin
}

// personalRoomTenant the tenant of a new personal room: the actor's, else the
// counterpart's, else tenant-less.
func personalRoomTenant(actor domain.Actor, other *domain.User) string {
	if actor.TenantID != "" {
		return actor.TenantID
	}
	return other.TenantID
}

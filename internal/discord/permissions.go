package discord

import (
	"slices"
	"sync"

	"github.com/bwmarrin/discordgo"
)

// PermissionChecker decides who may run admin-only commands. A user is an
// admin when their ID is on the admin list or, if an admin role is
// configured, when their guild member carries that role. With neither set
// nobody is an admin.
type PermissionChecker struct {
	mu       sync.RWMutex
	adminIDs []string
	roleID   string
}

// NewPermissionChecker creates a PermissionChecker.
func NewPermissionChecker(adminIDs []string, roleID string) *PermissionChecker {
	return &PermissionChecker{adminIDs: slices.Clone(adminIDs), roleID: roleID}
}

// SetAdmins replaces the admin user list.
func (p *PermissionChecker) SetAdmins(ids []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.adminIDs = slices.Clone(ids)
}

// IsAdmin checks userID against the admin list and member against the admin
// role. member may be nil.
func (p *PermissionChecker) IsAdmin(userID string, member *discordgo.Member) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if userID != "" && slices.Contains(p.adminIDs, userID) {
		return true
	}
	if p.roleID == "" || member == nil {
		return false
	}
	return slices.Contains(member.Roles, p.roleID)
}

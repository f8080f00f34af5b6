package auth

import (
	"errors"
	"fmt"
	"strings"
)

var ErrUnknownPermission = errors.New("unknown permission")

// Permission is a bit set of granted capabilities. The bit positions are shared with the game
// server plugin and must not be renumbered.
type Permission uint32

const (
	PermLogin              Permission = 1 << 0
	PermComment            Permission = 1 << 1
	PermViewIPAddr         Permission = 1 << 2
	PermCreateInfraction   Permission = 1 << 3
	PermViewChatLogs       Permission = 1 << 4
	PermEditAllInfractions Permission = 1 << 5
	PermAttachFile         Permission = 1 << 6
	PermWebModerator       Permission = 1 << 7
	PermManageServers      Permission = 1 << 8
	PermManageVPNs         Permission = 1 << 9
	PermViewAuditLog       Permission = 1 << 11
	PermManageAdmins       Permission = 1 << 12
	PermManageAPIKeys      Permission = 1 << 13
	PermBlockItems         Permission = 1 << 14
	PermBlockVoice         Permission = 1 << 15
	PermBlockChat          Permission = 1 << 16
	PermBan                Permission = 1 << 17
	PermAdminChatBlock     Permission = 1 << 18
	PermCallAdminBlock     Permission = 1 << 19
	PermScopeGlobal        Permission = 1 << 21
	PermVPNCheckSkip       Permission = 1 << 22
	PermManagePolicy       Permission = 1 << 23
	PermImmune             Permission = 1 << 24
	PermSkipImmunity       Permission = 1 << 25
	PermRPCKick            Permission = 1 << 26
	PermAssignToServer     Permission = 1 << 27
	PermManageMapIcons     Permission = 1 << 28
)

// PermAll grants everything.
const PermAll = PermLogin | PermComment | PermViewIPAddr | PermCreateInfraction | PermViewChatLogs |
	PermEditAllInfractions | PermAttachFile | PermWebModerator | PermManageServers | PermManageVPNs |
	PermViewAuditLog | PermManageAdmins | PermManageAPIKeys | PermBlockItems | PermBlockVoice | PermBlockChat | PermBan |
	PermAdminChatBlock | PermCallAdminBlock | PermScopeGlobal | PermVPNCheckSkip | PermManagePolicy |
	PermImmune | PermSkipImmunity | PermRPCKick | PermAssignToServer | PermManageMapIcons

// PermServerKey is what a game server authenticating with its own key is allowed to do.
const PermServerKey = PermComment | PermViewIPAddr | PermCreateInfraction | PermEditAllInfractions |
	PermAttachFile | PermBlockChat | PermBlockVoice | PermBan | PermBlockItems | PermAdminChatBlock |
	PermCallAdminBlock | PermScopeGlobal | PermManagePolicy | PermSkipImmunity

var permissionNames = map[string]Permission{ //nolint:gochecknoglobals
	"login":                PermLogin,
	"comment":              PermComment,
	"view_ip_addr":         PermViewIPAddr,
	"create_infraction":    PermCreateInfraction,
	"view_chat_logs":       PermViewChatLogs,
	"edit_all_infractions": PermEditAllInfractions,
	"attach_file":          PermAttachFile,
	"web_moderator":        PermWebModerator,
	"manage_servers":       PermManageServers,
	"manage_vpns":          PermManageVPNs,
	"view_audit_log":       PermViewAuditLog,
	"manage_admins":        PermManageAdmins,
	"manage_api_keys":      PermManageAPIKeys,
	"block_items":          PermBlockItems,
	"block_voice":          PermBlockVoice,
	"block_chat":           PermBlockChat,
	"ban":                  PermBan,
	"admin_chat_block":     PermAdminChatBlock,
	"call_admin_block":     PermCallAdminBlock,
	"scope_global":         PermScopeGlobal,
	"vpn_check_skip":       PermVPNCheckSkip,
	"manage_policy":        PermManagePolicy,
	"immune":               PermImmune,
	"skip_immunity":        PermSkipImmunity,
	"rpc_kick":             PermRPCKick,
	"assign_to_server":     PermAssignToServer,
	"manage_map_icons":     PermManageMapIcons,
	"all":                  PermAll,
	"server_key":           PermServerKey,
}

// Has reports whether every bit of required is granted.
func (p Permission) Has(required Permission) bool {
	return p&required == required
}

// ParsePermissions converts a list of permission names, as used in the config file, into a Permission set.
func ParsePermissions(names []string) (Permission, error) {
	var perms Permission

	for _, name := range names {
		perm, found := permissionNames[strings.ToLower(strings.TrimSpace(name))]
		if !found {
			return 0, fmt.Errorf("%w: %s", ErrUnknownPermission, name)
		}

		perms |= perm
	}

	return perms, nil
}

package auth

import (
	"github.com/leighmacdonald/steamid/v4/steamid"
)

// Admin is a staff member known to the directory. Staff accounts are managed outside this service and
// only their permissions are needed here.
type Admin struct {
	SteamID     steamid.SteamID
	Name        string
	Permissions Permission
}

// Admins is the configured staff directory.
type Admins []Admin

// Permissions returns the grants of the admin with the given steam id.
func (admins Admins) Permissions(sid steamid.SteamID) (Permission, bool) {
	if !sid.Valid() {
		return 0, false
	}

	for _, admin := range admins {
		if admin.SteamID.Int64() == sid.Int64() {
			return admin.Permissions, true
		}
	}

	return 0, false
}

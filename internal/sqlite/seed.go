package sqlite

import (
	"fmt"
	"time"

	"github.com/mesh-intelligence/assetdesk/pkg/types"
)

// AdminEmail is the account seeded into a new data directory.
const AdminEmail = "admin@example.com"

// AdminRoleName names the seeded role that grants every permission.
const AdminRoleName = "Administrator"

// builtInCategories are the lookup rows seeded on first start.
var builtInCategories = map[string][]string{
	types.KindMachineTypes:    {"Lathe", "Mill", "Press", "Grinder"},
	types.KindMachineStatuses: {"Running", "Idle", "Under maintenance", "Out of service"},
	types.KindTaskTypes:       {"Inspection", "Repair", "Preventive maintenance"},
	types.KindTaskStatuses:    {"Open", "In progress", "Done"},
	types.KindReportTypes:     {"Incident", "Audit", "Shift"},
	types.KindReportStatuses:  {"Draft", "Submitted", "Closed"},
}

// seedLocked fills an empty database with the lookup rows, the
// administrator role and its user. It does nothing when any record exists,
// and reports whether it seeded.
func (b *Backend) seedLocked() (bool, error) {
	var count int
	if err := b.db.QueryRow("SELECT COUNT(*) FROM records").Scan(&count); err != nil {
		return false, fmt.Errorf("counting records: %w", err)
	}
	if count > 0 {
		return false, nil
	}

	now := time.Now().UTC()
	for _, kind := range types.LookupKinds {
		t, ok := b.tables[kind]
		if !ok {
			continue
		}
		for _, name := range builtInCategories[kind] {
			if _, err := t.createLocked(Body{"name": name}, now); err != nil {
				return false, err
			}
		}
	}

	roles, ok := b.tables[types.KindRoles]
	if !ok {
		return true, nil
	}
	role := Body{"name": AdminRoleName, "level": 0, "has_password": true}
	for _, subject := range types.PermissionSubjects {
		for _, action := range types.PermissionActions {
			role[types.PermissionKey(subject, action)] = true
		}
	}
	role, err := roles.createLocked(role, now)
	if err != nil {
		return false, err
	}

	if users, ok := b.tables[types.KindUsers]; ok {
		admin := Body{
			"first_name": "Admin",
			"last_name":  "User",
			"email":      AdminEmail,
			"role":       role.ID(),
			"active":     true,
			"last_login": nil,
			"occupation": nil,
			"facility":   nil,
		}
		if _, err := users.createLocked(admin, now); err != nil {
			return false, err
		}
	}
	return true, nil
}

package types

// Entity kinds. Each kind names its list segment in console URLs and its
// field schema.
const (
	KindMachines        = "machines"
	KindTasks           = "tasks"
	KindReports         = "reports"
	KindUsers           = "users"
	KindRoles           = "roles"
	KindFacilities      = "facilities"
	KindMachineTypes    = "machine_types"
	KindMachineStatuses = "machine_statuses"
	KindTaskTypes       = "task_types"
	KindTaskStatuses    = "task_statuses"
	KindReportTypes     = "report_types"
	KindReportStatuses  = "report_statuses"
)

// PrimaryKinds lists the kinds that have their own console screen.
var PrimaryKinds = []string{
	KindMachines,
	KindTasks,
	KindReports,
	KindUsers,
	KindRoles,
	KindFacilities,
}

// LookupKinds lists the category kinds cached alongside the primary kinds.
// Their records are plain {id, name} pairs.
var LookupKinds = []string{
	KindMachineTypes,
	KindMachineStatuses,
	KindTaskTypes,
	KindTaskStatuses,
	KindReportTypes,
	KindReportStatuses,
}

// Permission subjects and actions carried by roles.
const (
	SubjectUser     = "user"
	SubjectMachine  = "machine"
	SubjectTask     = "task"
	SubjectReport   = "report"
	SubjectFacility = "facility"

	ActionView   = "view"
	ActionCreate = "create"
	ActionEdit   = "edit"
	ActionDelete = "delete"
)

// PermissionSubjects lists subjects in the order the backend serializes them.
var PermissionSubjects = []string{
	SubjectUser,
	SubjectMachine,
	SubjectTask,
	SubjectReport,
	SubjectFacility,
}

// PermissionActions lists actions in the order the backend serializes them.
var PermissionActions = []string{
	ActionView,
	ActionCreate,
	ActionEdit,
	ActionDelete,
}

// PermissionKey returns the flat field name for a role permission, such as
// "machine_edit".
func PermissionKey(subject, action string) string {
	return subject + "_" + action
}

// Package types defines the records, drafts, errors, and configuration shared
// by every assetdesk component.
//
// A Record is one entity instance returned by the backend (machine, task,
// report, user, role, facility, or one of the lookup categories). References
// between records are kept as Ref values holding an id and a display name,
// never as joined records. A Draft is the flat, editable projection of a
// Record used by form sessions.
package types

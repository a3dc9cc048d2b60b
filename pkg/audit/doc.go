// Package audit records and serves the append-only audit trail.
//
// Recorder.Record writes one Entry and fails hard: a rejected write is
// logged with the full entry and returned as *WriteError, which unwraps
// to apperrors.ErrAuditWrite. The operation that produced the entry is
// not rolled back.
//
// Reads are always bounded by a set of organization ids, normally the
// caller's accessible set from orgs.ScopeResolver:
//
//	scope, _ := resolver.AccessibleOrganizationIDs(ctx, user)
//	page, err := recorder.QueryByOrganizations(ctx, scope.IDs(), audit.Filter{Action: audit.ActionDelete})
//
// Entries export as CSV, JSON or NDJSON. Archiver copies each UTC day to
// S3 as NDJSON on a cron schedule; nothing is deleted from the store.
package audit

// Package tasks lists and mutates tasks inside the caller's organization
// scope.
//
// Scoper.ScopedTasks is the only listing path. It resolves the caller's
// accessible organizations and always restricts the store query to them,
// so filters can narrow a listing but never widen it. An empty scope
// returns an empty page without querying.
//
// Service wraps the store with rbac.Engine checks and audit entries.
// A task outside the caller's scope reads as apperrors.ErrNotFound; a
// visible task the caller may not change yields a *rbac.DeniedError. Each
// successful create, update and delete writes one audit entry, and a
// failed audit write fails the call.
package tasks

// Package rbac is the access policy engine.
//
// The predicates in predicates.go are pure functions over user snapshots
// and organization-owned resources. Engine wraps them with configuration
// (strict organization scope, viewer field restrictions), typed Decisions,
// logging and metrics. Services call the Engine; tests and callers that
// need the raw rule can call the predicates directly.
package rbac

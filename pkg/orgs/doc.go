// Package orgs models the two-level organization hierarchy and resolves a
// user's organization scope.
//
// An organization is a root or a direct child of a root. NewChild and
// Store.Create refuse to nest deeper.
//
// ScopeResolver is the single place that decides which organizations a user
// may act within:
//
//   - no home organization: nothing
//   - Owner or Admin whose home is a root: the root and its children
//   - anyone else: the home organization only
//
// CachedStore fronts a Store with an expirable LRU and an optional Redis
// layer. Install WithScopeMemo on a request context to resolve each user
// snapshot once per request.
package orgs

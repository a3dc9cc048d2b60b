// Package postgres opens the service's database pools, applies the schema
// and builds the shared Redis client.
//
// Stores live with their domain packages (orgs, auth, tasks, audit) and
// take a *sql.DB from ConnectionManager. Writes go to Primary; read-only
// listings may use Replica, which falls back to the primary when no
// replicas are configured.
package postgres

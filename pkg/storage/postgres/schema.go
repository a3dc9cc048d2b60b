package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

// schema creates every table the service reads. Statements are idempotent
// so Migrate can run on each start.
var schema = []string{
	`CREATE EXTENSION IF NOT EXISTS pgcrypto`,

	`CREATE TABLE IF NOT EXISTS organizations (
		id          UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		name        VARCHAR(255) NOT NULL,
		description TEXT,
		is_active   BOOLEAN NOT NULL DEFAULT TRUE,
		parent_id   UUID REFERENCES organizations(id) ON DELETE RESTRICT,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		CHECK (parent_id IS NULL OR parent_id <> id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_organizations_parent ON organizations(parent_id)`,

	`CREATE TABLE IF NOT EXISTS users (
		id              UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		email           VARCHAR(255) NOT NULL UNIQUE,
		password_hash   VARCHAR(255) NOT NULL DEFAULT '',
		first_name      VARCHAR(100) NOT NULL DEFAULT '',
		last_name       VARCHAR(100) NOT NULL DEFAULT '',
		role            VARCHAR(20) NOT NULL DEFAULT 'viewer'
		                CHECK (role IN ('owner', 'admin', 'viewer')),
		is_active       BOOLEAN NOT NULL DEFAULT TRUE,
		organization_id UUID REFERENCES organizations(id) ON DELETE SET NULL,
		last_login_at   TIMESTAMPTZ,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_users_organization ON users(organization_id)`,

	`CREATE TABLE IF NOT EXISTS tasks (
		id              UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		title           VARCHAR(255) NOT NULL,
		description     TEXT,
		status          VARCHAR(20) NOT NULL DEFAULT 'backlog'
		                CHECK (status IN ('backlog', 'todo', 'in-progress', 'done')),
		priority        VARCHAR(20) NOT NULL DEFAULT 'medium'
		                CHECK (priority IN ('low', 'medium', 'high', 'critical')),
		category        VARCHAR(20) NOT NULL DEFAULT 'other'
		                CHECK (category IN ('work', 'personal', 'health', 'shopping', 'other')),
		due_date        TIMESTAMPTZ,
		created_by_id   UUID NOT NULL REFERENCES users(id),
		organization_id UUID NOT NULL REFERENCES organizations(id),
		created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_org_created ON tasks(organization_id, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_created_by ON tasks(created_by_id)`,

	`CREATE TABLE IF NOT EXISTS audit_logs (
		id              UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		action          VARCHAR(20) NOT NULL,
		resource        VARCHAR(20) NOT NULL,
		resource_id     VARCHAR(255),
		user_id         UUID,
		organization_id UUID,
		ip_address      VARCHAR(64),
		user_agent      TEXT,
		details         TEXT,
		metadata        JSONB,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_logs_org_created ON audit_logs(organization_id, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_logs_user ON audit_logs(user_id)`,
}

// Migrate applies the schema in one transaction.
func Migrate(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin migration: %w", err)
	}
	defer tx.Rollback()

	for i, stmt := range schema {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema statement %d: %w", i+1, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration: %w", err)
	}
	return nil
}

// Package config assembles taskguard's configuration once at startup.
//
// Values come from Default, then an optional YAML file named by
// TASKGUARD_CONFIG_FILE, then TASKGUARD_* environment variables. Nothing
// below cmd/ reads the environment; packages receive their settings from
// the Config built here.
//
//	TASKGUARD_PORT="3000"
//	TASKGUARD_DATABASE_URL="postgres://localhost/taskguard?sslmode=disable"
//	TASKGUARD_JWT_SECRET="..."                      # required unless OIDC is enabled
//	TASKGUARD_POLICY_STRICT_ORG_SCOPE="false"
//	TASKGUARD_POLICY_VIEWER_FIELDS="status,description"
//	TASKGUARD_REDIS_ENABLED="true"
//	TASKGUARD_ARCHIVE_ENABLED="true"
//	TASKGUARD_ARCHIVE_BUCKET="taskguard-audit"
//	TASKGUARD_LOG_LEVEL="info"
package config

package main

import "github.com/stratadb/strata/migration"

// The journaling backend's schema lineage. Registration order is
// irrelevant; the registry orders by version and rejects duplicates.
func journalMigrations() []migration.Factory {
	return []migration.Factory{
		migration.New(1, "create users table",
			[]string{
				`CREATE TABLE IF NOT EXISTS users (
					id SERIAL PRIMARY KEY,
					email VARCHAR(255) UNIQUE NOT NULL,
					first_name VARCHAR(255),
					last_name VARCHAR(255),
					one_time_code VARCHAR(10),
					one_time_code_expiry TIMESTAMP,
					created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
					updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
				)`,
				"CREATE INDEX IF NOT EXISTS idx_users_email ON users(email)",
				"CREATE INDEX IF NOT EXISTS idx_users_one_time_code ON users(one_time_code)",
			},
			[]string{"DROP TABLE IF EXISTS users CASCADE"},
		),
		migration.New(2, "add phone number to users",
			[]string{
				"ALTER TABLE users ADD COLUMN IF NOT EXISTS phone_number VARCHAR(20)",
				"CREATE INDEX IF NOT EXISTS idx_users_phone_number ON users(phone_number)",
			},
			[]string{
				"DROP INDEX IF EXISTS idx_users_phone_number",
				"ALTER TABLE users DROP COLUMN IF EXISTS phone_number",
			},
		),
		migration.New(3, "add approved to users",
			[]string{
				"ALTER TABLE users ADD COLUMN IF NOT EXISTS approved BOOLEAN NOT NULL DEFAULT FALSE",
				"CREATE INDEX IF NOT EXISTS idx_users_approved ON users(approved)",
			},
			[]string{
				"DROP INDEX IF EXISTS idx_users_approved",
				"ALTER TABLE users DROP COLUMN IF EXISTS approved",
			},
		),
		migration.New(4, "change approved to string",
			[]string{
				"ALTER TABLE users ADD COLUMN approved_status VARCHAR(50)",
				"UPDATE users SET approved_status = 'PENDING_APPROVAL'",
				"ALTER TABLE users DROP COLUMN approved",
				"ALTER TABLE users RENAME COLUMN approved_status TO approved",
				"ALTER TABLE users ALTER COLUMN approved SET NOT NULL, ALTER COLUMN approved SET DEFAULT 'PENDING_APPROVAL'",
				"ALTER TABLE users ADD CONSTRAINT check_approved_status CHECK (approved IN ('PENDING_APPROVAL', 'APPROVED', 'REJECTED'))",
				"DROP INDEX IF EXISTS idx_users_approved",
				"CREATE INDEX idx_users_approved ON users(approved)",
			},
			[]string{
				"ALTER TABLE users DROP CONSTRAINT IF EXISTS check_approved_status",
				"ALTER TABLE users ADD COLUMN approved_boolean BOOLEAN",
				"UPDATE users SET approved_boolean = CASE WHEN approved = 'APPROVED' THEN TRUE ELSE FALSE END",
				"ALTER TABLE users DROP COLUMN approved",
				"ALTER TABLE users RENAME COLUMN approved_boolean TO approved",
				"ALTER TABLE users ALTER COLUMN approved SET NOT NULL, ALTER COLUMN approved SET DEFAULT FALSE",
				"DROP INDEX IF EXISTS idx_users_approved",
				"CREATE INDEX idx_users_approved ON users(approved)",
			},
		),
	}
}

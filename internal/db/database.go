package db

import (
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// Connect opens the database selected by databaseURL. A postgres:// URL
// uses lib/pq; anything else is treated as a sqlite file path (or
// ":memory:" for tests).
func Connect(databaseURL string) (*sqlx.DB, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("database URL cannot be empty")
	}

	driver := "sqlite"
	dsn := databaseURL
	if strings.HasPrefix(databaseURL, "postgres://") || strings.HasPrefix(databaseURL, "postgresql://") {
		driver = "postgres"
	} else if !strings.Contains(dsn, "?") && dsn != ":memory:" {
		dsn += "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)"
	}

	conn, err := sqlx.Connect(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if driver == "sqlite" {
		// modernc sqlite serializes writers; a single connection avoids
		// SQLITE_BUSY under concurrent handlers.
		conn.SetMaxOpenConns(1)
	}

	log.Info().Str("driver", driver).Msg("Database connection established")
	return conn, nil
}

// Migrate creates the schema if it does not exist yet. Statements are
// written per driver because of the differing autoincrement syntax.
func Migrate(conn *sqlx.DB) error {
	stmts := sqliteSchema
	if conn.DriverName() == "postgres" {
		stmts = postgresSchema
	}
	for _, stmt := range stmts {
		if _, err := conn.Exec(stmt); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	log.Info().Msg("Database migration completed")
	return nil
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS conversations (
		phone TEXT PRIMARY KEY,
		takeover INTEGER NOT NULL DEFAULT 0,
		first_name TEXT NOT NULL DEFAULT '',
		last_name TEXT NOT NULL DEFAULT '',
		city TEXT NOT NULL DEFAULT '',
		customer_type TEXT NOT NULL DEFAULT '',
		interests TEXT NOT NULL DEFAULT '',
		tags TEXT NOT NULL DEFAULT '',
		notes TEXT NOT NULL DEFAULT '',
		intent_current TEXT NOT NULL DEFAULT '',
		intent_confidence REAL NOT NULL DEFAULT 0,
		awaited_state TEXT NOT NULL DEFAULT '',
		awaited_options TEXT NOT NULL DEFAULT '',
		last_product_id INTEGER NOT NULL DEFAULT 0,
		last_product_image TEXT NOT NULL DEFAULT '',
		last_product_real_image TEXT NOT NULL DEFAULT '',
		last_product_permalink TEXT NOT NULL DEFAULT '',
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		phone TEXT NOT NULL,
		direction TEXT NOT NULL,
		msg_type TEXT NOT NULL,
		text TEXT NOT NULL DEFAULT '',
		media_url TEXT NOT NULL DEFAULT '',
		media_caption TEXT NOT NULL DEFAULT '',
		media_id TEXT NOT NULL DEFAULT '',
		mime_type TEXT NOT NULL DEFAULT '',
		file_name TEXT NOT NULL DEFAULT '',
		file_size INTEGER NOT NULL DEFAULT 0,
		duration_sec INTEGER NOT NULL DEFAULT 0,
		featured_image TEXT NOT NULL DEFAULT '',
		real_image TEXT NOT NULL DEFAULT '',
		permalink TEXT NOT NULL DEFAULT '',
		extracted_text TEXT NOT NULL DEFAULT '',
		ai_meta TEXT NOT NULL DEFAULT '',
		wa_status TEXT NOT NULL DEFAULT '',
		wa_message_id TEXT NOT NULL DEFAULT '',
		wa_error TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_phone_created ON messages (phone, created_at)`,
	`CREATE TABLE IF NOT EXISTS products_cache (
		product_id INTEGER PRIMARY KEY,
		data TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		price TEXT NOT NULL DEFAULT '',
		brand TEXT NOT NULL DEFAULT '',
		permalink TEXT NOT NULL DEFAULT '',
		featured_image TEXT NOT NULL DEFAULT '',
		real_image TEXT NOT NULL DEFAULT '',
		stock_status TEXT NOT NULL DEFAULT '',
		search_blob TEXT NOT NULL DEFAULT '',
		updated_at_source TIMESTAMP,
		cached_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS sync_state (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		last_sync_at TIMESTAMP,
		updated_at TIMESTAMP NOT NULL
	)`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS conversations (
		phone TEXT PRIMARY KEY,
		takeover BOOLEAN NOT NULL DEFAULT FALSE,
		first_name TEXT NOT NULL DEFAULT '',
		last_name TEXT NOT NULL DEFAULT '',
		city TEXT NOT NULL DEFAULT '',
		customer_type TEXT NOT NULL DEFAULT '',
		interests TEXT NOT NULL DEFAULT '',
		tags TEXT NOT NULL DEFAULT '',
		notes TEXT NOT NULL DEFAULT '',
		intent_current TEXT NOT NULL DEFAULT '',
		intent_confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
		awaited_state TEXT NOT NULL DEFAULT '',
		awaited_options TEXT NOT NULL DEFAULT '',
		last_product_id BIGINT NOT NULL DEFAULT 0,
		last_product_image TEXT NOT NULL DEFAULT '',
		last_product_real_image TEXT NOT NULL DEFAULT '',
		last_product_permalink TEXT NOT NULL DEFAULT '',
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS messages (
		id BIGSERIAL PRIMARY KEY,
		phone TEXT NOT NULL,
		direction TEXT NOT NULL,
		msg_type TEXT NOT NULL,
		text TEXT NOT NULL DEFAULT '',
		media_url TEXT NOT NULL DEFAULT '',
		media_caption TEXT NOT NULL DEFAULT '',
		media_id TEXT NOT NULL DEFAULT '',
		mime_type TEXT NOT NULL DEFAULT '',
		file_name TEXT NOT NULL DEFAULT '',
		file_size BIGINT NOT NULL DEFAULT 0,
		duration_sec INTEGER NOT NULL DEFAULT 0,
		featured_image TEXT NOT NULL DEFAULT '',
		real_image TEXT NOT NULL DEFAULT '',
		permalink TEXT NOT NULL DEFAULT '',
		extracted_text TEXT NOT NULL DEFAULT '',
		ai_meta TEXT NOT NULL DEFAULT '',
		wa_status TEXT NOT NULL DEFAULT '',
		wa_message_id TEXT NOT NULL DEFAULT '',
		wa_error TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_phone_created ON messages (phone, created_at)`,
	`CREATE TABLE IF NOT EXISTS products_cache (
		product_id BIGINT PRIMARY KEY,
		data TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		price TEXT NOT NULL DEFAULT '',
		brand TEXT NOT NULL DEFAULT '',
		permalink TEXT NOT NULL DEFAULT '',
		featured_image TEXT NOT NULL DEFAULT '',
		real_image TEXT NOT NULL DEFAULT '',
		stock_status TEXT NOT NULL DEFAULT '',
		search_blob TEXT NOT NULL DEFAULT '',
		updated_at_source TIMESTAMPTZ,
		cached_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS sync_state (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		last_sync_at TIMESTAMPTZ,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
}

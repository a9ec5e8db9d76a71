package sqlite

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

type DB struct {
	db *sql.DB
}

func New(dataDir string) (*DB, error) {
	dbPath := filepath.Join(dataDir, "gateway.db")

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &DB{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS roster_cache (
			account TEXT NOT NULL,
			uid INTEGER NOT NULL,
			name TEXT,
			icon TEXT,
			avatar_token TEXT,
			friendship TEXT NOT NULL,
			active INTEGER DEFAULT 0,
			last_updated INTEGER NOT NULL,
			PRIMARY KEY (account, uid)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_roster_cache_account ON roster_cache(account)`,

		`CREATE TABLE IF NOT EXISTS connection_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			account TEXT NOT NULL,
			status TEXT NOT NULL,
			reason TEXT,
			at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_connection_log_account ON connection_log(account, at)`,

		`CREATE TABLE IF NOT EXISTS avatar_cache (
			account TEXT NOT NULL,
			uid INTEGER NOT NULL,
			token TEXT NOT NULL,
			content_type TEXT NOT NULL,
			data BLOB NOT NULL,
			fetched_at INTEGER NOT NULL,
			PRIMARY KEY (account, uid)
		)`,

		`CREATE TABLE IF NOT EXISTS app_state (
			key TEXT PRIMARY KEY,
			value TEXT
		)`,
	}

	for _, migration := range migrations {
		if _, err := d.db.Exec(migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}

type RosterEntry struct {
	UID         int64
	Name        string
	Icon        string
	AvatarToken string
	Friendship  string
	Active      bool
}

func (d *DB) SaveRoster(account string, entries []RosterEntry) error {
	tx, err := d.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM roster_cache WHERE account = ?", account); err != nil {
		return err
	}

	now := time.Now().Unix()
	for _, entry := range entries {
		_, err := tx.Exec(`
			INSERT INTO roster_cache (account, uid, name, icon, avatar_token, friendship, active, last_updated)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, account, entry.UID, entry.Name, entry.Icon, entry.AvatarToken, entry.Friendship, entry.Active, now)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (d *DB) GetRoster(account string) ([]RosterEntry, error) {
	rows, err := d.db.Query(`
		SELECT uid, name, icon, avatar_token, friendship, active
		FROM roster_cache
		WHERE account = ?
		ORDER BY COALESCE(name, ''), uid
	`, account)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []RosterEntry
	for rows.Next() {
		var entry RosterEntry
		var name, icon, token sql.NullString

		if err := rows.Scan(&entry.UID, &name, &icon, &token, &entry.Friendship, &entry.Active); err != nil {
			return nil, err
		}

		if name.Valid {
			entry.Name = name.String
		}
		if icon.Valid {
			entry.Icon = icon.String
		}
		if token.Valid {
			entry.AvatarToken = token.String
		}

		entries = append(entries, entry)
	}

	return entries, nil
}

func (d *DB) DeleteRoster(account string) error {
	_, err := d.db.Exec("DELETE FROM roster_cache WHERE account = ?", account)
	return err
}

func (d *DB) LogConnectionStatus(account, status, reason string) error {
	_, err := d.db.Exec(`
		INSERT INTO connection_log (account, status, reason, at)
		VALUES (?, ?, ?, ?)
	`, account, status, reason, time.Now().Unix())
	return err
}

type ConnectionRecord struct {
	Status string
	Reason string
	At     time.Time
}

func (d *DB) GetConnectionLog(account string, limit int) ([]ConnectionRecord, error) {
	rows, err := d.db.Query(`
		SELECT status, reason, at
		FROM connection_log
		WHERE account = ?
		ORDER BY at DESC, id DESC
		LIMIT ?
	`, account, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []ConnectionRecord
	for rows.Next() {
		var rec ConnectionRecord
		var reason sql.NullString
		var at int64

		if err := rows.Scan(&rec.Status, &reason, &at); err != nil {
			return nil, err
		}

		if reason.Valid {
			rec.Reason = reason.String
		}
		rec.At = time.Unix(at, 0)
		records = append(records, rec)
	}

	return records, nil
}

type Avatar struct {
	UID         int64
	Token       string
	ContentType string
	Data        []byte
}

func (d *DB) SaveAvatar(account string, avatar Avatar) error {
	_, err := d.db.Exec(`
		INSERT OR REPLACE INTO avatar_cache (account, uid, token, content_type, data, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, account, avatar.UID, avatar.Token, avatar.ContentType, avatar.Data, time.Now().Unix())
	return err
}

func (d *DB) GetAvatar(account string, uid int64) (*Avatar, error) {
	var avatar Avatar
	avatar.UID = uid

	err := d.db.QueryRow(`
		SELECT token, content_type, data
		FROM avatar_cache
		WHERE account = ? AND uid = ?
	`, account, uid).Scan(&avatar.Token, &avatar.ContentType, &avatar.Data)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &avatar, nil
}

func (d *DB) DeleteAvatars(account string) error {
	_, err := d.db.Exec("DELETE FROM avatar_cache WHERE account = ?", account)
	return err
}

func (d *DB) SetAppState(key, value string) error {
	_, err := d.db.Exec(`
		INSERT OR REPLACE INTO app_state (key, value)
		VALUES (?, ?)
	`, key, value)
	return err
}

func (d *DB) GetAppState(key string) (string, error) {
	var value string
	err := d.db.QueryRow("SELECT value FROM app_state WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

func (d *DB) Vacuum() error {
	_, err := d.db.Exec("VACUUM")
	return err
}

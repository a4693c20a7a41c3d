package database

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"time"

	"vital-watch/internal/models"

	_ "github.com/mattn/go-sqlite3"
)

const timeFormat = "02/01/2006 15:04:05.000"

const (
	SessionRunning = "running"
	SessionStopped = "stopped"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(dbPath string) (*Repository, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}
	// One writer keeps read-modify-write sequences from interleaving inside sqlite.
	db.SetMaxOpenConns(1)

	repo := &Repository{db: db}
	if err := repo.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return repo, nil
}

func (r *Repository) initSchema() error {
	createKVTable := `
    CREATE TABLE IF NOT EXISTS kv_store (
        key TEXT PRIMARY KEY,
        value TEXT NOT NULL,
        updated_at TEXT NOT NULL
    );`
	createSessionsTable := `
    CREATE TABLE IF NOT EXISTS logging_sessions (
        channel_id TEXT PRIMARY KEY,
        status TEXT NOT NULL,
        start_time TEXT NOT NULL,
        end_time TEXT,
        last_record_time TEXT
    );`
	if _, err := r.db.Exec(createKVTable); err != nil {
		return err
	}
	_, err := r.db.Exec(createSessionsTable)
	return err
}

func (r *Repository) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx, `SELECT value FROM kv_store WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

func (r *Repository) Set(ctx context.Context, key, value string) error {
	nowStr := time.Now().UTC().Format(timeFormat)
	query := `INSERT OR REPLACE INTO kv_store (key, value, updated_at) VALUES (?, ?, ?)`
	_, err := r.db.ExecContext(ctx, query, key, value, nowStr)
	return err
}

func (r *Repository) Remove(ctx context.Context, key string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM kv_store WHERE key = ?`, key)
	return err
}

func (r *Repository) StartSession(channelID string) error {
	nowStr := time.Now().UTC().Format(timeFormat)
	query := `INSERT OR REPLACE INTO logging_sessions (channel_id, status, start_time, end_time, last_record_time) VALUES (?, ?, ?, NULL, (SELECT last_record_time FROM logging_sessions WHERE channel_id = ?))`
	_, err := r.db.Exec(query, channelID, SessionRunning, nowStr, channelID)
	return err
}

func (r *Repository) StopSession(channelID string) error {
	nowStr := time.Now().UTC().Format(timeFormat)
	query := `UPDATE logging_sessions SET status = ?, end_time = ? WHERE channel_id = ?`
	_, err := r.db.Exec(query, SessionStopped, nowStr, channelID)
	return err
}

func (r *Repository) ResetCursor(channelID string) error {
	_, err := r.db.Exec(`UPDATE logging_sessions SET last_record_time = NULL WHERE channel_id = ?`, channelID)
	return err
}

func (r *Repository) DeleteSession(channelID string) error {
	_, err := r.db.Exec(`DELETE FROM logging_sessions WHERE channel_id = ?`, channelID)
	return err
}

func (r *Repository) BatchUpdateLastRecordTime(updates map[string]int64) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	stmt, err := tx.Prepare("UPDATE logging_sessions SET last_record_time = ? WHERE channel_id = ?")
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for channelID, timestamp := range updates {
		timeStr := time.Unix(timestamp, 0).UTC().Format(timeFormat)
		if _, err := stmt.Exec(timeStr, channelID); err != nil {
			log.Printf("Failed to update cursor for channel %s, rolling back transaction. Error: %v", channelID, err)
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (r *Repository) GetActiveSessions() ([]models.LoggingSession, error) {
	query := `SELECT channel_id, status, start_time, end_time, last_record_time FROM logging_sessions WHERE status = 'running'`
	rows, err := r.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []models.LoggingSession
	for rows.Next() {
		var session models.LoggingSession
		var startTimeStr string
		var endTimeStr, lastRecordTimeStr sql.NullString

		if err := rows.Scan(
			&session.ChannelID,
			&session.Status,
			&startTimeStr,
			&endTimeStr,
			&lastRecordTimeStr,
		); err != nil {
			return nil, err
		}

		startTime, err := time.ParseInLocation(timeFormat, startTimeStr, time.UTC)
		if err != nil {
			log.Printf("Warning: could not parse start_time '%s' from DB: %v", startTimeStr, err)
			continue
		}
		session.StartTime = startTime.Unix()

		if endTimeStr.Valid {
			endTime, err := time.ParseInLocation(timeFormat, endTimeStr.String, time.UTC)
			if err == nil {
				endTimeUnix := endTime.Unix()
				session.EndTime = &endTimeUnix
			}
		}
		if lastRecordTimeStr.Valid {
			lastRecordTime, err := time.ParseInLocation(timeFormat, lastRecordTimeStr.String, time.UTC)
			if err == nil {
				lastRecordTimeUnix := lastRecordTime.Unix()
				session.LastRecordTime = &lastRecordTimeUnix
			}
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

func (r *Repository) Close() {
	r.db.Close()
}

package onboarding

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/nerrad567/plc-remote/internal/device"
)

// MaxRecentDevices is how many distinct devices the history keeps.
const MaxRecentDevices = 3

// RecentDevice is one entry of the recent-devices history.
type RecentDevice struct {
	DeviceID   device.Identifier `json:"device_id"`
	LastUsedAt time.Time         `json:"last_used_at"`
}

// RecentRepository stores the most-recently-used device list.
type RecentRepository interface {
	// Touch moves id to the front of the list, inserting it if needed and
	// evicting the oldest entries beyond MaxRecentDevices.
	Touch(ctx context.Context, id device.Identifier) error

	// List returns the entries newest first.
	List(ctx context.Context) ([]RecentDevice, error)

	// Remove deletes id. Returns ErrRecentNotFound if it is not listed.
	Remove(ctx context.Context, id device.Identifier) error
}

// SQLiteRecentRepository implements RecentRepository on the recent_devices
// table.
type SQLiteRecentRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteRecentRepository returns a repository over an open, migrated
// database.
func NewSQLiteRecentRepository(db *sql.DB) *SQLiteRecentRepository {
	return &SQLiteRecentRepository{db: db, now: time.Now}
}

// Touch records a use of id.
func (r *SQLiteRecentRepository) Touch(ctx context.Context, id device.Identifier) error {
	if !id.Valid() {
		return fmt.Errorf("%w: %q", device.ErrInvalidIdentifier, id)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	_, err = tx.ExecContext(ctx, `
		INSERT INTO recent_devices (device_id, use_seq, last_used_at)
		VALUES (?, (SELECT COALESCE(MAX(use_seq), 0) + 1 FROM recent_devices), ?)
		ON CONFLICT (device_id) DO UPDATE SET
			use_seq = excluded.use_seq,
			last_used_at = excluded.last_used_at`,
		string(id), r.now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("touching recent device: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		DELETE FROM recent_devices
		WHERE device_id NOT IN (
			SELECT device_id FROM recent_devices ORDER BY use_seq DESC LIMIT ?
		)`,
		MaxRecentDevices,
	)
	if err != nil {
		return fmt.Errorf("trimming recent devices: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing recent device: %w", err)
	}
	return nil
}

// List returns the history newest first.
func (r *SQLiteRecentRepository) List(ctx context.Context) ([]RecentDevice, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT device_id, last_used_at FROM recent_devices ORDER BY use_seq DESC LIMIT ?",
		MaxRecentDevices,
	)
	if err != nil {
		return nil, fmt.Errorf("querying recent devices: %w", err)
	}
	defer rows.Close()

	devices := make([]RecentDevice, 0, MaxRecentDevices)
	for rows.Next() {
		var id, usedAt string
		if err := rows.Scan(&id, &usedAt); err != nil {
			return nil, fmt.Errorf("scanning recent device: %w", err)
		}
		t, err := time.Parse(time.RFC3339Nano, usedAt)
		if err != nil {
			return nil, fmt.Errorf("parsing last_used_at for %s: %w", id, err)
		}
		devices = append(devices, RecentDevice{DeviceID: device.Identifier(id), LastUsedAt: t})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating recent devices: %w", err)
	}
	return devices, nil
}

// Remove deletes id from the history.
func (r *SQLiteRecentRepository) Remove(ctx context.Context, id device.Identifier) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM recent_devices WHERE device_id = ?", string(id))
	if err != nil {
		return fmt.Errorf("removing recent device: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrRecentNotFound
	}
	return nil
}

package database

import (
	"fmt"

	"github.com/jordanhubbard/momentum/internal/nudge"
)

// AppendHistory inserts a terminal nudge transition. Entries are append-only;
// nothing ever updates or deletes a row.
func (d *Database) AppendHistory(entry *nudge.HistoryEntry) error {
	_, err := d.db.Exec(
		`INSERT INTO nudge_history
			(id, user_id, nudge_id, message, nudge_type, priority, nudge_created_at, user_response, response_time)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID,
		entry.Nudge.UserID,
		entry.Nudge.ID,
		entry.Nudge.Message,
		entry.Nudge.Type,
		entry.Nudge.Priority,
		entry.Nudge.CreatedAt,
		entry.UserResponse,
		entry.ResponseTime,
	)
	if err != nil {
		return fmt.Errorf("failed to append history entry: %w", err)
	}
	return nil
}

// ListHistory returns entries newest-first by response time, optionally
// filtered by response, with limit/offset pagination.
func (d *Database) ListHistory(filter nudge.HistoryFilter) ([]*nudge.HistoryEntry, error) {
	query := `SELECT id, user_id, nudge_id, message, nudge_type, priority, nudge_created_at, user_response, response_time
		FROM nudge_history WHERE user_id = ?`
	args := []interface{}{filter.UserID}

	if filter.Response != "" {
		query += ` AND user_response = ?`
		args = append(args, filter.Response)
	}

	query += ` ORDER BY response_time DESC`

	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += ` OFFSET ?`
			args = append(args, filter.Offset)
		}
	} else if filter.Offset > 0 {
		query += ` LIMIT -1 OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := d.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}
	defer rows.Close()

	entries := []*nudge.HistoryEntry{}
	for rows.Next() {
		entry := &nudge.HistoryEntry{}
		err := rows.Scan(
			&entry.ID,
			&entry.Nudge.UserID,
			&entry.Nudge.ID,
			&entry.Nudge.Message,
			&entry.Nudge.Type,
			&entry.Nudge.Priority,
			&entry.Nudge.CreatedAt,
			&entry.UserResponse,
			&entry.ResponseTime,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan history entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate history: %w", err)
	}
	return entries, nil
}

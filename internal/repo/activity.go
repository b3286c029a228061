package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"permitflow/internal/domain"
)

const (
	DefaultActivityLimit = 50
	MaxListLimit         = 500
)

const activityColumns = `id,permit_id,actor_id,activity_type,entity_kind,entity_id,description,old_value,new_value,metadata_json,created_at`

func scanActivityRows(rows *sql.Rows) ([]domain.Activity, error) {
	defer rows.Close()
	var res []domain.Activity
	for rows.Next() {
		var a domain.Activity
		var entityID, oldV, newV sql.NullString
		var meta string
		if err := rows.Scan(&a.ID, &a.PermitID, &a.ActorID, &a.ActivityType, &a.EntityKind, &entityID, &a.Description, &oldV, &newV, &meta, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.EntityID = entityID.String
		a.OldValue = stringPtr(oldV)
		a.NewValue = stringPtr(newV)
		if meta != "" && meta != "{}" {
			if err := json.Unmarshal([]byte(meta), &a.Metadata); err != nil {
				return nil, fmt.Errorf("decode activity %d metadata: %w", a.ID, err)
			}
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

func clampLimit(limit, def int) int {
	if limit <= 0 {
		return def
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}

// RecentActivity returns a permit's entries most recent first.
func (r Repo) RecentActivity(ctx context.Context, permitID string, limit int) ([]domain.Activity, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+activityColumns+` FROM activity WHERE permit_id=? ORDER BY id DESC LIMIT ?`,
		permitID, clampLimit(limit, DefaultActivityLimit))
	if err != nil {
		return nil, err
	}
	return scanActivityRows(rows)
}

// ActivityAfter returns entries with ids greater than cursor in ascending
// order, across all permits.
func (r Repo) ActivityAfter(ctx context.Context, cursor int64, limit int) ([]domain.Activity, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+activityColumns+` FROM activity WHERE id>? ORDER BY id ASC LIMIT ?`,
		cursor, clampLimit(limit, 100))
	if err != nil {
		return nil, err
	}
	return scanActivityRows(rows)
}

// LatestActivityID returns the highest entry id, 0 for an empty log.
func (r Repo) LatestActivityID(ctx context.Context) (int64, error) {
	var id int64
	if err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM activity`).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

// CountActivity counts a permit's entries, optionally of one type.
func (r Repo) CountActivity(ctx context.Context, permitID string, typ domain.ActivityType) (int, error) {
	query := `SELECT COUNT(*) FROM activity WHERE permit_id=?`
	args := []any{permitID}
	if typ != "" {
		query += ` AND activity_type=?`
		args = append(args, typ)
	}
	var n int
	err := r.DB.QueryRowContext(ctx, query, args...).Scan(&n)
	return n, err
}

package activity

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"permitflow/internal/domain"
)

// Entity kinds recorded on entries.
const (
	KindPermit   = "permit"
	KindTask     = "task"
	KindDocument = "document"
)

var errNoTx = errors.New("activity: append requires an open transaction")

// Entry is one audit record to be written.
type Entry struct {
	PermitID    string
	ActorID     string
	Type        domain.ActivityType
	EntityKind  string
	EntityID    string
	Description string
	OldValue    *string
	NewValue    *string
	Metadata    map[string]any
}

// Writer appends entries to the audit log. It never updates or deletes.
type Writer struct {
	Now func() time.Time
}

// Append writes e inside tx so the entry commits or rolls back together with
// the mutation it documents.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, e Entry) (int64, error) {
	if tx == nil {
		return 0, errNoTx
	}
	if !e.Type.IsValid() {
		return 0, fmt.Errorf("activity: unknown type %q", e.Type)
	}
	if e.PermitID == "" {
		return 0, errors.New("activity: permit id required")
	}
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	meta := e.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return 0, fmt.Errorf("marshal activity metadata: %w", err)
	}
	kind := e.EntityKind
	if kind == "" {
		kind = KindPermit
	}
	res, err := tx.ExecContext(ctx, `INSERT INTO activity(permit_id,actor_id,activity_type,entity_kind,entity_id,description,old_value,new_value,metadata_json,created_at) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		e.PermitID, e.ActorID, e.Type, kind, nullable(e.EntityID), e.Description, deref(e.OldValue), deref(e.NewValue),
		string(data), now().UTC().Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("append activity: %w", err)
	}
	return res.LastInsertId()
}

// Value returns a pointer to s for the old/new value columns.
func Value[T ~string](s T) *string {
	v := string(s)
	return &v
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func deref(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

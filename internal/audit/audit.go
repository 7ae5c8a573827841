package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

type Recorder struct {
	db  *sql.DB
	log logrus.FieldLogger
}

type Entry struct {
	ID         int64           `json:"id"`
	UserID     *int64          `json:"user_id,omitempty"`
	Action     string          `json:"action"`
	EntityType string          `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	Payload    json.RawMessage `json:"payload"`
	CreatedAt  time.Time       `json:"created_at"`
}

func NewRecorder(db *sql.DB, log logrus.FieldLogger) *Recorder {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Recorder{db: db, log: log}
}

// Record stores one audit row. A failed write is logged and never returned:
// the action being audited has already been committed.
func (r *Recorder) Record(ctx context.Context, userID int64, action, entityType string, entityID any, payload map[string]any) {
	if r == nil || r.db == nil {
		return
	}
	if payload == nil {
		payload = map[string]any{}
	}
	b, err := json.Marshal(payload)
	if err != nil {
		r.log.WithError(err).WithField("action", action).Warn("audit payload encode failed")
		return
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO audit_logs (user_id, action, entity_type, entity_id, payload, created_at)
		VALUES (NULLIF($1, 0), $2, $3, $4, $5::jsonb, now())
	`, userID, action, entityType, fmt.Sprint(entityID), string(b))
	if err != nil {
		r.log.WithError(err).WithFields(logrus.Fields{
			"action":      action,
			"entity_type": entityType,
		}).Warn("audit write failed")
	}
}

func (r *Recorder) ListRecent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, action, entity_type, entity_id, payload, created_at
		FROM audit_logs
		ORDER BY created_at DESC, id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit logs: %w", err)
	}
	defer rows.Close()

	out := make([]Entry, 0)
	for rows.Next() {
		var it Entry
		var userID sql.NullInt64
		if err := rows.Scan(&it.ID, &userID, &it.Action, &it.EntityType, &it.EntityID, &it.Payload, &it.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit log: %w", err)
		}
		if userID.Valid {
			it.UserID = &userID.Int64
		}
		out = append(out, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit logs: %w", err)
	}
	return out, nil
}

package wizard

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"ieltsadmin/internal/audit"
	"ieltsadmin/internal/content"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// TrackCreator inserts the finished track tree.
type TrackCreator interface {
	CreateTrackTree(ctx context.Context, actorID int64, in content.TreeInput) (*content.TrackTree, error)
}

type Service struct {
	db      *sql.DB
	creator TrackCreator
	audit   *audit.Recorder
	log     logrus.FieldLogger
}

func NewService(db *sql.DB, creator TrackCreator, rec *audit.Recorder, log logrus.FieldLogger) *Service {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Service{db: db, creator: creator, audit: rec, log: log}
}

// Summary is a draft without its payload, used by the drafts list.
type Summary struct {
	ID        string `json:"id"`
	Module    string `json:"module"`
	Step      string `json:"step"`
	Title     string `json:"title"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

const draftColumns = `id::text, module, step, payload, created_by, created_at, updated_at`

func (s *Service) Create(ctx context.Context, actorID int64, module string) (*Draft, error) {
	d, err := newDraft(module)
	if err != nil {
		return nil, err
	}
	d.ID = uuid.NewString()
	d.CreatedBy = actorID

	payload, err := json.Marshal(d.Payload)
	if err != nil {
		return nil, fmt.Errorf("encode draft: %w", err)
	}
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO upload_drafts (id, module, step, payload, created_by, created_at, updated_at)
		VALUES ($1::uuid, $2, $3, $4::jsonb, $5, now(), now())
		RETURNING `+draftColumns,
		d.ID, d.Module, d.Step, string(payload), actorID)
	return scanDraft(row)
}

func (s *Service) List(ctx context.Context, actorID int64) ([]Summary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id::text, module, step, COALESCE(payload->'details'->>'title', ''),
		       to_char(created_at AT TIME ZONE 'UTC', 'YYYY-MM-DD"T"HH24:MI:SS"Z"'),
		       to_char(updated_at AT TIME ZONE 'UTC', 'YYYY-MM-DD"T"HH24:MI:SS"Z"')
		FROM upload_drafts
		WHERE created_by = $1
		ORDER BY updated_at DESC
	`, actorID)
	if err != nil {
		return nil, fmt.Errorf("query drafts: %w", err)
	}
	defer rows.Close()

	out := make([]Summary, 0)
	for rows.Next() {
		var it Summary
		if err := rows.Scan(&it.ID, &it.Module, &it.Step, &it.Title, &it.CreatedAt, &it.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan draft: %w", err)
		}
		out = append(out, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate drafts: %w", err)
	}
	return out, nil
}

func (s *Service) Get(ctx context.Context, actorID int64, id string) (*Draft, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrDraftNotFound
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT `+draftColumns+`
		FROM upload_drafts
		WHERE id = $1::uuid AND created_by = $2
	`, id, actorID)
	return scanDraft(row)
}

// SaveStep stores the payload of one step. Saving the current step moves the
// draft to the next one; saving an earlier step keeps the current position.
func (s *Service) SaveStep(ctx context.Context, actorID int64, id, step string, raw json.RawMessage) (*Draft, error) {
	return s.mutate(ctx, actorID, id, func(d *Draft) error {
		return applyStep(d, step, raw)
	})
}

func (s *Service) Back(ctx context.Context, actorID int64, id string) (*Draft, error) {
	return s.mutate(ctx, actorID, id, back)
}

func (s *Service) Delete(ctx context.Context, actorID int64, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrDraftNotFound
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM upload_drafts WHERE id = $1::uuid AND created_by = $2`, id, actorID)
	if err != nil {
		return fmt.Errorf("delete draft: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrDraftNotFound
	}
	return nil
}

// Commit turns a draft at the review step into an unpublished track and
// removes the draft.
func (s *Service) Commit(ctx context.Context, actorID int64, id string) (*content.TrackTree, error) {
	d, err := s.Get(ctx, actorID, id)
	if err != nil {
		return nil, err
	}
	if d.Step != StepReview {
		return nil, ErrNotReady
	}
	in, err := buildTree(d)
	if err != nil {
		return nil, err
	}
	if _, err := content.NormalizeTree(in); err != nil {
		return nil, err
	}

	tree, err := s.creator.CreateTrackTree(ctx, actorID, in)
	if err != nil {
		return nil, err
	}
	if err := s.Delete(ctx, actorID, id); err != nil && !errors.Is(err, ErrDraftNotFound) {
		s.log.WithError(err).WithField("draft_id", id).Warn("committed draft could not be removed")
	}
	s.audit.Record(ctx, actorID, "draft_committed", "track", tree.ID, map[string]any{
		"draft_id": id,
		"module":   d.Module,
	})
	return tree, nil
}

func (s *Service) mutate(ctx context.Context, actorID int64, id string, fn func(d *Draft) error) (*Draft, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrDraftNotFound
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	d, err := scanDraft(tx.QueryRowContext(ctx, `
		SELECT `+draftColumns+`
		FROM upload_drafts
		WHERE id = $1::uuid AND created_by = $2
		FOR UPDATE
	`, id, actorID))
	if err != nil {
		return nil, err
	}
	if err := fn(d); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(d.Payload)
	if err != nil {
		return nil, fmt.Errorf("encode draft: %w", err)
	}
	updated, err := scanDraft(tx.QueryRowContext(ctx, `
		UPDATE upload_drafts
		SET step = $2, payload = $3::jsonb, updated_at = now()
		WHERE id = $1::uuid
		RETURNING `+draftColumns,
		id, d.Step, string(payload)))
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return updated, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDraft(sc scanner) (*Draft, error) {
	var (
		d   Draft
		raw []byte
	)
	if err := sc.Scan(&d.ID, &d.Module, &d.Step, &raw, &d.CreatedBy, &d.CreatedAt, &d.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDraftNotFound
		}
		return nil, fmt.Errorf("scan draft: %w", err)
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &d.Payload); err != nil {
			return nil, fmt.Errorf("decode draft payload: %w", err)
		}
	}
	d.Steps = Steps(d.Module)
	return &d, nil
}

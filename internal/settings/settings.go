package settings

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"ieltsadmin/internal/audit"
	"ieltsadmin/internal/storage"
	"ieltsadmin/internal/validate"

	"github.com/sirupsen/logrus"
)

// Settings is the platform-wide configuration edited from the settings page.
type Settings struct {
	SiteName         string     `json:"site_name" validate:"required,min=2,max=120"`
	SupportEmail     string     `json:"support_email" validate:"omitempty,email,max=254"`
	ListeningMinutes int        `json:"listening_minutes" validate:"min=1,max=240"`
	ReadingMinutes   int        `json:"reading_minutes" validate:"min=1,max=240"`
	WritingMinutes   int        `json:"writing_minutes" validate:"min=1,max=240"`
	MaxAudioMB       int        `json:"max_audio_mb" validate:"min=1,max=500"`
	MaxImageMB       int        `json:"max_image_mb" validate:"min=1,max=500"`
	ResultsVisible   bool       `json:"results_visible"`
	UpdatedBy        *int64     `json:"updated_by,omitempty" validate:"-"`
	UpdatedAt        *time.Time `json:"updated_at,omitempty" validate:"-"`
}

func Defaults() Settings {
	return Settings{
		SiteName:         "IELTS Practice",
		ListeningMinutes: 30,
		ReadingMinutes:   60,
		WritingMinutes:   60,
		MaxAudioMB:       50,
		MaxImageMB:       5,
	}
}

type Service struct {
	db    *sql.DB
	audit *audit.Recorder
	log   logrus.FieldLogger
}

func NewService(db *sql.DB, rec *audit.Recorder, log logrus.FieldLogger) *Service {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Service{db: db, audit: rec, log: log}
}

// Get returns the stored settings laid over the defaults. Keys never saved
// keep their default value.
func (s *Service) Get(ctx context.Context) (*Settings, error) {
	var (
		raw       []byte
		updatedBy sql.NullInt64
		updatedAt time.Time
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT payload, updated_by, updated_at FROM app_settings WHERE id = 1
	`).Scan(&raw, &updatedBy, &updatedAt)
	out := Defaults()
	if errors.Is(err, sql.ErrNoRows) {
		return &out, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	if err := decodeOver(&out, raw); err != nil {
		return nil, err
	}
	if updatedBy.Valid {
		id := updatedBy.Int64
		out.UpdatedBy = &id
	}
	out.UpdatedAt = &updatedAt
	return &out, nil
}

func (s *Service) Update(ctx context.Context, actorID int64, in Settings) (*Settings, error) {
	in = Normalize(in)
	if err := validate.Struct(in); err != nil {
		return nil, err
	}
	in.UpdatedBy, in.UpdatedAt = nil, nil
	payload, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("encode settings: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO app_settings (id, payload, updated_by, updated_at)
		VALUES (1, $1::jsonb, NULLIF($2, 0), now())
		ON CONFLICT (id) DO UPDATE
		SET payload = EXCLUDED.payload, updated_by = EXCLUDED.updated_by, updated_at = now()
	`, string(payload), actorID); err != nil {
		return nil, fmt.Errorf("save settings: %w", err)
	}

	s.audit.Record(ctx, actorID, "settings_updated", "settings", 1, map[string]any{
		"listening_minutes": in.ListeningMinutes,
		"reading_minutes":   in.ReadingMinutes,
		"writing_minutes":   in.WritingMinutes,
		"max_audio_mb":      in.MaxAudioMB,
		"max_image_mb":      in.MaxImageMB,
	})
	return s.Get(ctx)
}

// ExamMinutes serves the default section durations for new exams.
func (s *Service) ExamMinutes(ctx context.Context) (listening, reading, writing int, err error) {
	cur, err := s.Get(ctx)
	if err != nil {
		return 0, 0, 0, err
	}
	return cur.ListeningMinutes, cur.ReadingMinutes, cur.WritingMinutes, nil
}

// UploadLimits replaces the audio and image caps of base with the saved
// values. Lookup failures keep base.
func (s *Service) UploadLimits(ctx context.Context, base storage.Limits) storage.Limits {
	cur, err := s.Get(ctx)
	if err != nil {
		s.log.WithError(err).Warn("settings unavailable, using configured upload limits")
		return base
	}
	out := base
	out.AudioBytes = int64(cur.MaxAudioMB) << 20
	out.ImageBytes = int64(cur.MaxImageMB) << 20
	return out
}

// SiteName is used in outgoing mail.
func (s *Service) SiteName(ctx context.Context) string {
	cur, err := s.Get(ctx)
	if err != nil {
		return Defaults().SiteName
	}
	return cur.SiteName
}

func Normalize(in Settings) Settings {
	in.SiteName = strings.TrimSpace(in.SiteName)
	in.SupportEmail = strings.ToLower(strings.TrimSpace(in.SupportEmail))
	return in
}

func decodeOver(dst *Settings, raw []byte) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode settings: %w", err)
	}
	def := Defaults()
	if dst.SiteName == "" {
		dst.SiteName = def.SiteName
	}
	if dst.ListeningMinutes <= 0 {
		dst.ListeningMinutes = def.ListeningMinutes
	}
	if dst.ReadingMinutes <= 0 {
		dst.ReadingMinutes = def.ReadingMinutes
	}
	if dst.WritingMinutes <= 0 {
		dst.WritingMinutes = def.WritingMinutes
	}
	if dst.MaxAudioMB <= 0 {
		dst.MaxAudioMB = def.MaxAudioMB
	}
	if dst.MaxImageMB <= 0 {
		dst.MaxImageMB = def.MaxImageMB
	}
	return nil
}

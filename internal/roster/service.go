package roster

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"ieltsadmin/internal/audit"
	"ieltsadmin/internal/db"
	"ieltsadmin/internal/notify"
	"ieltsadmin/internal/validate"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

// SiteNamer supplies the site name printed in welcome mail.
type SiteNamer interface {
	SiteName(ctx context.Context) string
}

type Config struct {
	BcryptCost int
	Audit      *audit.Recorder
	Mailer     notify.Mailer
	Site       SiteNamer
	Log        logrus.FieldLogger
}

type Service struct {
	db         *sql.DB
	audit      *audit.Recorder
	mailer     notify.Mailer
	site       SiteNamer
	log        logrus.FieldLogger
	bcryptCost int
	now        func() time.Time
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func NewService(db *sql.DB, cfg Config) *Service {
	if cfg.BcryptCost <= 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	if cfg.Log == nil {
		cfg.Log = logrus.StandardLogger()
	}
	return &Service{
		db:         db,
		audit:      cfg.Audit,
		mailer:     cfg.Mailer,
		site:       cfg.Site,
		log:        cfg.Log,
		bcryptCost: cfg.BcryptCost,
		now:        time.Now,
	}
}

const studentColumns = `id, full_name, email, candidate_no, COALESCE(phone,''), target_band::float8, is_active, created_at, updated_at`

func (s *Service) List(ctx context.Context, f Filter) (*Page, error) {
	if f.Limit <= 0 || f.Limit > 200 {
		f.Limit = 50
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	where, args := listWhere(f)
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM students`+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count students: %w", err)
	}

	args = append(args, f.Limit, f.Offset)
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s FROM students%s
		ORDER BY full_name ASC, id ASC
		LIMIT $%d OFFSET $%d
	`, studentColumns, where, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, fmt.Errorf("list students: %w", err)
	}
	defer rows.Close()

	page := &Page{Items: make([]Student, 0), Total: total, Limit: f.Limit, Offset: f.Offset}
	for rows.Next() {
		st, err := scanStudent(rows)
		if err != nil {
			return nil, err
		}
		page.Items = append(page.Items, *st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate students: %w", err)
	}
	return page, nil
}

func listWhere(f Filter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if q := db.ContainsPattern(f.Q); q != "" {
		args = append(args, q)
		conds = append(conds, fmt.Sprintf("(LOWER(full_name) LIKE $%[1]d OR LOWER(email) LIKE $%[1]d OR LOWER(candidate_no) LIKE $%[1]d)", len(args)))
	}
	if f.Active != nil {
		args = append(args, *f.Active)
		conds = append(conds, fmt.Sprintf("is_active = $%d", len(args)))
	}
	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (s *Service) Get(ctx context.Context, id int64) (*Student, error) {
	st, err := scanStudent(s.db.QueryRowContext(ctx, `SELECT `+studentColumns+` FROM students WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrStudentNotFound
	}
	return st, err
}

func (s *Service) Create(ctx context.Context, actorID int64, in StudentInput) (*Student, error) {
	st, err := s.create(ctx, in)
	if err != nil {
		return nil, err
	}
	s.audit.Record(ctx, actorID, "student_created", "student", st.ID, map[string]any{
		"candidate_no": st.CandidateNo,
		"email":        st.Email,
	})
	s.welcome(ctx, st)
	return st, nil
}

func (s *Service) create(ctx context.Context, in StudentInput) (*Student, error) {
	in = normalizeInput(in)
	if err := validate.Struct(in); err != nil {
		return nil, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if in.CandidateNo == "" {
		if in.CandidateNo, err = s.nextCandidateNo(ctx, tx); err != nil {
			return nil, err
		}
	}
	st, err := scanStudent(tx.QueryRowContext(ctx, `
		INSERT INTO students (full_name, email, candidate_no, phone, target_band, password_hash, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, NULLIF($4,''), $5, $6, TRUE, now(), now())
		RETURNING `+studentColumns,
		in.FullName, in.Email, in.CandidateNo, in.Phone, in.TargetBand, string(hash)))
	if err != nil {
		if db.IsUniqueViolation(err) {
			return nil, ErrStudentDuplicate
		}
		return nil, fmt.Errorf("create student: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit student: %w", err)
	}
	return st, nil
}

// nextCandidateNo draws from candidate_no_seq, so numbers are never reused
// even when an insert later fails.
func (s *Service) nextCandidateNo(ctx context.Context, q queryer) (string, error) {
	var seq int64
	if err := q.QueryRowContext(ctx, `SELECT nextval('candidate_no_seq')`).Scan(&seq); err != nil {
		return "", fmt.Errorf("next candidate number: %w", err)
	}
	return formatCandidateNo(s.now().Year(), seq), nil
}

func formatCandidateNo(year int, seq int64) string {
	return fmt.Sprintf("IE-%d-%05d", year, seq)
}

func (s *Service) Update(ctx context.Context, actorID, id int64, in StudentUpdate) (*Student, error) {
	in.FullName = strings.TrimSpace(in.FullName)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.CandidateNo = strings.ToUpper(strings.TrimSpace(in.CandidateNo))
	in.Phone = strings.TrimSpace(in.Phone)
	if err := validate.Struct(in); err != nil {
		return nil, err
	}

	var hash string
	if in.Password != "" {
		b, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.bcryptCost)
		if err != nil {
			return nil, fmt.Errorf("hash password: %w", err)
		}
		hash = string(b)
	}

	st, err := scanStudent(s.db.QueryRowContext(ctx, `
		UPDATE students
		SET full_name = $2,
			email = $3,
			candidate_no = $4,
			phone = NULLIF($5,''),
			target_band = $6,
			password_hash = COALESCE(NULLIF($7,''), password_hash),
			is_active = COALESCE($8, is_active),
			updated_at = now()
		WHERE id = $1
		RETURNING `+studentColumns,
		id, in.FullName, in.Email, in.CandidateNo, in.Phone, in.TargetBand, hash, in.IsActive))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrStudentNotFound
		}
		if db.IsUniqueViolation(err) {
			return nil, ErrStudentDuplicate
		}
		return nil, fmt.Errorf("update student: %w", err)
	}
	s.audit.Record(ctx, actorID, "student_updated", "student", id, map[string]any{
		"password_changed": hash != "",
		"is_active":        st.IsActive,
	})
	return st, nil
}

// Deactivate is the roster's delete. Attempts and assignments keep pointing
// at the row.
func (s *Service) Deactivate(ctx context.Context, actorID, id int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE students SET is_active = FALSE, updated_at = now() WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("deactivate student: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrStudentNotFound
	}
	s.audit.Record(ctx, actorID, "student_deactivated", "student", id, nil)
	return nil
}

func (s *Service) welcome(ctx context.Context, st *Student) {
	if s.mailer == nil {
		return
	}
	site := ""
	if s.site != nil {
		site = s.site.SiteName(ctx)
	}
	err := s.mailer.SendWelcome(ctx, notify.Welcome{
		To:          st.Email,
		FullName:    st.FullName,
		CandidateNo: st.CandidateNo,
		SiteName:    site,
	})
	if err != nil {
		s.log.WithError(err).WithField("student_id", st.ID).Warn("welcome mail failed")
	}
}

func normalizeInput(in StudentInput) StudentInput {
	in.FullName = strings.TrimSpace(in.FullName)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.CandidateNo = strings.ToUpper(strings.TrimSpace(in.CandidateNo))
	in.Phone = strings.TrimSpace(in.Phone)
	return in
}

type scanner interface {
	Scan(dest ...any) error
}

func scanStudent(sc scanner) (*Student, error) {
	var (
		st   Student
		band sql.NullFloat64
	)
	if err := sc.Scan(&st.ID, &st.FullName, &st.Email, &st.CandidateNo, &st.Phone, &band, &st.IsActive, &st.CreatedAt, &st.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan student: %w", err)
	}
	if band.Valid {
		v := band.Float64
		st.TargetBand = &v
	}
	return &st, nil
}

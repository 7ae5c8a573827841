package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"ieltsadmin/internal/audit"
	"ieltsadmin/internal/db"
	"ieltsadmin/internal/validate"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrRateLimited        = errors.New("too many requests")
	ErrBootstrapDenied    = errors.New("bootstrap denied")
	ErrUserNotFound       = errors.New("user not found")
	ErrUsernameTaken      = errors.New("username or email already in use")
	ErrWrongPassword      = errors.New("current password is incorrect")
)

const (
	RoleAdmin  = "admin"
	RoleEditor = "editor"
)

type Service struct {
	db                *sql.DB
	audit             *audit.Recorder
	sessionTTL        time.Duration
	bcryptCost        int
	loginMaxFailures  int
	loginLockDuration time.Duration
	bootstrapToken    string
}

type ServiceConfig struct {
	SessionTTL        time.Duration
	BcryptCost        int
	LoginMaxFailures  int
	LoginLockDuration time.Duration
	BootstrapToken    string
	Audit             *audit.Recorder
}

type User struct {
	ID          int64      `json:"id"`
	Username    string     `json:"username"`
	Email       *string    `json:"email,omitempty"`
	FullName    string     `json:"full_name"`
	AvatarURL   *string    `json:"avatar_url,omitempty"`
	Role        string     `json:"role"`
	IsActive    bool       `json:"is_active"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

func (u *User) IsAdmin() bool {
	return u != nil && u.Role == RoleAdmin
}

type ProfileInput struct {
	FullName  string `json:"full_name" validate:"required,min=2,max=120"`
	Email     string `json:"email" validate:"required,email"`
	AvatarURL string `json:"avatar_url" validate:"omitempty,url"`
}

type ChangePasswordInput struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required,min=8,max=72,nefield=CurrentPassword"`
}

type CreateStaffInput struct {
	Username string `json:"username" validate:"required,min=3,max=40,alphanum"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8,max=72"`
	FullName string `json:"full_name" validate:"required,min=2,max=120"`
	Role     string `json:"role" validate:"required,oneof=admin editor"`
}

type UpdateStaffInput struct {
	FullName string `json:"full_name" validate:"required,min=2,max=120"`
	Role     string `json:"role" validate:"required,oneof=admin editor"`
	IsActive bool   `json:"is_active"`
}

type BootstrapInput struct {
	Token    string `json:"token" validate:"required"`
	Username string `json:"username" validate:"required,min=3,max=40,alphanum"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8,max=72"`
	FullName string `json:"full_name" validate:"required,min=2,max=120"`
}

func NewService(db *sql.DB, cfg ServiceConfig) *Service {
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 24 * time.Hour
	}
	if cfg.BcryptCost <= 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	if cfg.LoginMaxFailures <= 0 {
		cfg.LoginMaxFailures = 5
	}
	if cfg.LoginLockDuration <= 0 {
		cfg.LoginLockDuration = 15 * time.Minute
	}

	return &Service{
		db:                db,
		audit:             cfg.Audit,
		sessionTTL:        cfg.SessionTTL,
		bcryptCost:        cfg.BcryptCost,
		loginMaxFailures:  cfg.LoginMaxFailures,
		loginLockDuration: cfg.LoginLockDuration,
		bootstrapToken:    strings.TrimSpace(cfg.BootstrapToken),
	}
}

const userColumns = `id, username, email, full_name, avatar_url, role, is_active, last_login_at, created_at`

func (s *Service) AuthenticatePassword(ctx context.Context, identifier, password string) (*User, error) {
	identifier = normalizeIdentifier(identifier)
	if identifier == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	locked, err := s.isGuardLocked(ctx, identifier)
	if err != nil {
		return nil, err
	}
	if locked {
		return nil, ErrRateLimited
	}

	var hash string
	row := s.db.QueryRowContext(ctx, `
		SELECT `+userColumns+`, password_hash
		FROM staff_users
		WHERE LOWER(username) = $1 OR LOWER(email) = $1
		LIMIT 1
	`, identifier)
	u, err := scanUser(row, &hash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			_ = s.registerFailure(ctx, identifier)
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("query user: %w", err)
	}

	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		if err := s.registerFailure(ctx, identifier); err != nil {
			return nil, err
		}
		return nil, ErrInvalidCredentials
	}
	if !u.IsActive {
		return nil, ErrForbidden
	}

	_ = s.clearGuard(ctx, identifier)
	if _, err := s.db.ExecContext(ctx, `UPDATE staff_users SET last_login_at = now() WHERE id = $1`, u.ID); err != nil {
		return nil, fmt.Errorf("touch last login: %w", err)
	}
	return u, nil
}

func (s *Service) CreateSession(ctx context.Context, userID int64, ipAddress, userAgent string) (string, time.Time, error) {
	token, err := generateToken(32)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("generate session token: %w", err)
	}
	expiresAt := time.Now().Add(s.sessionTTL)

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO auth_sessions (
			user_id, session_token_hash, expires_at, ip_address, user_agent, created_at
		) VALUES (
			$1, $2, $3, $4, $5, now()
		)
	`, userID, hashToken(token), expiresAt, nullableString(ipAddress), nullableString(userAgent))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("insert session: %w", err)
	}
	return token, expiresAt, nil
}

func (s *Service) GetSessionUser(ctx context.Context, token string) (*User, error) {
	if strings.TrimSpace(token) == "" {
		return nil, ErrUnauthorized
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT u.id, u.username, u.email, u.full_name, u.avatar_url, u.role, u.is_active, u.last_login_at, u.created_at
		FROM auth_sessions s
		JOIN staff_users u ON u.id = s.user_id
		WHERE s.session_token_hash = $1
		  AND s.revoked_at IS NULL
		  AND s.expires_at > now()
		LIMIT 1
	`, hashToken(token))

	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUnauthorized
		}
		return nil, fmt.Errorf("query session user: %w", err)
	}
	if !u.IsActive {
		return nil, ErrUnauthorized
	}
	return u, nil
}

func (s *Service) RevokeSession(ctx context.Context, token string) error {
	if strings.TrimSpace(token) == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE auth_sessions
		SET revoked_at = now()
		WHERE session_token_hash = $1
		  AND revoked_at IS NULL
	`, hashToken(token))
	if err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

func (s *Service) UpdateProfile(ctx context.Context, userID int64, in ProfileInput) (*User, error) {
	in.FullName = strings.TrimSpace(in.FullName)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.AvatarURL = strings.TrimSpace(in.AvatarURL)
	if err := validate.Struct(in); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `
		UPDATE staff_users
		SET full_name = $2, email = $3, avatar_url = NULLIF($4, ''), updated_at = now()
		WHERE id = $1
		RETURNING `+userColumns, userID, in.FullName, in.Email, in.AvatarURL)
	u, err := scanUser(row)
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return nil, ErrUserNotFound
		case db.IsUniqueViolation(err):
			return nil, ErrUsernameTaken
		}
		return nil, fmt.Errorf("update profile: %w", err)
	}
	s.audit.Record(ctx, userID, "profile_updated", "staff_user", userID, map[string]any{"email": in.Email})
	return u, nil
}

// ChangePassword verifies the current password, stores the new hash and
// revokes every other session of the user. keepToken stays valid.
func (s *Service) ChangePassword(ctx context.Context, userID int64, keepToken string, in ChangePasswordInput) error {
	if err := validate.Struct(in); err != nil {
		return err
	}

	var hash string
	if err := s.db.QueryRowContext(ctx, `SELECT password_hash FROM staff_users WHERE id = $1`, userID).Scan(&hash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrUserNotFound
		}
		return fmt.Errorf("load password: %w", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(in.CurrentPassword)) != nil {
		return ErrWrongPassword
	}

	newHash, err := bcrypt.GenerateFromPassword([]byte(in.NewPassword), s.bcryptCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		UPDATE staff_users SET password_hash = $2, updated_at = now() WHERE id = $1
	`, userID, string(newHash)); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE auth_sessions
		SET revoked_at = now()
		WHERE user_id = $1 AND revoked_at IS NULL AND session_token_hash <> $2
	`, userID, hashToken(keepToken)); err != nil {
		return fmt.Errorf("revoke other sessions: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	s.audit.Record(ctx, userID, "password_changed", "staff_user", userID, nil)
	return nil
}

func (s *Service) ListStaff(ctx context.Context, role, q string) ([]User, error) {
	role = strings.ToLower(strings.TrimSpace(role))
	if role != "" && !isValidRole(role) {
		return nil, fmt.Errorf("%w: unknown role", ErrInvalidInput)
	}
	q = db.ContainsPattern(q)

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+userColumns+`
		FROM staff_users
		WHERE ($1 = '' OR role = $1)
		  AND ($2 = '' OR LOWER(username) LIKE $2 OR LOWER(full_name) LIKE $2 OR LOWER(COALESCE(email,'')) LIKE $2)
		ORDER BY full_name ASC, id ASC
	`, role, q)
	if err != nil {
		return nil, fmt.Errorf("query staff: %w", err)
	}
	defer rows.Close()

	out := make([]User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan staff: %w", err)
		}
		out = append(out, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate staff: %w", err)
	}
	return out, nil
}

func (s *Service) CreateStaff(ctx context.Context, actorID int64, in CreateStaffInput) (*User, error) {
	in.Username = normalizeIdentifier(in.Username)
	in.Email = normalizeIdentifier(in.Email)
	in.FullName = strings.TrimSpace(in.FullName)
	in.Role = strings.ToLower(strings.TrimSpace(in.Role))
	if err := validate.Struct(in); err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO staff_users (username, email, password_hash, full_name, role, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, TRUE, now(), now())
		RETURNING `+userColumns, in.Username, in.Email, string(hash), in.FullName, in.Role)
	u, err := scanUser(row)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return nil, ErrUsernameTaken
		}
		return nil, fmt.Errorf("insert staff user: %w", err)
	}

	s.audit.Record(ctx, actorID, "staff_created", "staff_user", u.ID, map[string]any{
		"username": u.Username,
		"role":     u.Role,
	})
	return u, nil
}

func (s *Service) UpdateStaff(ctx context.Context, actorID, userID int64, in UpdateStaffInput) (*User, error) {
	in.FullName = strings.TrimSpace(in.FullName)
	in.Role = strings.ToLower(strings.TrimSpace(in.Role))
	if err := validate.Struct(in); err != nil {
		return nil, err
	}
	if userID == actorID && (!in.IsActive || in.Role != RoleAdmin) {
		return nil, fmt.Errorf("%w: you cannot demote or deactivate yourself", ErrInvalidInput)
	}

	row := s.db.QueryRowContext(ctx, `
		UPDATE staff_users
		SET full_name = $2, role = $3, is_active = $4, updated_at = now()
		WHERE id = $1
		RETURNING `+userColumns, userID, in.FullName, in.Role, in.IsActive)
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("update staff user: %w", err)
	}
	if !u.IsActive {
		if _, err := s.db.ExecContext(ctx, `
			UPDATE auth_sessions SET revoked_at = now() WHERE user_id = $1 AND revoked_at IS NULL
		`, userID); err != nil {
			return nil, fmt.Errorf("revoke sessions: %w", err)
		}
	}

	s.audit.Record(ctx, actorID, "staff_updated", "staff_user", u.ID, map[string]any{
		"role":      u.Role,
		"is_active": u.IsActive,
	})
	return u, nil
}

// BootstrapAdmin creates the first admin account. It only works while no admin
// exists and the configured bootstrap token matches.
func (s *Service) BootstrapAdmin(ctx context.Context, in BootstrapInput) (*User, error) {
	if s.bootstrapToken == "" || !secureEqual(strings.TrimSpace(in.Token), s.bootstrapToken) {
		return nil, ErrBootstrapDenied
	}
	if err := validate.Struct(in); err != nil {
		return nil, err
	}

	var admins int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM staff_users WHERE role = 'admin'`).Scan(&admins); err != nil {
		return nil, fmt.Errorf("count admins: %w", err)
	}
	if admins > 0 {
		return nil, ErrBootstrapDenied
	}

	return s.CreateStaff(ctx, 0, CreateStaffInput{
		Username: in.Username,
		Email:    in.Email,
		Password: in.Password,
		FullName: in.FullName,
		Role:     RoleAdmin,
	})
}

func (s *Service) isGuardLocked(ctx context.Context, subjectKey string) (bool, error) {
	var lockedUntil sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT locked_until FROM auth_login_guards WHERE subject_key = $1
	`, subjectKey).Scan(&lockedUntil)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("load login guard: %w", err)
	}
	return lockedUntil.Valid && lockedUntil.Time.After(time.Now()), nil
}

// registerFailure bumps the failure count for subjectKey. Reaching the limit
// locks the key and resets the count, so an expired lock starts from zero.
func (s *Service) registerFailure(ctx context.Context, subjectKey string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO auth_login_guards AS g (subject_key, failures, locked_until, updated_at)
		VALUES ($1, CASE WHEN 1 >= $2 THEN 0 ELSE 1 END,
			CASE WHEN 1 >= $2 THEN now() + make_interval(secs => $3) END, now())
		ON CONFLICT (subject_key) DO UPDATE SET
			failures = CASE WHEN `+nextFailures+` >= $2 THEN 0 ELSE `+nextFailures+` END,
			locked_until = CASE
				WHEN `+nextFailures+` >= $2 THEN now() + make_interval(secs => $3)
				WHEN g.locked_until IS NOT NULL AND g.locked_until <= now() THEN NULL
				ELSE g.locked_until END,
			updated_at = now()
	`, subjectKey, s.loginMaxFailures, s.loginLockDuration.Seconds())
	if err != nil {
		return fmt.Errorf("register login failure: %w", err)
	}
	return nil
}

// nextFailures is the count after one more failure, restarting once a lock
// has expired.
const nextFailures = `(CASE WHEN g.locked_until IS NOT NULL AND g.locked_until <= now() THEN 1 ELSE g.failures + 1 END)`

func (s *Service) clearGuard(ctx context.Context, subjectKey string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM auth_login_guards WHERE subject_key = $1`, subjectKey)
	return err
}

func scanUser(scanner interface{ Scan(dest ...any) error }, extra ...any) (*User, error) {
	var u User
	var email, avatar sql.NullString
	var lastLogin sql.NullTime
	dest := []any{&u.ID, &u.Username, &email, &u.FullName, &avatar, &u.Role, &u.IsActive, &lastLogin, &u.CreatedAt}
	dest = append(dest, extra...)
	if err := scanner.Scan(dest...); err != nil {
		return nil, err
	}
	if email.Valid {
		u.Email = &email.String
	}
	if avatar.Valid {
		u.AvatarURL = &avatar.String
	}
	if lastLogin.Valid {
		u.LastLoginAt = &lastLogin.Time
	}
	return &u, nil
}

func isValidRole(role string) bool {
	return role == RoleAdmin || role == RoleEditor
}

func normalizeIdentifier(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func nullableString(s string) interface{} {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return s
}

func generateToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func hashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

func secureEqual(a, b string) bool {
	ha := sha256.Sum256([]byte(a))
	hb := sha256.Sum256([]byte(b))
	return ha == hb
}

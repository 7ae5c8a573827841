package roster

import (
	"errors"
	"time"
)

var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrStudentNotFound  = errors.New("student not found")
	ErrStudentDuplicate = errors.New("email or candidate number already registered")
	ErrUnsupportedFile  = errors.New("unsupported import file, use .csv or .xlsx")
)

type Student struct {
	ID          int64     `json:"id"`
	FullName    string    `json:"full_name"`
	Email       string    `json:"email"`
	CandidateNo string    `json:"candidate_no"`
	Phone       string    `json:"phone,omitempty"`
	TargetBand  *float64  `json:"target_band,omitempty"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type StudentInput struct {
	FullName    string   `json:"full_name" validate:"required,min=2,max=120"`
	Email       string   `json:"email" validate:"required,email,max=254"`
	CandidateNo string   `json:"candidate_no" validate:"omitempty,max=40"`
	Phone       string   `json:"phone" validate:"omitempty,max=32"`
	TargetBand  *float64 `json:"target_band" validate:"omitempty,band"`
	Password    string   `json:"password" validate:"required,min=8,max=72"`
}

// StudentUpdate leaves the password unchanged when it is empty.
type StudentUpdate struct {
	FullName    string   `json:"full_name" validate:"required,min=2,max=120"`
	Email       string   `json:"email" validate:"required,email,max=254"`
	CandidateNo string   `json:"candidate_no" validate:"required,max=40"`
	Phone       string   `json:"phone" validate:"omitempty,max=32"`
	TargetBand  *float64 `json:"target_band" validate:"omitempty,band"`
	Password    string   `json:"password" validate:"omitempty,min=8,max=72"`
	IsActive    *bool    `json:"is_active"`
}

type Filter struct {
	Q      string
	Active *bool
	Limit  int
	Offset int
}

type Page struct {
	Items  []Student `json:"items"`
	Total  int       `json:"total"`
	Limit  int       `json:"limit"`
	Offset int       `json:"offset"`
}

type ImportReport struct {
	TotalRows   int              `json:"total_rows"`
	SuccessRows int              `json:"success_rows"`
	FailedRows  int              `json:"failed_rows"`
	Errors      []ImportRowError `json:"errors"`
}

type ImportRowError struct {
	Row    int               `json:"row"`
	Email  string            `json:"email,omitempty"`
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

func (r *ImportReport) fail(row int, email string, err error, fields map[string]string) {
	r.FailedRows++
	r.Errors = append(r.Errors, ImportRowError{Row: row, Email: email, Error: err.Error(), Fields: fields})
}

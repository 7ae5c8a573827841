package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// LocalStore keeps blobs on a local or mounted directory.
type LocalStore struct {
	root    string
	baseURL string
	now     func() time.Time
}

func NewLocalStore(root, publicBaseURL string) (*LocalStore, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, errors.New("blob dir is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create blob dir: %w", err)
	}
	return &LocalStore{
		root:    root,
		baseURL: strings.TrimRight(strings.TrimSpace(publicBaseURL), "/"),
		now:     time.Now,
	}, nil
}

func (s *LocalStore) Put(ctx context.Context, in PutInput) (*Object, error) {
	if in.Body == nil {
		return nil, ErrEmptyFile
	}
	if _, ok := rules[in.Kind]; !ok {
		return nil, ErrInvalidKind
	}

	now := s.now().UTC()
	ext := strings.ToLower(filepath.Ext(in.Filename))
	key := fmt.Sprintf("%s/%04d/%02d/%s%s", in.Kind, now.Year(), int(now.Month()), uuid.NewString(), ext)
	dst := s.path(key)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return nil, fmt.Errorf("create blob dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return nil, fmt.Errorf("create temp blob: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	src := &progressReader{ctx: ctx, r: in.Body, total: in.Size, fn: in.Progress}
	var reader io.Reader = src
	if in.MaxBytes > 0 {
		reader = io.LimitReader(src, in.MaxBytes+1)
	}
	n, err := io.Copy(tmp, reader)
	if err != nil {
		return nil, fmt.Errorf("write blob: %w", err)
	}
	if in.MaxBytes > 0 && n > in.MaxBytes {
		return nil, fmt.Errorf("%w: limit is %d MB", ErrTooLarge, in.MaxBytes>>20)
	}
	if n == 0 {
		return nil, ErrEmptyFile
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("close temp blob: %w", err)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		return nil, fmt.Errorf("commit blob: %w", err)
	}
	committed = true

	return &Object{
		Key:         key,
		URL:         s.URL(key),
		Kind:        in.Kind,
		Size:        n,
		ContentType: in.ContentType,
	}, nil
}

func (s *LocalStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	key, err := CleanKey(key)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(s.path(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("open blob: %w", err)
	}
	return f, nil
}

func (s *LocalStore) Delete(ctx context.Context, key string) error {
	key, err := CleanKey(key)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.Remove(s.path(key)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrNotFound
		}
		return fmt.Errorf("delete blob: %w", err)
	}
	return nil
}

func (s *LocalStore) URL(key string) string {
	if key == "" {
		return ""
	}
	return s.baseURL + "/" + strings.TrimPrefix(key, "/")
}

func (s *LocalStore) path(key string) string {
	return filepath.Join(s.root, filepath.FromSlash(key))
}

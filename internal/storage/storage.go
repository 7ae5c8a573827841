// Package storage keeps uploaded audio, images and roster documents as blobs
// addressed by a slash separated key.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
)

var (
	ErrInvalidKind     = errors.New("invalid upload kind")
	ErrUnsupportedType = errors.New("unsupported file type")
	ErrTooLarge        = errors.New("file too large")
	ErrEmptyFile       = errors.New("file is empty")
	ErrNotFound        = errors.New("blob not found")
	ErrInvalidKey      = errors.New("invalid blob key")
)

type Kind string

const (
	KindAudio    Kind = "audio"
	KindImage    Kind = "image"
	KindDocument Kind = "document"
)

func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindAudio, KindImage, KindDocument:
		return k, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidKind, s)
}

type Store interface {
	Put(ctx context.Context, in PutInput) (*Object, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	URL(key string) string
}

type PutInput struct {
	Kind        Kind
	Filename    string
	ContentType string
	Body        io.Reader
	// Size is the expected total, or -1 when unknown. It is only reported
	// back through Progress.
	Size     int64
	MaxBytes int64
	Progress func(written, total int64)
}

type Object struct {
	Key         string `json:"key"`
	URL         string `json:"url"`
	Kind        Kind   `json:"kind"`
	Size        int64  `json:"size"`
	ContentType string `json:"content_type"`
}

type Limits struct {
	AudioBytes    int64
	ImageBytes    int64
	DocumentBytes int64
}

func LimitsFromMB(audioMB, imageMB, documentMB int) Limits {
	return Limits{
		AudioBytes:    mb(audioMB, 50),
		ImageBytes:    mb(imageMB, 5),
		DocumentBytes: mb(documentMB, 10),
	}
}

func mb(v, def int) int64 {
	if v <= 0 {
		v = def
	}
	return int64(v) << 20
}

func (l Limits) For(kind Kind) int64 {
	switch kind {
	case KindAudio:
		return l.AudioBytes
	case KindImage:
		return l.ImageBytes
	case KindDocument:
		return l.DocumentBytes
	}
	return 0
}

type rule struct {
	exts  map[string]string
	sniff []string
}

var rules = map[Kind]rule{
	KindAudio: {
		exts: map[string]string{
			".mp3": "audio/mpeg",
			".wav": "audio/wav",
			".m4a": "audio/mp4",
			".ogg": "audio/ogg",
		},
		sniff: []string{"audio/", "application/ogg", "video/mp4"},
	},
	KindImage: {
		exts: map[string]string{
			".png":  "image/png",
			".jpg":  "image/jpeg",
			".jpeg": "image/jpeg",
			".webp": "image/webp",
		},
		sniff: []string{"image/png", "image/jpeg", "image/webp"},
	},
	KindDocument: {
		exts: map[string]string{
			".csv":  "text/csv",
			".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		},
		sniff: []string{"text/plain", "text/csv", "application/zip"},
	},
}

// CheckFile validates an upload before it is stored and returns the content
// type to record. size < 0 skips the size check; head is the first bytes of
// the file, used for sniffing.
func CheckFile(kind Kind, filename, declaredType string, size int64, limits Limits, head []byte) (string, error) {
	rl, ok := rules[kind]
	if !ok {
		return "", ErrInvalidKind
	}
	ext := strings.ToLower(filepath.Ext(filename))
	contentType, ok := rl.exts[ext]
	if !ok {
		return "", fmt.Errorf("%w: %s files must be one of %s", ErrUnsupportedType, kind, strings.Join(extList(rl), ", "))
	}
	if size == 0 || len(head) == 0 {
		return "", ErrEmptyFile
	}
	if max := limits.For(kind); size > 0 && max > 0 && size > max {
		return "", fmt.Errorf("%w: limit is %d MB", ErrTooLarge, max>>20)
	}

	sniffed := http.DetectContentType(head)
	if sniffed != "application/octet-stream" && !hasAnyPrefix(sniffed, rl.sniff) {
		return "", fmt.Errorf("%w: content looks like %s", ErrUnsupportedType, sniffed)
	}
	if dt := strings.TrimSpace(declaredType); dt != "" && dt != "application/octet-stream" {
		base := strings.ToLower(strings.SplitN(dt, ";", 2)[0])
		if kind != KindDocument && !strings.HasPrefix(base, string(kind)+"/") && !hasAnyPrefix(base, rl.sniff) {
			return "", fmt.Errorf("%w: declared type %s", ErrUnsupportedType, base)
		}
	}
	return contentType, nil
}

func extList(rl rule) []string {
	out := make([]string, 0, len(rl.exts))
	for _, ext := range []string{".mp3", ".wav", ".m4a", ".ogg", ".png", ".jpg", ".jpeg", ".webp", ".csv", ".xlsx"} {
		if _, ok := rl.exts[ext]; ok {
			out = append(out, ext)
		}
	}
	return out
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

// CleanKey rejects keys that would escape the store root.
func CleanKey(key string) (string, error) {
	key = strings.TrimSpace(strings.TrimPrefix(key, "/"))
	if key == "" || strings.Contains(key, "\\") {
		return "", ErrInvalidKey
	}
	for _, part := range strings.Split(key, "/") {
		if part == "" || part == "." || part == ".." {
			return "", ErrInvalidKey
		}
	}
	return key, nil
}

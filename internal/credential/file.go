package credential

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/desurestar/RSOD-project/internal/domain"
)

// entry is one named token in the file.
type entry struct {
	Value     string    `json:"value"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

type tokenFile struct {
	AccessToken  *entry `json:"access_token,omitempty"`
	RefreshToken *entry `json:"refresh_token,omitempty"`
}

// File persists tokens as two named entries in a 0600 JSON file.
type File struct {
	path string
	now  func() time.Time
	mu   sync.Mutex
}

// NewFile returns a store backed by path. The file is created on first Save.
func NewFile(path string) *File {
	return &File{path: path, now: time.Now}
}

// DefaultPath returns the per-user token file location.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil || dir == "" {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "blogsync", "tokens.json")
}

// Path returns the backing file.
func (f *File) Path() string { return f.path }

func (f *File) Load(ctx context.Context) (domain.Tokens, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	b, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return domain.Tokens{}, nil
	}
	if err != nil {
		return domain.Tokens{}, fmt.Errorf("read token file: %w", err)
	}

	var tf tokenFile
	if err := json.Unmarshal(b, &tf); err != nil {
		return domain.Tokens{}, fmt.Errorf("decode token file: %w", err)
	}

	// A half-written or expired pair counts as no session.
	if tf.AccessToken == nil || tf.RefreshToken == nil || tf.AccessToken.Value == "" || tf.RefreshToken.Value == "" {
		return domain.Tokens{}, f.remove()
	}
	now := f.now()
	if !tf.RefreshToken.ExpiresAt.IsZero() && !now.Before(tf.RefreshToken.ExpiresAt) {
		return domain.Tokens{}, f.remove()
	}

	return domain.Tokens{
		Access:          tf.AccessToken.Value,
		Refresh:         tf.RefreshToken.Value,
		AccessExpiresAt: tf.AccessToken.ExpiresAt,
	}, nil
}

func (f *File) Save(ctx context.Context, tokens domain.Tokens) error {
	if err := validate(tokens); err != nil {
		return err
	}
	now := f.now()
	tokens = withExpiry(tokens, now)

	refresh := &entry{Value: tokens.Refresh}
	if exp, ok := Expiry(tokens.Refresh); ok {
		refresh.ExpiresAt = exp
	}

	b, err := json.MarshalIndent(tokenFile{
		AccessToken:  &entry{Value: tokens.Access, ExpiresAt: tokens.AccessExpiresAt},
		RefreshToken: refresh,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode token file: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	return f.write(b)
}

func (f *File) Clear(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.remove()
}

// Check reports whether the token directory is usable.
func (f *File) Check(ctx context.Context) error {
	dir := filepath.Dir(f.path)
	info, err := os.Stat(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("stat token dir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("token dir %s is not a directory", dir)
	}
	return nil
}

// write replaces the file atomically through a temp file in the same directory.
func (f *File) write(b []byte) error {
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create token dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tokens-*.json")
	if err != nil {
		return fmt.Errorf("create temp token file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("chmod token file: %w", err)
	}
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write token file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close token file: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("replace token file: %w", err)
	}
	return nil
}

func (f *File) remove() error {
	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove token file: %w", err)
	}
	return nil
}

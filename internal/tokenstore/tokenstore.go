// Package tokenstore handles the on-disk token bundle: a directory holding the
// OAuth2 token and the cached user profile as separate JSON files. It also
// offers a read-only probe (Exists, ListFiles) used for diagnostics before a
// login attempt. The bundle contents are only interpreted by the garmin
// package; the probe never opens or validates them.
package tokenstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"golang.org/x/oauth2"
)

// FilePerms restricts token files to owner-only read/write.
const FilePerms = 0o600

// DirPerms is used when creating the token store directory.
const DirPerms = 0o700

// File names inside the store directory.
const (
	TokenFileName   = "oauth2_token.json"
	ProfileFileName = "profile.json"
)

// tokenGlob matches candidate token files for the diagnostics probe.
const tokenGlob = "*.json"

// Sentinel errors for bundle loading. Use errors.Is to check.
var (
	ErrNoTokens      = errors.New("tokenstore: no token bundle")
	ErrCorruptTokens = errors.New("tokenstore: token bundle unreadable")
)

// Profile is the user profile cached next to the token. The display name is
// needed to address per-user API endpoints without an extra round trip.
type Profile struct {
	DisplayName string `json:"display_name"`
	FullName    string `json:"full_name,omitempty"`
}

// Bundle is everything persisted for one authenticated user.
type Bundle struct {
	Token   *oauth2.Token
	Profile Profile
}

// Store is a token store rooted at a directory. The zero value is not usable;
// construct with New.
type Store struct {
	dir string
}

// New returns a Store for dir. The directory does not need to exist.
func New(dir string) *Store {
	return &Store{dir: dir}
}

// Dir returns the store directory.
func (s *Store) Dir() string {
	return s.dir
}

// Exists reports whether the store directory is present.
func (s *Store) Exists() bool {
	_, err := os.Stat(s.dir)

	return err == nil
}

// ListFiles returns the names of candidate token files in the store directory,
// sorted. A missing or unreadable directory yields an empty slice.
func (s *Store) ListFiles() []string {
	matches, err := filepath.Glob(filepath.Join(s.dir, tokenGlob))
	if err != nil {
		return []string{}
	}

	names := make([]string, 0, len(matches))
	for _, m := range matches {
		names = append(names, filepath.Base(m))
	}

	sort.Strings(names)

	return names
}

// Load reads the bundle from disk. Returns ErrNoTokens if the token file does
// not exist and an error wrapping ErrCorruptTokens if it cannot be decoded.
// A missing profile file is tolerated.
func (s *Store) Load() (*Bundle, error) {
	tokenPath := filepath.Join(s.dir, TokenFileName)

	data, err := os.ReadFile(tokenPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNoTokens
	}

	if err != nil {
		return nil, fmt.Errorf("tokenstore: reading %s: %w", tokenPath, err)
	}

	var tok oauth2.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("%w: decoding %s: %w", ErrCorruptTokens, tokenPath, err)
	}

	if tok.AccessToken == "" && tok.RefreshToken == "" {
		return nil, fmt.Errorf("%w: %s holds no access or refresh token", ErrCorruptTokens, tokenPath)
	}

	b := &Bundle{Token: &tok}

	profilePath := filepath.Join(s.dir, ProfileFileName)

	pdata, err := os.ReadFile(profilePath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return b, nil
	case err != nil:
		return nil, fmt.Errorf("tokenstore: reading %s: %w", profilePath, err)
	}

	if err := json.Unmarshal(pdata, &b.Profile); err != nil {
		return nil, fmt.Errorf("%w: decoding %s: %w", ErrCorruptTokens, profilePath, err)
	}

	return b, nil
}

// Save writes the bundle atomically, one file at a time. Never logs token values.
func (s *Store) Save(b *Bundle) error {
	if b == nil || b.Token == nil {
		return fmt.Errorf("tokenstore: nothing to save")
	}

	if err := os.MkdirAll(s.dir, DirPerms); err != nil {
		return fmt.Errorf("tokenstore: creating directory %s: %w", s.dir, err)
	}

	tokData, err := json.MarshalIndent(b.Token, "", "  ")
	if err != nil {
		return fmt.Errorf("tokenstore: encoding token: %w", err)
	}

	if err := writeFileAtomic(filepath.Join(s.dir, TokenFileName), tokData); err != nil {
		return err
	}

	profData, err := json.MarshalIndent(b.Profile, "", "  ")
	if err != nil {
		return fmt.Errorf("tokenstore: encoding profile: %w", err)
	}

	return writeFileAtomic(filepath.Join(s.dir, ProfileFileName), profData)
}

// Remove deletes the bundle files. Returns nil if they do not exist. The
// directory itself is left in place since it may be user-managed.
func (s *Store) Remove() (removed int, err error) {
	for _, name := range []string{TokenFileName, ProfileFileName} {
		rmErr := os.Remove(filepath.Join(s.dir, name))
		if errors.Is(rmErr, fs.ErrNotExist) {
			continue
		}

		if rmErr != nil {
			return removed, fmt.Errorf("tokenstore: removing %s: %w", name, rmErr)
		}

		removed++
	}

	return removed, nil
}

// writeFileAtomic writes data to path via temp file + fsync + rename so a
// crash never leaves a partial token file behind.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)

	// Same directory guarantees same filesystem for rename(2).
	tmp, err := os.CreateTemp(dir, ".token-*.tmp")
	if err != nil {
		return fmt.Errorf("tokenstore: creating temp file: %w", err)
	}

	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := os.Chmod(tmpPath, FilePerms); err != nil {
		tmp.Close()
		return fmt.Errorf("tokenstore: setting permissions: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("tokenstore: writing: %w", err)
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("tokenstore: syncing: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("tokenstore: closing: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("tokenstore: renaming: %w", err)
	}

	success = true

	return nil
}

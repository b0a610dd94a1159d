package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/iho/ynabimport/internal/domain"
)

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// Sealer encrypts session snapshots at rest.
type Sealer interface {
	Seal(plaintext []byte) ([]byte, error)
	Open(sealed []byte) ([]byte, error)
}

// SessionStore implements usecase.SessionStore with one sealed file per
// session in dir.
type SessionStore struct {
	dir    string
	sealer Sealer
}

// NewSessionStore creates a SessionStore rooted at dir.
func NewSessionStore(dir string, sealer Sealer) (*SessionStore, error) {
	if sealer == nil {
		return nil, errors.New("session store requires a sealer")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create session directory: %w", err)
	}
	return &SessionStore{dir: dir, sealer: sealer}, nil
}

// Save writes the snapshot atomically: temp file, fsync, rename. Snapshots of
// other sessions whose challenge expired before session was created are
// removed on the way.
func (s *SessionStore) Save(ctx context.Context, session *domain.Session) error {
	path, err := s.path(session.SessionID)
	if err != nil {
		return err
	}
	s.removeExpired(session.SessionID, session.CreatedAt)

	plaintext, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	sealed, err := s.sealer.Seal(plaintext)
	if err != nil {
		return fmt.Errorf("seal session: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, ".session-*")
	if err != nil {
		return fmt.Errorf("create session file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod session file: %w", err)
	}
	if _, err := tmp.Write(sealed); err != nil {
		tmp.Close()
		return fmt.Errorf("write session file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync session file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close session file: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename session file: %w", err)
	}
	return nil
}

// Load reads and opens a snapshot.
func (s *SessionStore) Load(ctx context.Context, sessionID string) (*domain.Session, error) {
	path, err := s.path(sessionID)
	if err != nil {
		return nil, err
	}

	sealed, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", domain.ErrNoActiveSession, sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("read session file: %w", err)
	}

	plaintext, err := s.sealer.Open(sealed)
	if err != nil {
		return nil, fmt.Errorf("open session %s: %w", sessionID, err)
	}

	var session domain.Session
	if err := json.Unmarshal(plaintext, &session); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	return &session, nil
}

// Delete removes a snapshot. Deleting a missing session is not an error.
func (s *SessionStore) Delete(ctx context.Context, sessionID string) error {
	path, err := s.path(sessionID)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete session file: %w", err)
	}
	return nil
}

// removeExpired is best effort. Snapshots this sealer cannot open are left
// alone.
func (s *SessionStore) removeExpired(keep string, now time.Time) {
	paths, err := filepath.Glob(filepath.Join(s.dir, "*.session"))
	if err != nil {
		return
	}
	for _, path := range paths {
		if strings.TrimSuffix(filepath.Base(path), ".session") == keep {
			continue
		}
		sealed, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		plaintext, err := s.sealer.Open(sealed)
		if err != nil {
			continue
		}
		var session domain.Session
		if err := json.Unmarshal(plaintext, &session); err != nil {
			continue
		}
		if session.Expired(now) {
			_ = os.Remove(path)
		}
	}
}

func (s *SessionStore) path(sessionID string) (string, error) {
	if !sessionIDPattern.MatchString(sessionID) {
		return "", fmt.Errorf("%w: malformed session id", domain.ErrNoActiveSession)
	}
	return filepath.Join(s.dir, sessionID+".session"), nil
}

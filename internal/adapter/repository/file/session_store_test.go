package file

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iho/ynabimport/internal/domain"
	"github.com/iho/ynabimport/internal/infrastructure/crypto"
)

func newTestSessionStore(t *testing.T, passphrase string) (*SessionStore, string) {
	t.Helper()
	sealer, err := crypto.NewSealer(passphrase)
	require.NoError(t, err)

	dir := filepath.Join(t.TempDir(), "sessions")
	store, err := NewSessionStore(dir, sealer)
	require.NoError(t, err)
	return store, dir
}

func TestSessionStore_SaveLoadDelete(t *testing.T) {
	ctx := context.Background()
	store, dir := newTestSessionStore(t, "correct horse")

	session := domain.NewSession("01HSESSION", "01HREQUEST", time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC))
	session.State = domain.StateChallengeIssued
	session.AccessToken = "secret-access-token"
	session.SessionUUID = "uuid-1"
	session.Challenge = &domain.Challenge{Type: domain.ChallengePhotoTAN, ID: "ch-1", Image: []byte{0x89, 0x50}}
	require.NoError(t, store.Save(ctx, session))

	raw, err := os.ReadFile(filepath.Join(dir, "01HSESSION.session"))
	require.NoError(t, err)
	assert.False(t, strings.Contains(string(raw), "secret-access-token"), "token must not be stored in clear text")

	info, err := os.Stat(filepath.Join(dir, "01HSESSION.session"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, err := store.Load(ctx, "01HSESSION")
	require.NoError(t, err)
	assert.Equal(t, domain.StateChallengeIssued, loaded.State)
	assert.Equal(t, "secret-access-token", loaded.AccessToken)
	assert.Equal(t, "ch-1", loaded.Challenge.ID)
	assert.True(t, loaded.CreatedAt.Equal(session.CreatedAt))

	require.NoError(t, store.Delete(ctx, "01HSESSION"))
	require.NoError(t, store.Delete(ctx, "01HSESSION"))

	_, err = store.Load(ctx, "01HSESSION")
	assert.True(t, errors.Is(err, domain.ErrNoActiveSession))
}

func TestSessionStore_WrongPassphrase(t *testing.T) {
	ctx := context.Background()
	store, dir := newTestSessionStore(t, "one")
	require.NoError(t, store.Save(ctx, domain.NewSession("S1", "R1", time.Now())))

	sealer, err := crypto.NewSealer("two")
	require.NoError(t, err)
	other, err := NewSessionStore(dir, sealer)
	require.NoError(t, err)

	_, err = other.Load(ctx, "S1")
	require.ErrorIs(t, err, crypto.ErrOpen)
}

func TestSessionStore_RejectsPathLikeIDs(t *testing.T) {
	store, _ := newTestSessionStore(t, "pass")

	_, err := store.Load(context.Background(), "../etc/passwd")
	require.ErrorIs(t, err, domain.ErrNoActiveSession)

	err = store.Save(context.Background(), domain.NewSession("a/b", "r", time.Now()))
	require.Error(t, err)
}

func TestSessionStore_SaveRemovesExpiredSnapshots(t *testing.T) {
	ctx := context.Background()
	store, dir := newTestSessionStore(t, "pass")
	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	abandoned := domain.NewSession("ABANDONED", "R1", start)
	abandoned.State = domain.StateChallengeIssued
	abandoned.ExpiresAt = start.Add(5 * time.Minute)
	require.NoError(t, store.Save(ctx, abandoned))

	pending := domain.NewSession("PENDING", "R2", start.Add(4*time.Minute))
	pending.State = domain.StateChallengeIssued
	pending.ExpiresAt = start.Add(9 * time.Minute)
	require.NoError(t, store.Save(ctx, pending))

	// A foreign snapshot that cannot be opened stays untouched.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "FOREIGN.session"), []byte("garbage"), 0o600))

	_, err := os.Stat(filepath.Join(dir, "ABANDONED.session"))
	require.NoError(t, err, "not yet expired when the second login started")

	next := domain.NewSession("NEXT", "R3", start.Add(6*time.Minute))
	next.State = domain.StateChallengeIssued
	next.ExpiresAt = start.Add(11 * time.Minute)
	require.NoError(t, store.Save(ctx, next))

	_, err = os.Stat(filepath.Join(dir, "ABANDONED.session"))
	assert.ErrorIs(t, err, os.ErrNotExist)
	for _, id := range []string{"PENDING", "NEXT", "FOREIGN"} {
		_, err := os.Stat(filepath.Join(dir, id+".session"))
		assert.NoError(t, err, id)
	}
}

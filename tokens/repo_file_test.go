package tokens_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/simplenas/nas-gateway/tokens"
)

func testRecord(now time.Time) tokens.Record {
	return tokens.Record{
		SID:       "sid-1",
		SynoToken: "token-1",
		Account:   "admin",
		CreatedAt: now,
		ExpiresAt: now.Add(24 * time.Hour),
	}
}

func TestCreateMintsUniqueTokens(t *testing.T) {
	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	repo := tokens.NewFileRepo(filepath.Join(t.TempDir(), "tokens.json"),
		tokens.WithNowTime(func() time.Time { return now }))

	first, err := repo.Create(testRecord(now))
	require.NoError(t, err)
	second, err := repo.Create(testRecord(now))
	require.NoError(t, err)

	require.NotEmpty(t, first)
	require.NotEqual(t, first, second)

	record, err := repo.Get(first)
	require.NoError(t, err)
	require.Equal(t, first, record.Token)
	require.Equal(t, "sid-1", record.SID)
}

func TestGetEvictsExpired(t *testing.T) {
	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	repo := tokens.NewFileRepo(filepath.Join(t.TempDir(), "tokens.json"),
		tokens.WithNowTime(func() time.Time { return now }))

	record := testRecord(now)
	record.ExpiresAt = now.Add(-time.Minute)
	token, err := repo.Create(record)
	require.NoError(t, err)

	_, err = repo.Get(token)
	require.ErrorIs(t, err, tokens.ErrNotFound)
	require.Empty(t, repo.List())
}

func TestPersistenceAcrossRestart(t *testing.T) {
	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	path := filepath.Join(t.TempDir(), "tokens.json")

	repo := tokens.NewFileRepo(path, tokens.WithNowTime(func() time.Time { return now }))
	token, err := repo.Create(testRecord(now))
	require.NoError(t, err)

	reloaded := tokens.NewFileRepo(path, tokens.WithNowTime(func() time.Time { return now }))
	record, err := reloaded.Get(token)
	require.NoError(t, err)
	require.Equal(t, "admin", record.Account)
}

func TestCorruptFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.json")
	require.NoError(t, os.WriteFile(path, []byte("]["), 0o600))

	repo := tokens.NewFileRepo(path)
	require.Empty(t, repo.List())
}

func TestUpdateUpstreamPreservesExpiry(t *testing.T) {
	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	repo := tokens.NewFileRepo(filepath.Join(t.TempDir(), "tokens.json"),
		tokens.WithNowTime(func() time.Time { return now }))

	original := testRecord(now)
	token, err := repo.Create(original)
	require.NoError(t, err)

	require.NoError(t, repo.UpdateUpstream(token, "sid-2", "token-2"))
	record, err := repo.Get(token)
	require.NoError(t, err)
	require.Equal(t, "sid-2", record.SID)
	require.Equal(t, original.ExpiresAt, record.ExpiresAt)
}

func TestDeleteIsIdempotent(t *testing.T) {
	repo := tokens.NewFileRepo(filepath.Join(t.TempDir(), "tokens.json"))
	require.NoError(t, repo.Delete("missing"))
}

func TestSweep(t *testing.T) {
	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	repo := tokens.NewFileRepo(filepath.Join(t.TempDir(), "tokens.json"),
		tokens.WithNowTime(func() time.Time { return now }))

	_, err := repo.Create(testRecord(now))
	require.NoError(t, err)
	expired := testRecord(now)
	expired.ExpiresAt = now.Add(-time.Minute)
	expiredToken, err := repo.Create(expired)
	require.NoError(t, err)

	require.Equal(t, []string{expiredToken}, repo.Sweep())
	require.Len(t, repo.List(), 1)
}

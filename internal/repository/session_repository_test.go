package repository

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/tradeprohub/account-service/internal/domain"
)

func createTestSession(t *testing.T, repo SessionRepository, accountID uint, hash string, expiresAt time.Time) *domain.Session {
	t.Helper()
	s := &domain.Session{
		AccountID:        accountID,
		RefreshTokenHash: hash,
		TokenID:          "jti-" + hash[:8],
		ExpiresAt:        expiresAt,
		LastActivityAt:   time.Now().UTC(),
	}
	if err := repo.Create(s); err != nil {
		t.Fatalf("create session: %v", err)
	}
	return s
}

func TestFindActiveByHash(t *testing.T) {
	db := newTestDB(t)
	repo := NewSessionRepository(db)
	a := createTestAccount(t, db, "sessions@example.com")
	now := time.Now().UTC()

	live := createTestSession(t, repo, a.ID, "hash-live-0000000000000000000000", now.Add(time.Hour))
	createTestSession(t, repo, a.ID, "hash-expired-000000000000000000", now.Add(-time.Hour))

	got, err := repo.FindActiveByHash(live.RefreshTokenHash, now)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got.ID != live.ID {
		t.Fatalf("expected session %d, got %d", live.ID, got.ID)
	}

	if _, err := repo.FindActiveByHash("hash-expired-000000000000000000", now); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected expired session to be invisible, got %v", err)
	}
	if _, err := repo.FindActiveByHash("no-such-hash", now); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestRevokeByHash(t *testing.T) {
	db := newTestDB(t)
	repo := NewSessionRepository(db)
	a := createTestAccount(t, db, "revoke@example.com")
	now := time.Now().UTC()

	s := createTestSession(t, repo, a.ID, "hash-revoke-00000000000000000000", now.Add(time.Hour))

	if err := repo.RevokeByHash(s.RefreshTokenHash, now); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, err := repo.FindActiveByHash(s.RefreshTokenHash, now); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected revoked session to be invisible, got %v", err)
	}
	// Revoking an already revoked session reports not found.
	if err := repo.RevokeByHash(s.RefreshTokenHash, now); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound on double revoke, got %v", err)
	}
}

func TestRevokeByAccount(t *testing.T) {
	db := newTestDB(t)
	repo := NewSessionRepository(db)
	a := createTestAccount(t, db, "revoke-all@example.com")
	other := createTestAccount(t, db, "untouched@example.com")
	now := time.Now().UTC()

	for i := 0; i < 3; i++ {
		createTestSession(t, repo, a.ID, fmt.Sprintf("hash-mine-%022d", i), now.Add(time.Hour))
	}
	keep := createTestSession(t, repo, other.ID, "hash-other-000000000000000000000", now.Add(time.Hour))

	n, err := repo.RevokeByAccount(a.ID, now)
	if err != nil {
		t.Fatalf("revoke all: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 revoked, got %d", n)
	}

	count, err := repo.CountActiveByAccount(a.ID, now)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected no active sessions, got %d", count)
	}
	if _, err := repo.FindActiveByHash(keep.RefreshTokenHash, now); err != nil {
		t.Fatalf("expected other account's session untouched: %v", err)
	}
}

func TestDeleteInactiveBefore(t *testing.T) {
	db := newTestDB(t)
	repo := NewSessionRepository(db)
	a := createTestAccount(t, db, "prune@example.com")
	now := time.Now().UTC()
	cutoff := now.Add(-30 * 24 * time.Hour)

	createTestSession(t, repo, a.ID, "hash-old-expired-000000000000000", cutoff.Add(-time.Hour))
	revoked := createTestSession(t, repo, a.ID, "hash-old-revoked-000000000000000", now.Add(time.Hour))
	if err := repo.RevokeByHash(revoked.RefreshTokenHash, cutoff.Add(-2*time.Hour)); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	live := createTestSession(t, repo, a.ID, "hash-live-0000000000000000000000", now.Add(time.Hour))

	// The preview count matches what the delete removes.
	count, err := repo.CountInactiveBefore(cutoff)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected count 2, got %d", count)
	}

	deleted, err := repo.DeleteInactiveBefore(cutoff)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if deleted != count {
		t.Fatalf("expected %d deleted, got %d", count, deleted)
	}
	if _, err := repo.FindActiveByHash(live.RefreshTokenHash, now); err != nil {
		t.Fatalf("expected live session to survive: %v", err)
	}
}

func TestTouchActivity(t *testing.T) {
	db := newTestDB(t)
	repo := NewSessionRepository(db)
	a := createTestAccount(t, db, "touch@example.com")
	now := time.Now().UTC()

	s := createTestSession(t, repo, a.ID, "hash-touch-000000000000000000000", now.Add(time.Hour))
	later := now.Add(10 * time.Minute)
	if err := repo.TouchActivity(s.ID, later); err != nil {
		t.Fatalf("touch: %v", err)
	}

	got, err := repo.FindActiveByHash(s.RefreshTokenHash, now)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if !timesEqual(got.LastActivityAt, later) {
		t.Fatalf("expected last_activity_at %v, got %v", later, got.LastActivityAt)
	}
}

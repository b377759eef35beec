package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/tradeprohub/account-service/internal/domain"
	"github.com/tradeprohub/account-service/internal/repository"
)

// memAccountRepo mimics the SQL repository's atomicity: every mutation
// happens under one lock, and ArmLockout only succeeds when no lock is set.
type memAccountRepo struct {
	mu       sync.Mutex
	seq      uint
	accounts map[uint]*domain.Account
}

func newMemAccountRepo() *memAccountRepo {
	return &memAccountRepo{accounts: map[uint]*domain.Account{}}
}

func (r *memAccountRepo) add(a *domain.Account) *domain.Account {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	a.ID = r.seq
	r.accounts[a.ID] = a
	cp := *a
	return &cp
}

func (r *memAccountRepo) FindByID(id uint) (*domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[id]
	if !ok {
		return nil, repository.ErrAccountNotFound
	}
	cp := *a
	return &cp, nil
}

func (r *memAccountRepo) FindByEmail(email string) (*domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.accounts {
		if a.Email == email {
			cp := *a
			return &cp, nil
		}
	}
	return nil, repository.ErrAccountNotFound
}

func (r *memAccountRepo) FindByUsername(username string) (*domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.accounts {
		if a.Username == username {
			cp := *a
			return &cp, nil
		}
	}
	return nil, repository.ErrAccountNotFound
}

func (r *memAccountRepo) Create(account *domain.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	account.ID = r.seq
	cp := *account
	r.accounts[account.ID] = &cp
	return nil
}

func (r *memAccountRepo) Update(account *domain.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.accounts[account.ID]; !ok {
		return repository.ErrAccountNotFound
	}
	cp := *account
	r.accounts[account.ID] = &cp
	return nil
}

func (r *memAccountRepo) IncrementFailedAttempts(id uint, now time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[id]
	if !ok {
		return 0, repository.ErrAccountNotFound
	}
	a.FailedLoginAttempts++
	t := now
	a.LastLoginAttempt = &t
	return a.FailedLoginAttempts, nil
}

func (r *memAccountRepo) ArmLockout(id uint, until time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[id]
	if !ok {
		return false, repository.ErrAccountNotFound
	}
	if a.LockedUntil != nil {
		return false, nil
	}
	t := until
	a.LockedUntil = &t
	return true, nil
}

func (r *memAccountRepo) ClearLockout(id uint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[id]
	if !ok {
		return repository.ErrAccountNotFound
	}
	a.LockedUntil = nil
	a.FailedLoginAttempts = 0
	return nil
}

func (r *memAccountRepo) RecordLogin(id uint, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[id]
	if !ok {
		return repository.ErrAccountNotFound
	}
	a.FailedLoginAttempts = 0
	a.LockedUntil = nil
	t := now
	a.LastLoginAt = &t
	a.LastLoginAttempt = &t
	return nil
}

func (r *memAccountRepo) UpdatePassword(id uint, hash string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[id]
	if !ok {
		return repository.ErrAccountNotFound
	}
	a.PasswordHash = hash
	a.PasswordChangedAt = now
	a.ForcePasswordChange = false
	return nil
}

func (r *memAccountRepo) RehashPassword(id uint, hash string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[id]
	if !ok {
		return repository.ErrAccountNotFound
	}
	a.PasswordHash = hash
	return nil
}

func (r *memAccountRepo) MarkEmailVerified(id uint, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[id]
	if !ok {
		return repository.ErrAccountNotFound
	}
	a.EmailVerified = true
	t := now
	a.EmailVerifiedAt = &t
	return nil
}

func (r *memAccountRepo) SetForcePasswordChange(id uint, force bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[id]
	if !ok {
		return repository.ErrAccountNotFound
	}
	a.ForcePasswordChange = force
	return nil
}

func (r *memAccountRepo) SetActive(id uint, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[id]
	if !ok {
		return repository.ErrAccountNotFound
	}
	a.Active = active
	return nil
}

func (r *memAccountRepo) ListLocked(now time.Time) ([]domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Account
	for _, a := range r.accounts {
		if a.LockedUntil != nil && a.LockedUntil.After(now) {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (r *memAccountRepo) ListExpiredLockouts(now time.Time) ([]domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Account
	for _, a := range r.accounts {
		if a.LockedUntil != nil && !a.LockedUntil.After(now) {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (r *memAccountRepo) Stats(now time.Time) (*repository.AccountStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var s repository.AccountStats
	for _, a := range r.accounts {
		s.Total++
		if a.Active {
			s.Active++
		}
		if a.LockedUntil != nil && a.LockedUntil.After(now) {
			s.Locked++
		}
		if a.EmailVerified {
			s.EmailVerified++
		}
	}
	return &s, nil
}

type memTokenRepo struct {
	mu     sync.Mutex
	seq    uint
	tokens map[uint]*domain.VerificationToken
}

func newMemTokenRepo() *memTokenRepo {
	return &memTokenRepo{tokens: map[uint]*domain.VerificationToken{}}
}

func (r *memTokenRepo) Create(token *domain.VerificationToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	token.ID = r.seq
	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now().UTC()
	}
	cp := *token
	r.tokens[token.ID] = &cp
	return nil
}

func (r *memTokenRepo) FindByValue(value string) (*domain.VerificationToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, tok := range r.tokens {
		if tok.Value == value {
			cp := *tok
			return &cp, nil
		}
	}
	return nil, repository.ErrVerificationTokenNotFound
}

func (r *memTokenRepo) FindActiveByAccountKind(accountID uint, kind domain.TokenKind, now time.Time) (*domain.VerificationToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var newest *domain.VerificationToken
	for _, tok := range r.tokens {
		if tok.AccountID != accountID || tok.Kind != kind || tok.Used || !tok.ExpiresAt.After(now) {
			continue
		}
		if newest == nil || tok.CreatedAt.After(newest.CreatedAt) {
			newest = tok
		}
	}
	if newest == nil {
		return nil, repository.ErrVerificationTokenNotFound
	}
	cp := *newest
	return &cp, nil
}

func (r *memTokenRepo) Consume(tokenID uint, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tok, ok := r.tokens[tokenID]
	if !ok || tok.Used {
		return false, nil
	}
	tok.Used = true
	t := now
	tok.UsedAt = &t
	return true, nil
}

func (r *memTokenRepo) DeleteExpiredBefore(cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, tok := range r.tokens {
		if tok.ExpiresAt.Before(cutoff) || (tok.Used && tok.UsedAt != nil && tok.UsedAt.Before(cutoff)) {
			delete(r.tokens, id)
			n++
		}
	}
	return n, nil
}

func (r *memTokenRepo) CountExpiredBefore(cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, tok := range r.tokens {
		if tok.ExpiresAt.Before(cutoff) || (tok.Used && tok.UsedAt != nil && tok.UsedAt.Before(cutoff)) {
			n++
		}
	}
	return n, nil
}

func (r *memTokenRepo) CountIssuedSince(kind domain.TokenKind, since time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, tok := range r.tokens {
		if tok.Kind == kind && !tok.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

type memAuditRepo struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
	failErr error
}

func newMemAuditRepo() *memAuditRepo { return &memAuditRepo{} }

func (r *memAuditRepo) Create(entry *domain.AuditEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failErr != nil {
		return r.failErr
	}
	entry.ID = uint(len(r.entries) + 1)
	r.entries = append(r.entries, *entry)
	return nil
}

func (r *memAuditRepo) byAction(action domain.AuditAction) []domain.AuditEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.AuditEntry
	for _, e := range r.entries {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}

func (r *memAuditRepo) ListByAccount(accountID uint, limit int) ([]domain.AuditEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.AuditEntry
	for i := len(r.entries) - 1; i >= 0 && len(out) < limit; i-- {
		e := r.entries[i]
		if e.AccountID != nil && *e.AccountID == accountID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *memAuditRepo) ListRecent(limit int) ([]domain.AuditEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.AuditEntry
	for i := len(r.entries) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, r.entries[i])
	}
	return out, nil
}

func (r *memAuditRepo) CountByActionSince(action domain.AuditAction, since time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, e := range r.entries {
		if e.Action == action && !e.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (r *memAuditRepo) TopFailureIPsSince(since time.Time, limit int) ([]repository.IPFailureCount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := map[string]int64{}
	for _, e := range r.entries {
		if e.Action == domain.AuditActionLoginFailed && e.IP != "" && !e.CreatedAt.Before(since) {
			counts[e.IP]++
		}
	}
	var out []repository.IPFailureCount
	for ip, n := range counts {
		out = append(out, repository.IPFailureCount{IP: ip, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Count > out[j].Count })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memAuditRepo) DeleteBefore(cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var kept []domain.AuditEntry
	var n int64
	for _, e := range r.entries {
		if e.CreatedAt.Before(cutoff) {
			n++
			continue
		}
		kept = append(kept, e)
	}
	r.entries = kept
	return n, nil
}

type memSessionRepo struct {
	mu       sync.Mutex
	seq      uint
	sessions map[uint]*domain.Session
}

func newMemSessionRepo() *memSessionRepo {
	return &memSessionRepo{sessions: map[uint]*domain.Session{}}
}

func (r *memSessionRepo) Create(s *domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	s.ID = r.seq
	cp := *s
	r.sessions[s.ID] = &cp
	return nil
}

func (r *memSessionRepo) FindActiveByHash(hash string, now time.Time) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		if s.RefreshTokenHash == hash && s.RevokedAt == nil && s.ExpiresAt.After(now) {
			cp := *s
			return &cp, nil
		}
	}
	return nil, repository.ErrSessionNotFound
}

func (r *memSessionRepo) RevokeByHash(hash string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		if s.RefreshTokenHash == hash && s.RevokedAt == nil {
			t := now
			s.RevokedAt = &t
			return nil
		}
	}
	return repository.ErrSessionNotFound
}

func (r *memSessionRepo) RevokeByAccount(accountID uint, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, s := range r.sessions {
		if s.AccountID == accountID && s.RevokedAt == nil {
			t := now
			s.RevokedAt = &t
			n++
		}
	}
	return n, nil
}

func (r *memSessionRepo) TouchActivity(id uint, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok {
		s.LastActivityAt = now
	}
	return nil
}

func (r *memSessionRepo) DeleteInactiveBefore(cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, s := range r.sessions {
		if !s.ExpiresAt.After(cutoff) || (s.RevokedAt != nil && s.RevokedAt.Before(cutoff)) {
			delete(r.sessions, id)
			n++
		}
	}
	return n, nil
}

func (r *memSessionRepo) CountInactiveBefore(cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, s := range r.sessions {
		if !s.ExpiresAt.After(cutoff) || (s.RevokedAt != nil && s.RevokedAt.Before(cutoff)) {
			n++
		}
	}
	return n, nil
}

func (r *memSessionRepo) CountActiveByAccount(accountID uint, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, s := range r.sessions {
		if s.AccountID == accountID && s.RevokedAt == nil && s.ExpiresAt.After(now) {
			n++
		}
	}
	return n, nil
}

// memNotifier records outgoing mail for assertions.
type memNotifier struct {
	mu            sync.Mutex
	verifications []VerificationNotification
	resets        []PasswordResetNotification
	failErr       error
}

func (n *memNotifier) SendEmailVerification(_ context.Context, msg VerificationNotification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.failErr != nil {
		return n.failErr
	}
	n.verifications = append(n.verifications, msg)
	return nil
}

func (n *memNotifier) SendPasswordReset(_ context.Context, msg PasswordResetNotification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.failErr != nil {
		return n.failErr
	}
	n.resets = append(n.resets, msg)
	return nil
}

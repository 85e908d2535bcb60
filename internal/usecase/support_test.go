package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/techsupport4/crm-auth/internal/core/domain"
	"github.com/techsupport4/crm-auth/internal/core/port"
	"github.com/techsupport4/crm-auth/internal/repository"
)

// In-memory fakes for the persistence ports. All of them are safe for
// concurrent use so concurrency tests can share them.

type memUserRepo struct {
	mu    sync.Mutex
	users map[string]domain.User
}

func newMemUserRepo(users ...domain.User) *memUserRepo {
	r := &memUserRepo{users: make(map[string]domain.User)}
	for _, u := range users {
		u.Email = domain.NormalizeEmail(u.Email)
		r.users[u.ID] = u
	}
	return r
}

func (r *memUserRepo) Create(_ context.Context, user domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user.Email = domain.NormalizeEmail(user.Email)
	r.users[user.ID] = user
	return nil
}

func (r *memUserRepo) GetByID(_ context.Context, id string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := u
	return &copied, nil
}

func (r *memUserRepo) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	email = domain.NormalizeEmail(email)
	for _, u := range r.users {
		if u.Email == email {
			copied := u
			return &copied, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *memUserRepo) List(context.Context) ([]domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.User, 0, len(r.users))
	for _, u := range r.users {
		out = append(out, u)
	}
	return out, nil
}

func (r *memUserRepo) UpdateProfile(_ context.Context, id, name, email string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	u.Name = name
	u.Email = domain.NormalizeEmail(email)
	r.users[id] = u
	return nil
}

func (r *memUserRepo) UpdateRole(_ context.Context, id string, role domain.Role) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	u.Role = role
	r.users[id] = u
	return nil
}

func (r *memUserRepo) UpdatePermissions(_ context.Context, id string, perms domain.Permissions) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	u.Permissions = perms
	r.users[id] = u
	return nil
}

func (r *memUserRepo) UpdatePassword(_ context.Context, id string, passwordHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	u.PasswordHash = passwordHash
	r.users[id] = u
	return nil
}

func (r *memUserRepo) SetActive(_ context.Context, id string, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	u.IsActive = active
	r.users[id] = u
	return nil
}

func (r *memUserRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.users, id)
	return nil
}

//

type memTokenRepo struct {
	mu     sync.Mutex
	tokens map[string]domain.RefreshToken
}

func newMemTokenRepo() *memTokenRepo {
	return &memTokenRepo{tokens: make(map[string]domain.RefreshToken)}
}

func (r *memTokenRepo) Create(_ context.Context, token domain.RefreshToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokens[token.ID] = token
	return nil
}

func (r *memTokenRepo) GetByHash(_ context.Context, hash string) (*domain.RefreshToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.tokens {
		if t.TokenHash == hash {
			copied := t
			return &copied, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *memTokenRepo) Rotate(_ context.Context, presentedID string, next domain.RefreshToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	presented, ok := r.tokens[presentedID]
	if !ok || presented.Revoked {
		return repository.ErrNotFound
	}
	presented.Revoked = true
	r.tokens[presentedID] = presented
	r.tokens[next.ID] = next
	return nil
}

func (r *memTokenRepo) RevokeFamily(_ context.Context, family string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	revoked := 0
	for id, t := range r.tokens {
		if t.Family == family && !t.Revoked {
			t.Revoked = true
			r.tokens[id] = t
			revoked++
		}
	}
	return revoked, nil
}

func (r *memTokenRepo) RevokeByUser(_ context.Context, userID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	revoked := 0
	for id, t := range r.tokens {
		if t.UserID == userID && !t.Revoked {
			t.Revoked = true
			r.tokens[id] = t
			revoked++
		}
	}
	return revoked, nil
}

func (r *memTokenRepo) Cleanup(_ context.Context, before time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	deleted := 0
	for id, t := range r.tokens {
		if t.ExpiresAt.Before(before) || (t.Revoked && t.CreatedAt.Before(before.Add(-24*time.Hour))) {
			delete(r.tokens, id)
			deleted++
		}
	}
	return deleted, nil
}

func (r *memTokenRepo) get(id string) (domain.RefreshToken, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tokens[id]
	return t, ok
}

func (r *memTokenRepo) activeCount(family string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, t := range r.tokens {
		if t.Family == family && !t.Revoked {
			count++
		}
	}
	return count
}

//

type memOTPRepo struct {
	mu       sync.Mutex
	codes    map[string]domain.OneTimeCode
	attempts []domain.OTPAttempt
}

func newMemOTPRepo() *memOTPRepo {
	return &memOTPRepo{codes: make(map[string]domain.OneTimeCode)}
}

func (r *memOTPRepo) Replace(_ context.Context, code domain.OneTimeCode) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, c := range r.codes {
		if c.UserID == code.UserID && !c.Used {
			c.Used = true
			r.codes[id] = c
		}
	}
	kept := r.attempts[:0]
	for _, a := range r.attempts {
		if a.UserID != code.UserID {
			kept = append(kept, a)
		}
	}
	r.attempts = kept
	r.codes[code.ID] = code
	return nil
}

func (r *memOTPRepo) TouchSent(_ context.Context, id string, sentAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.codes[id]
	if !ok || c.Used {
		return repository.ErrNotFound
	}
	c.LastSentAt = sentAt
	r.codes[id] = c
	return nil
}

func (r *memOTPRepo) GetActiveByUser(_ context.Context, userID string, now time.Time) (*domain.OneTimeCode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var latest *domain.OneTimeCode
	for _, c := range r.codes {
		if c.UserID != userID || !c.Active(now) {
			continue
		}
		copied := c
		if latest == nil || copied.CreatedAt.After(latest.CreatedAt) {
			latest = &copied
		}
	}
	if latest == nil {
		return nil, repository.ErrNotFound
	}
	return latest, nil
}

func (r *memOTPRepo) MarkUsed(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.codes[id]
	if !ok || c.Used {
		return repository.ErrNotFound
	}
	c.Used = true
	r.codes[id] = c
	return nil
}

func (r *memOTPRepo) RecordAttempt(_ context.Context, attempt domain.OTPAttempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts = append(r.attempts, attempt)
	return nil
}

func (r *memOTPRepo) CountAttemptsSince(_ context.Context, userID string, since time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, a := range r.attempts {
		if a.UserID == userID && !a.AttemptedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (r *memOTPRepo) ClearAttempts(_ context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.attempts[:0]
	for _, a := range r.attempts {
		if a.UserID != userID {
			kept = append(kept, a)
		}
	}
	r.attempts = kept
	return nil
}

func (r *memOTPRepo) latestActive(userID string, now time.Time) (domain.OneTimeCode, bool) {
	code, err := r.GetActiveByUser(context.Background(), userID, now)
	if err != nil {
		return domain.OneTimeCode{}, false
	}
	return *code, true
}

//

type memPendingStore struct {
	mu      sync.Mutex
	entries map[string]string
}

func newMemPendingStore() *memPendingStore {
	return &memPendingStore{entries: make(map[string]string)}
}

func (s *memPendingStore) Put(_ context.Context, handle, userID string, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[handle] = userID
	return nil
}

func (s *memPendingStore) Get(_ context.Context, handle string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	userID, ok := s.entries[handle]
	if !ok {
		return "", repository.ErrNotFound
	}
	return userID, nil
}

func (s *memPendingStore) Delete(_ context.Context, handle string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, handle)
	return nil
}

//

type memRateStore struct {
	mu     sync.Mutex
	counts map[string]int
	err    error
}

func newMemRateStore() *memRateStore {
	return &memRateStore{counts: make(map[string]int)}
}

func (s *memRateStore) Hit(_ context.Context, key string, _ time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return 0, s.err
	}
	s.counts[key]++
	return s.counts[key], nil
}

func (s *memRateStore) Count(_ context.Context, key string, _ time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return 0, s.err
	}
	return s.counts[key], nil
}

func (s *memRateStore) Reset(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	delete(s.counts, key)
	return nil
}

//

type recordingMailer struct {
	mu       sync.Mutex
	sent     []string
	codes    []string
	alerts   []port.LoginAlert
	welcomed []string
	err      error
}

func (m *recordingMailer) SendLoginCode(_ context.Context, to, _ string, code string, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, to)
	m.codes = append(m.codes, code)
	return nil
}

func (m *recordingMailer) SendLoginAlert(_ context.Context, to, _ string, alert port.LoginAlert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, to)
	m.alerts = append(m.alerts, alert)
	return nil
}

func (m *recordingMailer) SendWelcome(_ context.Context, to, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.welcomed = append(m.welcomed, to)
	return nil
}

func (m *recordingMailer) alertCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.alerts)
}

func (m *recordingMailer) lastCode() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.codes) == 0 {
		return "", false
	}
	return m.codes[len(m.codes)-1], true
}

//

type memEventRepo struct {
	mu     sync.Mutex
	events []domain.SecurityEvent
}

func (r *memEventRepo) Append(_ context.Context, event domain.SecurityEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *memEventRepo) List(_ context.Context, limit int) ([]domain.SecurityEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.SecurityEvent, 0, len(r.events))
	for i := len(r.events) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, r.events[i])
	}
	return out, nil
}

func (r *memEventRepo) countByType(eventType domain.SecurityEventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, e := range r.events {
		if e.Type == eventType {
			count++
		}
	}
	return count
}

var errStoreDown = errors.New("store unavailable")

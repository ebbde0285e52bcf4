package store

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/skillsy/backend/internal/models"
)

// MemoryStore keeps everything in process. Each InTx holds one mutex for its
// whole duration, so transactions are serializable. Used by tests and by the
// server when no database is configured.
type MemoryStore struct {
	mu           sync.Mutex
	accounts     map[string]models.Account
	sessions     map[string]models.Session
	transactions []models.CreditTransaction
	paid         map[string]bool
	faults       map[string][]error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[string]models.Account),
		sessions: make(map[string]models.Session),
		paid:     make(map[string]bool),
		faults:   make(map[string][]error),
	}
}

// FailNext makes the next call of op inside a transaction return err.
// op is a Tx method name such as "InsertTransaction".
func (m *MemoryStore) FailNext(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.faults[op] = append(m.faults[op], err)
}

// PutAccount seeds or replaces an account.
func (m *MemoryStore) PutAccount(acc models.Account) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[acc.UserID] = acc
}

// PutSession seeds or replaces a session.
func (m *MemoryStore) PutSession(s models.Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
}

// Transactions returns a copy of the full log in insertion order.
func (m *MemoryStore) Transactions() []models.CreditTransaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.transactions)
}

type memorySnapshot struct {
	accounts map[string]models.Account
	sessions map[string]models.Session
	paid     map[string]bool
	txCount  int
}

func (m *MemoryStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.takeFault("InTx"); err != nil {
		return err
	}

	snap := memorySnapshot{
		accounts: cloneMap(m.accounts),
		sessions: cloneMap(m.sessions),
		paid:     cloneMap(m.paid),
		txCount:  len(m.transactions),
	}
	if err := fn(&memoryTx{m: m}); err != nil {
		m.accounts = snap.accounts
		m.sessions = snap.sessions
		m.paid = snap.paid
		m.transactions = m.transactions[:snap.txCount]
		return err
	}
	return nil
}

func (m *MemoryStore) GetAccount(_ context.Context, userID string) (*models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acc, ok := m.accounts[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return &acc, nil
}

func (m *MemoryStore) ListTransactions(_ context.Context, userID string, cursor *models.TransactionCursor, limit int) ([]models.CreditTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.CreditTransaction
	for _, t := range m.transactions {
		if !t.Involves(userID) {
			continue
		}
		if cursor != nil && !olderThan(t, *cursor) {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func olderThan(t models.CreditTransaction, c models.TransactionCursor) bool {
	if t.CreatedAt.Equal(c.CreatedAt) {
		return t.ID < c.ID
	}
	return t.CreatedAt.Before(c.CreatedAt)
}

func (m *MemoryStore) GetSession(_ context.Context, sessionID string) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return &s, nil
}

func (m *MemoryStore) ListSessions(_ context.Context, userID string, mode models.Mode) ([]models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.Session
	for _, s := range m.sessions {
		side := s.LearnerID
		if mode == models.ModeMentor {
			side = s.MentorID
		}
		if side == userID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.After(out[j].ScheduledAt) })
	return out, nil
}

func (m *MemoryStore) ListUnsettledSessions(_ context.Context, limit int) ([]models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.Session
	for _, s := range m.sessions {
		if s.Status == models.SessionCompleted && s.Total().IsPositive() && !m.paid[s.ID] {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) takeFault(op string) error {
	q := m.faults[op]
	if len(q) == 0 {
		return nil
	}
	m.faults[op] = q[1:]
	return q[0]
}

func cloneMap[K comparable, V any](in map[K]V) map[K]V {
	out := make(map[K]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// memoryTx runs with MemoryStore.mu held.
type memoryTx struct {
	m *MemoryStore
}

func (t *memoryTx) CreateAccount(_ context.Context, acc *models.Account) (bool, error) {
	if err := t.m.takeFault("CreateAccount"); err != nil {
		return false, err
	}
	if existing, ok := t.m.accounts[acc.UserID]; ok {
		*acc = existing
		return false, nil
	}
	now := time.Now().UTC()
	acc.CreatedAt, acc.UpdatedAt = now, now
	acc.Version = 1
	t.m.accounts[acc.UserID] = *acc
	return true, nil
}

func (t *memoryTx) LockAccounts(_ context.Context, userIDs ...string) (map[string]*models.Account, error) {
	if err := t.m.takeFault("LockAccounts"); err != nil {
		return nil, err
	}
	out := make(map[string]*models.Account, len(userIDs))
	for _, id := range userIDs {
		acc, ok := t.m.accounts[id]
		if !ok {
			return nil, ErrNotFound
		}
		out[id] = &acc
	}
	return out, nil
}

func (t *memoryTx) UpdateAccount(_ context.Context, acc *models.Account) error {
	if err := t.m.takeFault("UpdateAccount"); err != nil {
		return err
	}
	current, ok := t.m.accounts[acc.UserID]
	if !ok {
		return ErrNotFound
	}
	if current.Version != acc.Version {
		return ErrConflict
	}
	acc.Version++
	acc.UpdatedAt = time.Now().UTC()
	t.m.accounts[acc.UserID] = *acc
	return nil
}

func (t *memoryTx) InsertTransaction(_ context.Context, ct *models.CreditTransaction) error {
	if err := t.m.takeFault("InsertTransaction"); err != nil {
		return err
	}
	if ct.SessionID != nil {
		if t.m.paid[*ct.SessionID] {
			return ErrDuplicate
		}
		t.m.paid[*ct.SessionID] = true
	}
	if ct.CreatedAt.IsZero() {
		ct.CreatedAt = time.Now().UTC()
	}
	t.m.transactions = append(t.m.transactions, *ct)
	return nil
}

func (t *memoryTx) SessionPaid(_ context.Context, sessionID string) (bool, error) {
	if err := t.m.takeFault("SessionPaid"); err != nil {
		return false, err
	}
	return t.m.paid[sessionID], nil
}

func (t *memoryTx) GetSession(_ context.Context, sessionID string) (*models.Session, error) {
	s, ok := t.m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return &s, nil
}

func (t *memoryTx) CompleteSession(_ context.Context, sessionID, mentorID string, at time.Time) (*models.Session, error) {
	if err := t.m.takeFault("CompleteSession"); err != nil {
		return nil, err
	}
	s, ok := t.m.sessions[sessionID]
	if !ok || s.MentorID != mentorID || !s.Status.Open() {
		return nil, ErrNotFound
	}
	s.Status = models.SessionCompleted
	s.CompletedAt = &at
	t.m.sessions[sessionID] = s
	return &s, nil
}

func (t *memoryTx) TransitionSession(_ context.Context, sessionID string, from []models.SessionStatus, to models.SessionStatus) (*models.Session, error) {
	if err := t.m.takeFault("TransitionSession"); err != nil {
		return nil, err
	}
	s, ok := t.m.sessions[sessionID]
	if !ok || !slices.Contains(from, s.Status) {
		return nil, ErrNotFound
	}
	s.Status = to
	t.m.sessions[sessionID] = s
	return &s, nil
}

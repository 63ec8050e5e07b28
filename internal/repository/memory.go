package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ruralpay/ledger/internal/models"
	"github.com/shopspring/decimal"
)

// MemoryStore is an in-process Store. A single mutex makes every method
// atomic, so ApplyDelta has the same guarantees as the SQL conditional update.
type MemoryStore struct {
	mu            sync.Mutex
	nextAccount   int64
	nextTx        int64
	nextNote      int64
	accounts      map[int64]*models.Account
	transactions  map[int64]*models.Transaction
	notifications []models.Notification
	users         map[string]*models.User
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:     make(map[int64]*models.Account),
		transactions: make(map[int64]*models.Transaction),
		users:        make(map[string]*models.User),
	}
}

// AddAccount stores a copy of a and assigns an id when a.ID is zero.
func (m *MemoryStore) AddAccount(a models.Account) *models.Account {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.ID == 0 {
		m.nextAccount++
		a.ID = m.nextAccount
	} else if a.ID > m.nextAccount {
		m.nextAccount = a.ID
	}
	if a.UpdatedAt.IsZero() {
		a.UpdatedAt = time.Now()
	}
	m.accounts[a.ID] = &a
	cp := a
	return &cp
}

func (m *MemoryStore) AddUser(u models.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = &u
}

func (m *MemoryStore) GetAccount(_ context.Context, id int64) (*models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *MemoryStore) ListAccounts(_ context.Context, ownerID string) ([]models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.Account{}
	for _, a := range m.accounts {
		if a.OwnerID == ownerID {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) ApplyDelta(_ context.Context, id int64, delta decimal.Decimal) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.applyLocked(id, delta, true)
}

// applyLocked changes the balance only when every check passes.
func (m *MemoryStore) applyLocked(id int64, delta decimal.Decimal, guarded bool) (decimal.Decimal, error) {
	a, ok := m.accounts[id]
	if !ok {
		return decimal.Zero, ErrNotFound
	}
	next := a.Balance.Add(delta)
	if guarded {
		if a.IsFrozen {
			return decimal.Zero, ErrAccountFrozen
		}
		if next.IsNegative() {
			return decimal.Zero, ErrInsufficientFunds
		}
	}
	a.Balance = next
	a.Version++
	a.UpdatedAt = time.Now()
	return next, nil
}

func (m *MemoryStore) PostEntry(_ context.Context, entry *models.Transaction) (*models.Transaction, decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	balance, err := m.applyLocked(entry.AccountID, entry.Amount, true)
	if err != nil {
		return nil, decimal.Zero, err
	}
	return m.insertLocked(entry), balance, nil
}

func (m *MemoryStore) ReverseEntry(_ context.Context, reversal *models.Transaction, guarded bool) (*models.Transaction, decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if reversal.ReversalOf == nil {
		return nil, decimal.Zero, ErrNotFound
	}
	original, ok := m.transactions[*reversal.ReversalOf]
	if !ok {
		return nil, decimal.Zero, ErrNotFound
	}
	if original.Reversed || original.ReversalOf != nil {
		return nil, decimal.Zero, ErrAlreadyReversed
	}
	balance, err := m.applyLocked(reversal.AccountID, reversal.Amount, guarded)
	if err != nil {
		return nil, decimal.Zero, err
	}
	original.Reversed = true
	return m.insertLocked(reversal), balance, nil
}

func (m *MemoryStore) SetFrozen(_ context.Context, id int64, frozen bool) (*models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return nil, ErrNotFound
	}
	a.IsFrozen = frozen
	a.UpdatedAt = time.Now()
	cp := *a
	return &cp, nil
}

func (m *MemoryStore) InsertTransaction(_ context.Context, tx *models.Transaction) (*models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertLocked(tx), nil
}

func (m *MemoryStore) insertLocked(tx *models.Transaction) *models.Transaction {
	m.nextTx++
	stored := *tx
	stored.ID = m.nextTx
	if tx.ReversalOf != nil {
		ref := *tx.ReversalOf
		stored.ReversalOf = &ref
	}
	m.transactions[stored.ID] = &stored
	out := stored
	return &out
}

func (m *MemoryStore) GetTransaction(_ context.Context, id int64) (*models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.transactions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *MemoryStore) ListTransactions(_ context.Context, accountID int64, limit int) ([]models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.Transaction{}
	for _, t := range m.transactions {
		if t.AccountID == accountID {
			out = append(out, *t)
		}
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

func (m *MemoryStore) SumAmounts(_ context.Context, accountID int64) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sum := decimal.Zero
	for _, t := range m.transactions {
		if t.AccountID == accountID {
			sum = sum.Add(t.Amount)
		}
	}
	return sum, nil
}

func (m *MemoryStore) MarkReversed(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.transactions[id]
	if !ok {
		return ErrNotFound
	}
	if t.Reversed || t.ReversalOf != nil {
		return ErrAlreadyReversed
	}
	t.Reversed = true
	return nil
}

func (m *MemoryStore) InsertNotification(_ context.Context, n *models.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextNote++
	n.ID = m.nextNote
	m.notifications = append(m.notifications, *n)
	return nil
}

// Notifications returns a copy of every stored notification.
func (m *MemoryStore) Notifications() []models.Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Notification(nil), m.notifications...)
}

func (m *MemoryStore) GetUser(_ context.Context, id string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

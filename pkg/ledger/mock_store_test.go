package ledger

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/mcclellann/microloans/pkg/models"
	"github.com/mcclellann/microloans/pkg/store"
)

// MockStore is a simple in-memory implementation of the Storage interface for testing.
// It hands out copies so callers can't mutate stored records in place.
type MockStore struct {
	workers      map[uuid.UUID]models.Worker
	clients      map[uuid.UUID]models.Client
	loans        map[uuid.UUID]models.Loan
	installments []models.Installment
}

func NewMockStore() *MockStore {
	return &MockStore{
		workers: make(map[uuid.UUID]models.Worker),
		clients: make(map[uuid.UUID]models.Client),
		loans:   make(map[uuid.UUID]models.Loan),
	}
}

func (m *MockStore) CreateWorker(_ context.Context, w *models.Worker) error {
	for _, existing := range m.workers {
		if existing.Username == w.Username {
			return fmt.Errorf("%w: username %s", store.ErrDuplicate, w.Username)
		}
	}
	m.workers[w.ID] = *w
	return nil
}

func (m *MockStore) GetWorker(_ context.Context, id uuid.UUID) (*models.Worker, error) {
	w, ok := m.workers[id]
	if !ok {
		return nil, fmt.Errorf("worker %w", store.ErrNotFound)
	}
	return &w, nil
}

func (m *MockStore) UpdateWorker(_ context.Context, w *models.Worker) error {
	if _, ok := m.workers[w.ID]; !ok {
		return fmt.Errorf("worker %w", store.ErrNotFound)
	}
	m.workers[w.ID] = *w
	return nil
}

func (m *MockStore) DeleteWorker(_ context.Context, id uuid.UUID) error {
	if _, ok := m.workers[id]; !ok {
		return fmt.Errorf("worker %w", store.ErrNotFound)
	}
	for cid, c := range m.clients {
		if c.WorkerID != nil && *c.WorkerID == id {
			c.WorkerID = nil
			m.clients[cid] = c
		}
	}
	delete(m.workers, id)
	return nil
}

func (m *MockStore) ListWorkers(_ context.Context) ([]*models.Worker, error) {
	workers := []*models.Worker{}
	for _, w := range m.workers {
		w := w
		workers = append(workers, &w)
	}
	sort.Slice(workers, func(i, j int) bool { return workers[i].Name < workers[j].Name })
	return workers, nil
}

func (m *MockStore) CreateClient(_ context.Context, c *models.Client) error {
	for _, existing := range m.clients {
		if existing.DNI == c.DNI {
			return fmt.Errorf("%w: dni %s", store.ErrDuplicate, c.DNI)
		}
	}
	m.clients[c.ID] = *c
	return nil
}

func (m *MockStore) GetClient(_ context.Context, id uuid.UUID) (*models.Client, error) {
	c, ok := m.clients[id]
	if !ok {
		return nil, fmt.Errorf("client %w", store.ErrNotFound)
	}
	return &c, nil
}

func (m *MockStore) UpdateClient(_ context.Context, c *models.Client) error {
	if _, ok := m.clients[c.ID]; !ok {
		return fmt.Errorf("client %w", store.ErrNotFound)
	}
	m.clients[c.ID] = *c
	return nil
}

func (m *MockStore) DeleteClient(ctx context.Context, id uuid.UUID) error {
	if _, ok := m.clients[id]; !ok {
		return fmt.Errorf("client %w", store.ErrNotFound)
	}
	for lid, l := range m.loans {
		if l.ClientID == id {
			m.DeleteLoan(ctx, lid)
		}
	}
	delete(m.clients, id)
	return nil
}

func (m *MockStore) ListClients(_ context.Context) ([]*models.Client, error) {
	return m.filterClients(func(models.Client) bool { return true }), nil
}

func (m *MockStore) SearchClients(_ context.Context, term string) ([]*models.Client, error) {
	term = strings.ToLower(term)
	return m.filterClients(func(c models.Client) bool {
		return strings.Contains(strings.ToLower(c.Name), term) || strings.Contains(strings.ToLower(c.DNI), term)
	}), nil
}

func (m *MockStore) filterClients(keep func(models.Client) bool) []*models.Client {
	clients := []*models.Client{}
	for _, c := range m.clients {
		if keep(c) {
			c := c
			clients = append(clients, &c)
		}
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i].Name < clients[j].Name })
	return clients
}

func (m *MockStore) CreateLoan(_ context.Context, loan *models.Loan) error {
	if _, ok := m.clients[loan.ClientID]; !ok {
		return fmt.Errorf("%w: referenced record", store.ErrNotFound)
	}
	m.loans[loan.ID] = *loan
	return nil
}

func (m *MockStore) GetLoan(_ context.Context, id uuid.UUID) (*models.Loan, error) {
	loan, ok := m.loans[id]
	if !ok {
		return nil, fmt.Errorf("loan %w", store.ErrNotFound)
	}
	return &loan, nil
}

func (m *MockStore) UpdateLoan(_ context.Context, loan *models.Loan) error {
	if _, ok := m.loans[loan.ID]; !ok {
		return fmt.Errorf("loan %w", store.ErrNotFound)
	}
	m.loans[loan.ID] = *loan
	return nil
}

func (m *MockStore) DeleteLoan(_ context.Context, id uuid.UUID) error {
	if _, ok := m.loans[id]; !ok {
		return fmt.Errorf("loan %w", store.ErrNotFound)
	}
	kept := m.installments[:0]
	for _, inst := range m.installments {
		if inst.LoanID != id {
			kept = append(kept, inst)
		}
	}
	m.installments = kept
	delete(m.loans, id)
	return nil
}

func (m *MockStore) ListLoans(_ context.Context) ([]*models.Loan, error) {
	return m.filterLoans(func(models.Loan) bool { return true }), nil
}

func (m *MockStore) ListOpenLoans(_ context.Context) ([]*models.Loan, error) {
	return m.filterLoans(func(l models.Loan) bool { return l.Status.Open() }), nil
}

func (m *MockStore) ListLoansByClient(_ context.Context, clientID uuid.UUID) ([]*models.Loan, error) {
	return m.filterLoans(func(l models.Loan) bool { return l.ClientID == clientID }), nil
}

// filterLoans returns matches newest start date first.
func (m *MockStore) filterLoans(keep func(models.Loan) bool) []*models.Loan {
	loans := []*models.Loan{}
	for _, l := range m.loans {
		if keep(l) {
			l := l
			loans = append(loans, &l)
		}
	}
	sort.Slice(loans, func(i, j int) bool {
		if !loans[i].StartDate.Equal(loans[j].StartDate.Time) {
			return loans[i].StartDate.After(loans[j].StartDate.Time)
		}
		return loans[i].CreatedAt.After(loans[j].CreatedAt)
	})
	return loans
}

func (m *MockStore) CreateInstallment(_ context.Context, inst *models.Installment) error {
	if _, ok := m.loans[inst.LoanID]; !ok {
		return fmt.Errorf("%w: referenced record", store.ErrNotFound)
	}
	m.installments = append(m.installments, *inst)
	return nil
}

func (m *MockStore) ListInstallments(_ context.Context, loanID uuid.UUID) ([]*models.Installment, error) {
	insts := []*models.Installment{}
	for _, inst := range m.installments {
		if inst.LoanID == loanID {
			inst := inst
			insts = append(insts, &inst)
		}
	}
	sort.SliceStable(insts, func(i, j int) bool { return insts[i].PaymentDate.Before(insts[j].PaymentDate.Time) })
	return insts, nil
}

func (m *MockStore) WithTx(_ context.Context, fn func(store.Storage) error) error {
	return fn(m)
}

func (m *MockStore) Close() error {
	return nil
}

package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/mcclellann/microloans/pkg/models"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("already exists")
)

// Storage defines the repository operations for workers, clients, loans and
// installments.
type Storage interface {
	CreateWorker(ctx context.Context, worker *models.Worker) error
	GetWorker(ctx context.Context, id uuid.UUID) (*models.Worker, error)
	UpdateWorker(ctx context.Context, worker *models.Worker) error
	// DeleteWorker removes the worker and detaches it from its clients.
	DeleteWorker(ctx context.Context, id uuid.UUID) error
	ListWorkers(ctx context.Context) ([]*models.Worker, error)

	CreateClient(ctx context.Context, client *models.Client) error
	GetClient(ctx context.Context, id uuid.UUID) (*models.Client, error)
	UpdateClient(ctx context.Context, client *models.Client) error
	// DeleteClient removes the client with its loans and their installments.
	DeleteClient(ctx context.Context, id uuid.UUID) error
	ListClients(ctx context.Context) ([]*models.Client, error)
	// SearchClients matches name or DNI, case-insensitively.
	SearchClients(ctx context.Context, term string) ([]*models.Client, error)

	CreateLoan(ctx context.Context, loan *models.Loan) error
	GetLoan(ctx context.Context, id uuid.UUID) (*models.Loan, error)
	UpdateLoan(ctx context.Context, loan *models.Loan) error
	DeleteLoan(ctx context.Context, id uuid.UUID) error
	ListLoans(ctx context.Context) ([]*models.Loan, error)
	// ListOpenLoans returns loans in the activo or vencido state.
	ListOpenLoans(ctx context.Context) ([]*models.Loan, error)
	// ListLoansByClient returns a client's loans, newest start date first.
	ListLoansByClient(ctx context.Context, clientID uuid.UUID) ([]*models.Loan, error)

	CreateInstallment(ctx context.Context, installment *models.Installment) error
	// ListInstallments returns a loan's installments in payment order.
	ListInstallments(ctx context.Context, loanID uuid.UUID) ([]*models.Installment, error)

	// WithTx runs fn against a Storage bound to a single transaction,
	// committing when fn returns nil.
	WithTx(ctx context.Context, fn func(Storage) error) error

	Close() error
}

package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/microloans/pkg/models"
	"github.com/mcclellann/microloans/pkg/store"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Ledger handles the business logic for clients, loans and installments.
type Ledger struct {
	storage store.Storage
	logger  *logrus.Logger
	loc     *time.Location
	now     func() time.Time
}

type Option func(*Ledger)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// NewLedger creates a new Ledger with a given Storage implementation. Due
// dates are evaluated in loc; nil means UTC.
func NewLedger(s store.Storage, logger *logrus.Logger, loc *time.Location, opts ...Option) *Ledger {
	if loc == nil {
		loc = time.UTC
	}
	l := &Ledger{
		storage: s,
		logger:  logger,
		loc:     loc,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Now is the current time in the ledger's location.
func (l *Ledger) Now() time.Time {
	return l.now().In(l.loc)
}

func (l *Ledger) Today() models.Date {
	return models.DateOf(l.Now())
}

func (l *Ledger) stamp() time.Time {
	return l.now().UTC()
}

type WorkerInput struct {
	Username string
	Name     string
	DNI      string
	Phone    string
}

type ClientInput struct {
	DNI      string
	Name     string
	Address  string
	Phone    string
	WorkerID *uuid.UUID
}

// LoanInput describes a new credit. A zero StartDate means today.
type LoanInput struct {
	Principal    decimal.Decimal
	InterestRate decimal.Decimal
	Frequency    string
	StartDate    models.Date
}

// RefinanceResult pairs the closed loan with the one replacing it.
type RefinanceResult struct {
	Original    LoanView `json:"prestamo_original"`
	Replacement LoanView `json:"prestamo_nuevo"`
}

// Workers

func (l *Ledger) CreateWorker(ctx context.Context, in WorkerInput) (*models.Worker, error) {
	now := l.stamp()
	w := &models.Worker{
		ID:        uuid.New(),
		Username:  strings.TrimSpace(in.Username),
		Name:      strings.TrimSpace(in.Name),
		DNI:       strings.TrimSpace(in.DNI),
		Phone:     strings.TrimSpace(in.Phone),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := l.storage.CreateWorker(ctx, w); err != nil {
		return nil, err
	}
	l.logger.WithFields(logrus.Fields{"worker_id": w.ID, "username": w.Username}).Info("worker created")
	return w, nil
}

func (l *Ledger) GetWorker(ctx context.Context, id uuid.UUID) (*models.Worker, error) {
	return l.storage.GetWorker(ctx, id)
}

func (l *Ledger) ListWorkers(ctx context.Context) ([]*models.Worker, error) {
	return l.storage.ListWorkers(ctx)
}

func (l *Ledger) UpdateWorker(ctx context.Context, id uuid.UUID, in WorkerInput) (*models.Worker, error) {
	var updated *models.Worker
	err := l.storage.WithTx(ctx, func(s store.Storage) error {
		w, err := s.GetWorker(ctx, id)
		if err != nil {
			return err
		}
		w.Username = strings.TrimSpace(in.Username)
		w.Name = strings.TrimSpace(in.Name)
		w.DNI = strings.TrimSpace(in.DNI)
		w.Phone = strings.TrimSpace(in.Phone)
		w.UpdatedAt = l.stamp()
		if err := s.UpdateWorker(ctx, w); err != nil {
			return err
		}
		updated = w
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteWorker removes a worker; its clients stay, unassigned.
func (l *Ledger) DeleteWorker(ctx context.Context, id uuid.UUID) error {
	if err := l.storage.DeleteWorker(ctx, id); err != nil {
		return err
	}
	l.logger.WithField("worker_id", id).Info("worker deleted")
	return nil
}

func checkWorker(ctx context.Context, s store.Storage, id *uuid.UUID) error {
	if id == nil {
		return nil
	}
	if _, err := s.GetWorker(ctx, *id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrInvalidWorker, id)
		}
		return err
	}
	return nil
}

// Clients

// CreateClientWithLoan registers a client together with its first credit.
func (l *Ledger) CreateClientWithLoan(ctx context.Context, in ClientInput, loanIn LoanInput) (*ClientView, error) {
	var view *ClientView
	err := l.storage.WithTx(ctx, func(s store.Storage) error {
		if err := checkWorker(ctx, s, in.WorkerID); err != nil {
			return err
		}
		now := l.stamp()
		client := &models.Client{
			ID:           uuid.New(),
			DNI:          strings.TrimSpace(in.DNI),
			Name:         strings.TrimSpace(in.Name),
			Address:      strings.TrimSpace(in.Address),
			Phone:        strings.TrimSpace(in.Phone),
			WorkerID:     in.WorkerID,
			RegisteredAt: now,
		}
		if err := s.CreateClient(ctx, client); err != nil {
			return err
		}
		loan, err := l.newLoan(ctx, s, client.ID, loanIn)
		if err != nil {
			return err
		}
		view = &ClientView{
			Client:        *client,
			HasActiveLoan: true,
			Loans:         []LoanView{NewLoanView(*loan, l.Now())},
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	l.logger.WithFields(logrus.Fields{"client_id": view.ID, "dni": view.DNI}).Info("client created with loan")
	return view, nil
}

func (l *Ledger) UpdateClient(ctx context.Context, id uuid.UUID, in ClientInput) (*models.Client, error) {
	var updated *models.Client
	err := l.storage.WithTx(ctx, func(s store.Storage) error {
		client, err := s.GetClient(ctx, id)
		if err != nil {
			return err
		}
		if err := checkWorker(ctx, s, in.WorkerID); err != nil {
			return err
		}
		if dni := strings.TrimSpace(in.DNI); dni != "" {
			client.DNI = dni
		}
		client.Name = strings.TrimSpace(in.Name)
		client.Address = strings.TrimSpace(in.Address)
		client.Phone = strings.TrimSpace(in.Phone)
		client.WorkerID = in.WorkerID
		if err := s.UpdateClient(ctx, client); err != nil {
			return err
		}
		updated = client
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteClient removes a client with all of its loans and installments.
func (l *Ledger) DeleteClient(ctx context.Context, id uuid.UUID) error {
	if err := l.storage.DeleteClient(ctx, id); err != nil {
		return err
	}
	l.logger.WithField("client_id", id).Info("client deleted")
	return nil
}

// ListActiveClients returns clients holding an open loan, each with its open
// loans projected to now.
func (l *Ledger) ListActiveClients(ctx context.Context) ([]ClientView, error) {
	views, err := l.clientViews(ctx, l.storage.ListClients)
	if err != nil {
		return nil, err
	}
	active := make([]ClientView, 0, len(views))
	for _, v := range views {
		if !v.HasActiveLoan {
			continue
		}
		open := v.Loans[:0]
		for _, lv := range v.Loans {
			if lv.Status.Open() {
				open = append(open, lv)
			}
		}
		v.Loans = open
		active = append(active, v)
	}
	return active, nil
}

// ListClientsWithoutLoan returns clients with no open loan.
func (l *Ledger) ListClientsWithoutLoan(ctx context.Context) ([]ClientView, error) {
	views, err := l.clientViews(ctx, l.storage.ListClients)
	if err != nil {
		return nil, err
	}
	idle := make([]ClientView, 0, len(views))
	for _, v := range views {
		if !v.HasActiveLoan {
			idle = append(idle, v)
		}
	}
	return idle, nil
}

// SearchClients matches term against name or DNI and returns every loan of
// each match.
func (l *Ledger) SearchClients(ctx context.Context, term string) ([]ClientView, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return []ClientView{}, nil
	}
	return l.clientViews(ctx, func(ctx context.Context) ([]*models.Client, error) {
		return l.storage.SearchClients(ctx, term)
	})
}

func (l *Ledger) clientViews(ctx context.Context, list func(context.Context) ([]*models.Client, error)) ([]ClientView, error) {
	clients, err := list(ctx)
	if err != nil {
		return nil, err
	}
	workers, err := l.workerNames(ctx)
	if err != nil {
		return nil, err
	}

	now := l.Now()
	views := make([]ClientView, 0, len(clients))
	for _, c := range clients {
		loans, err := l.storage.ListLoansByClient(ctx, c.ID)
		if err != nil {
			return nil, err
		}
		v := ClientView{Client: *c, Loans: make([]LoanView, 0, len(loans))}
		if c.WorkerID != nil {
			v.WorkerName = workers[*c.WorkerID]
		}
		for _, loan := range loans {
			projected, _, err := l.project(ctx, l.storage, loan)
			if err != nil {
				return nil, err
			}
			if projected.Status.Open() {
				v.HasActiveLoan = true
			}
			v.Loans = append(v.Loans, NewLoanView(projected, now))
		}
		views = append(views, v)
	}
	return views, nil
}

func (l *Ledger) workerNames(ctx context.Context) (map[uuid.UUID]string, error) {
	workers, err := l.storage.ListWorkers(ctx)
	if err != nil {
		return nil, err
	}
	names := make(map[uuid.UUID]string, len(workers))
	for _, w := range workers {
		names[w.ID] = w.Name
	}
	return names, nil
}

// Loans

// CreateLoan opens a new credit for a client that has no open loan.
func (l *Ledger) CreateLoan(ctx context.Context, clientID uuid.UUID, in LoanInput) (*LoanView, error) {
	var created *models.Loan
	err := l.storage.WithTx(ctx, func(s store.Storage) error {
		if _, err := s.GetClient(ctx, clientID); err != nil {
			return err
		}
		existing, err := s.ListLoansByClient(ctx, clientID)
		if err != nil {
			return err
		}
		for _, loan := range existing {
			if loan.Status.Open() {
				return fmt.Errorf("%w: loan %s", ErrActiveLoanExists, loan.ID)
			}
		}
		created, err = l.newLoan(ctx, s, clientID, in)
		return err
	})
	if err != nil {
		return nil, err
	}
	view := NewLoanView(*created, l.Now())
	return &view, nil
}

func (l *Ledger) newLoan(ctx context.Context, s store.Storage, clientID uuid.UUID, in LoanInput) (*models.Loan, error) {
	start := in.StartDate
	if start.IsZero() {
		start = l.Today()
	}
	loan, err := NewLoan(clientID, in.Principal, in.InterestRate, start, in.Frequency)
	if err != nil {
		return nil, err
	}
	now := l.stamp()
	loan.CreatedAt = now
	loan.UpdatedAt = now
	if err := s.CreateLoan(ctx, &loan); err != nil {
		return nil, err
	}
	l.logger.WithFields(logrus.Fields{
		"loan_id":   loan.ID,
		"client_id": clientID,
		"total":     loan.Total.String(),
	}).Info("loan created")
	return &loan, nil
}

// GetLoan returns the projected loan with its installments.
func (l *Ledger) GetLoan(ctx context.Context, id uuid.UUID) (*LoanView, error) {
	loan, err := l.storage.GetLoan(ctx, id)
	if err != nil {
		return nil, err
	}
	projected, installments, err := l.project(ctx, l.storage, loan)
	if err != nil {
		return nil, err
	}
	view := NewLoanView(projected, l.Now())
	view.Installments = installments
	return &view, nil
}

// UpdateLoanTerms changes principal, rate or frequency of an open loan and
// recomputes its total.
func (l *Ledger) UpdateLoanTerms(ctx context.Context, id uuid.UUID, principal, rate decimal.Decimal, frequency string) (*LoanView, error) {
	var updated models.Loan
	err := l.storage.WithTx(ctx, func(s store.Storage) error {
		loan, err := s.GetLoan(ctx, id)
		if err != nil {
			return err
		}
		repriced, err := Reprice(*loan, principal, rate)
		if err != nil {
			return err
		}
		if frequency != "" {
			repriced.Frequency = frequency
		}
		repriced.UpdatedAt = l.stamp()
		if repriced.Balance.IsZero() {
			paid, err := MarkPaidManually(repriced, l.Today())
			if err != nil {
				return err
			}
			repriced = paid
		}
		projected, _, err := l.project(ctx, s, &repriced)
		if err != nil {
			return err
		}
		if err := s.UpdateLoan(ctx, &projected); err != nil {
			return err
		}
		updated = projected
		return nil
	})
	if err != nil {
		return nil, err
	}
	view := NewLoanView(updated, l.Now())
	return &view, nil
}

// LoanHistory returns every loan of a client, newest first.
func (l *Ledger) LoanHistory(ctx context.Context, clientID uuid.UUID) ([]LoanView, error) {
	if _, err := l.storage.GetClient(ctx, clientID); err != nil {
		return nil, err
	}
	loans, err := l.storage.ListLoansByClient(ctx, clientID)
	if err != nil {
		return nil, err
	}
	now := l.Now()
	views := make([]LoanView, 0, len(loans))
	for _, loan := range loans {
		projected, _, err := l.project(ctx, l.storage, loan)
		if err != nil {
			return nil, err
		}
		views = append(views, NewLoanView(projected, now))
	}
	return views, nil
}

// RegisterInstallment records a payment on date. A zero date means today.
func (l *Ledger) RegisterInstallment(ctx context.Context, loanID uuid.UUID, amount decimal.Decimal, date models.Date, note string) (*InstallmentReceipt, error) {
	if date.IsZero() {
		date = l.Today()
	}

	var receipt *InstallmentReceipt
	err := l.storage.WithTx(ctx, func(s store.Storage) error {
		loan, err := s.GetLoan(ctx, loanID)
		if err != nil {
			return err
		}
		projected, prior, err := l.project(ctx, s, loan)
		if err != nil {
			return err
		}

		updated, inst, completed, err := ApplyInstallment(projected, prior, amount, date, note)
		if err != nil {
			return err
		}
		now := l.stamp()
		inst.CreatedAt = now
		updated.UpdatedAt = now
		updated = Project(updated, append(prior, inst), l.Now())

		if err := s.CreateInstallment(ctx, &inst); err != nil {
			return err
		}
		if err := s.UpdateLoan(ctx, &updated); err != nil {
			return err
		}
		receipt = &InstallmentReceipt{
			Loan:        NewLoanView(updated, l.Now()),
			Installment: inst,
			Completed:   completed,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	entry := l.logger.WithFields(logrus.Fields{
		"loan_id": loanID,
		"amount":  receipt.Installment.Amount.String(),
		"balance": receipt.Loan.Balance.String(),
	})
	if receipt.Completed {
		entry.Info("installment registered, loan paid off")
	} else {
		entry.Info("installment registered")
	}
	return receipt, nil
}

// ListInstallments returns a loan's installments newest first with totals.
func (l *Ledger) ListInstallments(ctx context.Context, loanID uuid.UUID) (*InstallmentHistory, error) {
	loan, err := l.storage.GetLoan(ctx, loanID)
	if err != nil {
		return nil, err
	}
	client, err := l.storage.GetClient(ctx, loan.ClientID)
	if err != nil {
		return nil, err
	}
	projected, installments, err := l.project(ctx, l.storage, loan)
	if err != nil {
		return nil, err
	}

	newestFirst := make([]models.Installment, len(installments))
	for i, inst := range installments {
		newestFirst[len(installments)-1-i] = inst
	}
	return &InstallmentHistory{
		Loan:         NewLoanView(projected, l.Now()),
		ClientName:   client.Name,
		Installments: newestFirst,
		Count:        len(installments),
		TotalPaid:    sumInstallments(installments),
	}, nil
}

// MarkPaid closes a loan regardless of its balance.
func (l *Ledger) MarkPaid(ctx context.Context, loanID uuid.UUID) (*LoanView, error) {
	var updated models.Loan
	err := l.storage.WithTx(ctx, func(s store.Storage) error {
		loan, err := s.GetLoan(ctx, loanID)
		if err != nil {
			return err
		}
		wasPaid := loan.Status == models.LoanStatusPaid
		paid, err := MarkPaidManually(*loan, l.Today())
		if err != nil {
			return err
		}
		if !wasPaid {
			paid.UpdatedAt = l.stamp()
			if err := s.UpdateLoan(ctx, &paid); err != nil {
				return err
			}
		}
		updated, _, err = l.project(ctx, s, &paid)
		return err
	})
	if err != nil {
		return nil, err
	}
	l.logger.WithField("loan_id", loanID).Info("loan marked as paid")
	view := NewLoanView(updated, l.Now())
	return &view, nil
}

// Refinance closes an open loan into a new REF loan at newRate.
func (l *Ledger) Refinance(ctx context.Context, loanID uuid.UUID, newRate decimal.Decimal) (*RefinanceResult, error) {
	var original, replacement models.Loan
	err := l.storage.WithTx(ctx, func(s store.Storage) error {
		loan, err := s.GetLoan(ctx, loanID)
		if err != nil {
			return err
		}
		original, replacement, err = Refinance(*loan, newRate, l.Today())
		if err != nil {
			return err
		}
		now := l.stamp()
		original.UpdatedAt = now
		replacement.CreatedAt = now
		replacement.UpdatedAt = now
		if err := s.UpdateLoan(ctx, &original); err != nil {
			return err
		}
		return s.CreateLoan(ctx, &replacement)
	})
	if err != nil {
		return nil, err
	}

	l.logger.WithFields(logrus.Fields{
		"loan_id":     original.ID,
		"new_loan_id": replacement.ID,
		"principal":   replacement.Principal.String(),
	}).Info("loan refinanced")
	now := l.Now()
	return &RefinanceResult{
		Original:    NewLoanView(original, now),
		Replacement: NewLoanView(replacement, now),
	}, nil
}

func (l *Ledger) DeleteLoan(ctx context.Context, id uuid.UUID) error {
	if err := l.storage.DeleteLoan(ctx, id); err != nil {
		return err
	}
	l.logger.WithField("loan_id", id).Info("loan deleted")
	return nil
}

// Batch and aggregate operations

// RefreshOpenLoans persists the projection of every open loan and returns
// how many loans changed.
func (l *Ledger) RefreshOpenLoans(ctx context.Context) (int, error) {
	loans, err := l.storage.ListOpenLoans(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list open loans: %w", err)
	}

	changed := 0
	for _, loan := range loans {
		projected, _, err := l.project(ctx, l.storage, loan)
		if err != nil {
			l.logger.WithError(err).WithField("loan_id", loan.ID).Error("failed to project loan")
			continue
		}
		if projected.Status == loan.Status && projected.OverdueDebt.Equal(loan.OverdueDebt) {
			continue
		}
		projected.UpdatedAt = l.stamp()
		if err := l.storage.UpdateLoan(ctx, &projected); err != nil {
			l.logger.WithError(err).WithField("loan_id", loan.ID).Error("failed to update loan projection")
			continue
		}
		changed++
	}

	l.logger.WithFields(logrus.Fields{"open": len(loans), "changed": changed}).Info("open loans refreshed")
	return changed, nil
}

// Summary aggregates every loan, projected to now.
func (l *Ledger) Summary(ctx context.Context) (Summary, error) {
	loans, err := l.storage.ListLoans(ctx)
	if err != nil {
		return Summary{}, err
	}
	projected := make([]models.Loan, 0, len(loans))
	for _, loan := range loans {
		p, _, err := l.project(ctx, l.storage, loan)
		if err != nil {
			return Summary{}, err
		}
		projected = append(projected, p)
	}
	return Summarize(projected, l.Now()), nil
}

// DueAlerts lists open loans in the critical or overdue tier, soonest due
// first.
func (l *Ledger) DueAlerts(ctx context.Context) ([]DueAlert, error) {
	loans, err := l.storage.ListOpenLoans(ctx)
	if err != nil {
		return nil, err
	}
	workers, err := l.workerNames(ctx)
	if err != nil {
		return nil, err
	}

	now := l.Now()
	clients := make(map[uuid.UUID]*models.Client)
	alerts := []DueAlert{}
	for _, loan := range loans {
		days := DaysUntil(loan.EndDate, now)
		tier := AlertTierFor(days)
		if tier != models.AlertCritical && tier != models.AlertOverdue {
			continue
		}
		client, ok := clients[loan.ClientID]
		if !ok {
			client, err = l.storage.GetClient(ctx, loan.ClientID)
			if err != nil {
				return nil, err
			}
			clients[loan.ClientID] = client
		}
		alert := DueAlert{
			LoanID:        loan.ID.String(),
			ClientName:    client.Name,
			ClientPhone:   client.Phone,
			EndDate:       loan.EndDate,
			DaysRemaining: days,
			Tier:          tier,
			Balance:       loan.Balance,
		}
		if client.WorkerID != nil {
			alert.WorkerName = workers[*client.WorkerID]
		}
		alerts = append(alerts, alert)
	}
	sort.SliceStable(alerts, func(i, j int) bool {
		return alerts[i].EndDate.Before(alerts[j].EndDate.Time)
	})
	return alerts, nil
}

// project loads the installments of loan and recomputes its derived fields.
func (l *Ledger) project(ctx context.Context, s store.Storage, loan *models.Loan) (models.Loan, []models.Installment, error) {
	stored, err := s.ListInstallments(ctx, loan.ID)
	if err != nil {
		return models.Loan{}, nil, err
	}
	installments := make([]models.Installment, 0, len(stored))
	for _, inst := range stored {
		installments = append(installments, *inst)
	}
	return Project(*loan, installments, l.Now()), installments, nil
}

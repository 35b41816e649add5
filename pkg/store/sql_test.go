package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/microloans/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLStore {
	t.Helper()
	s, err := Open(context.Background(), "sqlite3", filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err, "Failed to create store")
	t.Cleanup(func() { s.Close() })
	return s
}

func testClient(dni string) *models.Client {
	return &models.Client{
		ID:           uuid.New(),
		DNI:          dni,
		Name:         "Cliente " + dni,
		Address:      "Jr. Lima 123",
		Phone:        "987654321",
		RegisteredAt: time.Now().UTC().Truncate(time.Second),
	}
}

func testLoan(clientID uuid.UUID, start models.Date) *models.Loan {
	now := time.Now().UTC().Truncate(time.Second)
	return &models.Loan{
		ID:               uuid.New(),
		ClientID:         clientID,
		Principal:        decimal.RequireFromString("1000"),
		InterestRate:     decimal.RequireFromString("20"),
		Total:            decimal.RequireFromString("1200"),
		Balance:          decimal.RequireFromString("1200"),
		Frequency:        models.DefaultFrequency,
		StartDate:        start,
		EndDate:          start.AddDays(30),
		DailyInstallment: decimal.RequireFromString("54.5454545454545455"),
		Status:           models.LoanStatusActive,
		OverdueDebt:      decimal.Zero,
		Type:             models.LoanTypeCredit,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

func TestSQLStore_Workers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	w := &models.Worker{ID: uuid.New(), Username: "jperez", Name: "Juan Perez", Phone: "900", CreatedAt: now, UpdatedAt: now}
	require.NoError(t, s.CreateWorker(ctx, w))

	// Empty DNIs are stored as NULL and don't collide.
	other := &models.Worker{ID: uuid.New(), Username: "ana", Name: "Ana", CreatedAt: now, UpdatedAt: now}
	require.NoError(t, s.CreateWorker(ctx, other))

	dup := &models.Worker{ID: uuid.New(), Username: "jperez", Name: "Otro", CreatedAt: now, UpdatedAt: now}
	assert.ErrorIs(t, s.CreateWorker(ctx, dup), ErrDuplicate)

	w.Name = "Juan P."
	w.DNI = "44556677"
	require.NoError(t, s.UpdateWorker(ctx, w))

	fetched, err := s.GetWorker(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, "Juan P.", fetched.Name)
	assert.Equal(t, "44556677", fetched.DNI)
	assert.True(t, fetched.CreatedAt.Equal(now))

	workers, err := s.ListWorkers(ctx)
	require.NoError(t, err)
	require.Len(t, workers, 2)
	assert.Equal(t, "Ana", workers[0].Name)
	assert.Empty(t, workers[0].DNI)

	_, err = s.GetWorker(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.UpdateWorker(ctx, &models.Worker{ID: uuid.New(), Username: "x"}), ErrNotFound)
}

func TestSQLStore_DeleteWorkerDetachesClients(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	w := &models.Worker{ID: uuid.New(), Username: "jperez", Name: "Juan", CreatedAt: now, UpdatedAt: now}
	require.NoError(t, s.CreateWorker(ctx, w))
	c := testClient("111")
	c.WorkerID = &w.ID
	require.NoError(t, s.CreateClient(ctx, c))

	require.NoError(t, s.DeleteWorker(ctx, w.ID))

	fetched, err := s.GetClient(ctx, c.ID)
	require.NoError(t, err)
	assert.Nil(t, fetched.WorkerID)
	assert.ErrorIs(t, s.DeleteWorker(ctx, w.ID), ErrNotFound)
}

func TestSQLStore_Clients(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c := testClient("12345678")
	c.Name = "María Quispe"
	require.NoError(t, s.CreateClient(ctx, c))
	require.NoError(t, s.CreateClient(ctx, testClient("87654321")))

	assert.ErrorIs(t, s.CreateClient(ctx, testClient("12345678")), ErrDuplicate)

	ghost := uuid.New()
	orphan := testClient("555")
	orphan.WorkerID = &ghost
	assert.ErrorIs(t, s.CreateClient(ctx, orphan), ErrNotFound, "unknown worker violates the foreign key")

	c.Address = "Av. Grau 456"
	require.NoError(t, s.UpdateClient(ctx, c))
	fetched, err := s.GetClient(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "Av. Grau 456", fetched.Address)
	assert.Nil(t, fetched.WorkerID)

	found, err := s.SearchClients(ctx, "QUISPE")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, c.ID, found[0].ID)

	found, err = s.SearchClients(ctx, "4321")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "87654321", found[0].DNI)

	all, err := s.ListClients(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	for _, term := range []string{"%", "_", `\`} {
		found, err = s.SearchClients(ctx, term)
		require.NoError(t, err)
		assert.Empty(t, found, "wildcard %q must match literally", term)
	}

	pct := testClient("100_200")
	pct.Name = "Tienda 100% Norte"
	require.NoError(t, s.CreateClient(ctx, pct))
	found, err = s.SearchClients(ctx, "100%")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, pct.ID, found[0].ID)

	found, err = s.SearchClients(ctx, "0_2")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "100_200", found[0].DNI)
}

func TestSQLStore_LoanRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	c := testClient("1")
	require.NoError(t, s.CreateClient(ctx, c))

	original := testLoan(c.ID, models.NewDate(2024, time.January, 2))
	require.NoError(t, s.CreateLoan(ctx, original))

	fetched, err := s.GetLoan(ctx, original.ID)
	require.NoError(t, err)
	assert.True(t, fetched.Principal.Equal(original.Principal))
	assert.True(t, fetched.DailyInstallment.Equal(original.DailyInstallment), "decimals keep full precision")
	assert.Equal(t, original.StartDate, fetched.StartDate)
	assert.Equal(t, original.EndDate, fetched.EndDate)
	assert.Equal(t, models.LoanStatusActive, fetched.Status)
	assert.Equal(t, models.LoanTypeCredit, fetched.Type)
	assert.Nil(t, fetched.RefinancedFromID)
	assert.Nil(t, fetched.PaidOffDate)

	replacement := testLoan(c.ID, models.NewDate(2024, time.January, 20))
	replacement.Type = models.LoanTypeRefinancing
	replacement.RefinancedFromID = &original.ID
	require.NoError(t, s.CreateLoan(ctx, replacement))

	paidOn := models.NewDate(2024, time.January, 20)
	original.Status = models.LoanStatusRefinanced
	fetched.Status = models.LoanStatusPaid
	fetched.Balance = decimal.Zero
	fetched.PaidOffDate = &paidOn
	require.NoError(t, s.UpdateLoan(ctx, fetched))

	got, err := s.GetLoan(ctx, original.ID)
	require.NoError(t, err)
	assert.Equal(t, models.LoanStatusPaid, got.Status)
	require.NotNil(t, got.PaidOffDate)
	assert.Equal(t, paidOn, *got.PaidOffDate)

	got, err = s.GetLoan(ctx, replacement.ID)
	require.NoError(t, err)
	require.NotNil(t, got.RefinancedFromID)
	assert.Equal(t, original.ID, *got.RefinancedFromID)

	byClient, err := s.ListLoansByClient(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, byClient, 2)
	assert.Equal(t, replacement.ID, byClient[0].ID, "newest first")

	open, err := s.ListOpenLoans(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, replacement.ID, open[0].ID)

	_, err = s.GetLoan(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLStore_Installments(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	c := testClient("1")
	require.NoError(t, s.CreateClient(ctx, c))
	loan := testLoan(c.ID, models.NewDate(2024, time.March, 4))
	require.NoError(t, s.CreateLoan(ctx, loan))

	dates := []models.Date{
		models.NewDate(2024, time.March, 6),
		models.NewDate(2024, time.March, 4),
		models.NewDate(2024, time.March, 5),
	}
	for i, d := range dates {
		inst := &models.Installment{
			ID:          uuid.New(),
			LoanID:      loan.ID,
			Amount:      decimal.NewFromInt(int64(50 + i)),
			PaymentDate: d,
			Description: "Cuota diaria",
			Timing:      models.PaymentOnTime,
			CreatedAt:   time.Now().UTC(),
		}
		require.NoError(t, s.CreateInstallment(ctx, inst))
	}

	installments, err := s.ListInstallments(ctx, loan.ID)
	require.NoError(t, err)
	require.Len(t, installments, 3)
	assert.Equal(t, models.NewDate(2024, time.March, 4), installments[0].PaymentDate)
	assert.Equal(t, models.NewDate(2024, time.March, 6), installments[2].PaymentDate)
	assert.True(t, installments[2].Amount.Equal(decimal.NewFromInt(50)))

	err = s.CreateInstallment(ctx, &models.Installment{ID: uuid.New(), LoanID: uuid.New(), Amount: decimal.NewFromInt(1),
		PaymentDate: dates[0], Timing: models.PaymentOnTime, CreatedAt: time.Now()})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLStore_DeleteCascades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	c := testClient("1")
	require.NoError(t, s.CreateClient(ctx, c))
	first := testLoan(c.ID, models.NewDate(2024, time.January, 2))
	require.NoError(t, s.CreateLoan(ctx, first))
	second := testLoan(c.ID, models.NewDate(2024, time.February, 2))
	second.RefinancedFromID = &first.ID
	require.NoError(t, s.CreateLoan(ctx, second))
	require.NoError(t, s.CreateInstallment(ctx, &models.Installment{ID: uuid.New(), LoanID: first.ID,
		Amount: decimal.NewFromInt(10), PaymentDate: first.StartDate, Timing: models.PaymentOnTime, CreatedAt: time.Now()}))

	require.NoError(t, s.DeleteLoan(ctx, first.ID))
	got, err := s.GetLoan(ctx, second.ID)
	require.NoError(t, err)
	assert.Nil(t, got.RefinancedFromID)
	installments, err := s.ListInstallments(ctx, first.ID)
	require.NoError(t, err)
	assert.Empty(t, installments)

	require.NoError(t, s.DeleteClient(ctx, c.ID))
	_, err = s.GetLoan(ctx, second.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.DeleteClient(ctx, c.ID), ErrNotFound)
}

func TestSQLStore_WithTxRollsBack(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(tx Storage) error {
		if err := tx.CreateClient(ctx, testClient("1")); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	clients, err := s.ListClients(ctx)
	require.NoError(t, err)
	assert.Empty(t, clients)

	err = s.WithTx(ctx, func(tx Storage) error {
		return tx.CreateClient(ctx, testClient("2"))
	})
	require.NoError(t, err)
	clients, err = s.ListClients(ctx)
	require.NoError(t, err)
	assert.Len(t, clients, 1)
}

func TestParseDialect(t *testing.T) {
	for _, name := range []string{"sqlite3", "SQLite"} {
		d, err := ParseDialect(name)
		require.NoError(t, err)
		assert.Equal(t, DialectSQLite, d)
	}
	d, err := ParseDialect("postgresql")
	require.NoError(t, err)
	assert.Equal(t, DialectPostgres, d)

	_, err = ParseDialect("mysql")
	assert.Error(t, err)
}

func TestRebind(t *testing.T) {
	q := `UPDATE loans SET status = ? WHERE id = ? AND client_id = ?`
	assert.Equal(t, q, DialectSQLite.rebind(q))
	assert.Equal(t, `UPDATE loans SET status = $1 WHERE id = $2 AND client_id = $3`, DialectPostgres.rebind(q))
}

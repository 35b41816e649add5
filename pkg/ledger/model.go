package ledger

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/microloans/pkg/models"
	"github.com/shopspring/decimal"
)

const (
	// InstallmentPeriods is the number of collection days a loan is split into.
	InstallmentPeriods = 22
	// LoanTermDays is the calendar length of a loan from its start date.
	LoanTermDays = 30

	// CriticalThresholdDays and WarningThresholdDays bound the alert tiers:
	// 0..3 days left is critical, 4..10 is a warning.
	CriticalThresholdDays = 3
	WarningThresholdDays  = 10

	defaultInstallmentNote = "Cuota diaria"
)

var (
	hundred = decimal.NewFromInt(100)

	adminFeeRate = decimal.NewFromInt(10)
	adminFeeUnit = decimal.NewFromInt(50)
)

// ComputeTotal returns principal plus ratePercent percent of it.
func ComputeTotal(principal, ratePercent decimal.Decimal) (decimal.Decimal, error) {
	if principal.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: principal %s is negative", ErrInvalidAmount, principal)
	}
	if ratePercent.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: %w: %s", ErrInvalidAmount, ErrInvalidRate, ratePercent)
	}
	return principal.Add(principal.Mul(ratePercent).Div(hundred)), nil
}

// ComputeDailyInstallment splits total evenly over periods installments.
func ComputeDailyInstallment(total decimal.Decimal, periods int) (decimal.Decimal, error) {
	if periods <= 0 {
		return decimal.Zero, fmt.Errorf("%w: got %d", ErrDivisionByZero, periods)
	}
	return total.Div(decimal.NewFromInt(int64(periods))), nil
}

// DaysUntil returns the calendar days from the date reference falls on, in
// its own location, to target. A date that is today yields 0; past dates are
// negative. Both sides are UTC midnights so DST shifts never skew the count.
func DaysUntil(target models.Date, reference time.Time) int {
	today := models.DateOf(reference)
	return int(target.Sub(today.Time).Hours() / 24)
}

// AlertTierFor maps days left to an alert tier. Tiers are checked in order
// overdue, critical, warning.
func AlertTierFor(days int) models.AlertTier {
	switch {
	case days < 0:
		return models.AlertOverdue
	case days <= CriticalThresholdDays:
		return models.AlertCritical
	case days <= WarningThresholdDays:
		return models.AlertWarning
	default:
		return models.AlertNone
	}
}

// NewLoan builds an active credit starting on start.
func NewLoan(clientID uuid.UUID, principal, ratePercent decimal.Decimal, start models.Date, frequency string) (models.Loan, error) {
	if !principal.IsPositive() {
		return models.Loan{}, fmt.Errorf("%w: principal must be positive", ErrInvalidAmount)
	}
	total, err := ComputeTotal(principal, ratePercent)
	if err != nil {
		return models.Loan{}, err
	}
	daily, err := ComputeDailyInstallment(total, InstallmentPeriods)
	if err != nil {
		return models.Loan{}, err
	}
	if frequency == "" {
		frequency = models.DefaultFrequency
	}

	return models.Loan{
		ID:               uuid.New(),
		ClientID:         clientID,
		Principal:        principal,
		InterestRate:     ratePercent,
		Total:            total,
		Balance:          total,
		Frequency:        frequency,
		StartDate:        start,
		EndDate:          start.AddDays(LoanTermDays),
		DailyInstallment: daily,
		Status:           models.LoanStatusActive,
		OverdueDebt:      decimal.Zero,
		Type:             models.LoanTypeCredit,
	}, nil
}

// Reprice recomputes the total after a principal or rate change, keeping
// whatever has already been collected.
func Reprice(loan models.Loan, principal, ratePercent decimal.Decimal) (models.Loan, error) {
	if loan.Status.Terminal() {
		return loan, fmt.Errorf("%w: loan is %s", ErrInvalidStateTransition, loan.Status)
	}
	total, err := ComputeTotal(principal, ratePercent)
	if err != nil {
		return loan, err
	}
	daily, err := ComputeDailyInstallment(total, InstallmentPeriods)
	if err != nil {
		return loan, err
	}
	collected := loan.Total.Sub(loan.Balance)
	loan.Principal = principal
	loan.InterestRate = ratePercent
	loan.Total = total
	loan.DailyInstallment = daily
	loan.Balance = decimal.Max(decimal.Zero, total.Sub(collected))
	return loan, nil
}

// ApplyInstallment registers a payment of amount on date. The balance never
// drops below zero; the installment records the amount actually applied.
// completed is true when the payment settles the loan.
func ApplyInstallment(loan models.Loan, prior []models.Installment, amount decimal.Decimal, date models.Date, note string) (models.Loan, models.Installment, bool, error) {
	if !amount.IsPositive() {
		return loan, models.Installment{}, false, fmt.Errorf("%w: installment must be positive, got %s", ErrInvalidAmount, amount)
	}
	if loan.Status.Terminal() {
		return loan, models.Installment{}, false, fmt.Errorf("%w: loan is %s", ErrInvalidStateTransition, loan.Status)
	}
	if !loan.Balance.IsPositive() {
		return loan, models.Installment{}, false, fmt.Errorf("%w: loan has no outstanding balance", ErrInvalidStateTransition)
	}

	applied := decimal.Min(amount, loan.Balance)
	if note == "" {
		note = defaultInstallmentNote
	}
	installment := models.Installment{
		ID:          uuid.New(),
		LoanID:      loan.ID,
		Amount:      applied,
		PaymentDate: date,
		Description: note,
		Timing:      ClassifyPayment(loan, prior, applied, date),
	}

	updated := loan
	updated.Balance = loan.Balance.Sub(applied)
	updated.OverdueDebt = decimal.Max(decimal.Zero, loan.OverdueDebt.Sub(applied))
	updated.InstallmentCount = len(prior) + 1

	completed := updated.Balance.IsZero()
	if completed {
		updated.Status = models.LoanStatusPaid
		updated.OverdueDebt = decimal.Zero
		paidOn := date
		updated.PaidOffDate = &paidOn
	}
	return updated, installment, completed, nil
}

// ClassifyPayment compares cumulative payments up to date against the
// collection schedule.
func ClassifyPayment(loan models.Loan, prior []models.Installment, amount decimal.Decimal, date models.Date) models.PaymentTiming {
	days := int(date.Sub(loan.StartDate.Time).Hours() / 24)
	switch {
	case days < 0:
		return models.PaymentEarly
	case days == 0:
		return models.PaymentOnTime
	}

	paid := amount
	for _, inst := range prior {
		if !inst.PaymentDate.After(date.Time) {
			paid = paid.Add(inst.Amount)
		}
	}
	expected := decimal.Min(loan.DailyInstallment.Mul(decimal.NewFromInt(int64(days+1))), loan.Total)
	if paid.GreaterThanOrEqual(expected) {
		return models.PaymentOnTime
	}
	return models.PaymentLate
}

// MarkPaidManually closes the loan regardless of its balance.
func MarkPaidManually(loan models.Loan, date models.Date) (models.Loan, error) {
	switch loan.Status {
	case models.LoanStatusPaid:
		return loan, nil
	case models.LoanStatusRefinanced:
		return loan, fmt.Errorf("%w: loan is %s", ErrInvalidStateTransition, loan.Status)
	}
	loan.Status = models.LoanStatusPaid
	loan.Balance = decimal.Zero
	loan.OverdueDebt = decimal.Zero
	loan.PaidOffDate = &date
	return loan, nil
}

// Refinance closes loan into a new REF loan whose principal is the
// outstanding balance. The original keeps its balance frozen.
func Refinance(loan models.Loan, newRatePercent decimal.Decimal, date models.Date) (models.Loan, models.Loan, error) {
	if loan.Status.Terminal() {
		return loan, models.Loan{}, fmt.Errorf("%w: loan is %s", ErrInvalidStateTransition, loan.Status)
	}
	if !loan.Balance.IsPositive() {
		return loan, models.Loan{}, fmt.Errorf("%w: loan has no outstanding balance", ErrInvalidStateTransition)
	}
	if newRatePercent.IsNegative() {
		return loan, models.Loan{}, fmt.Errorf("%w: %s", ErrInvalidRate, newRatePercent)
	}

	replacement, err := NewLoan(loan.ClientID, loan.Balance, newRatePercent, date, loan.Frequency)
	if err != nil {
		return loan, models.Loan{}, err
	}
	originalID := loan.ID
	replacement.Type = models.LoanTypeRefinancing
	replacement.RefinancedFromID = &originalID

	original := loan
	original.Status = models.LoanStatusRefinanced
	original.OverdueDebt = decimal.Zero
	return original, replacement, nil
}

// CollectionDays counts Monday-to-Saturday days from start through through,
// inclusive, capped at InstallmentPeriods.
func CollectionDays(start, through models.Date) int {
	days := 0
	for d := start; !d.After(through.Time) && days < InstallmentPeriods; d = d.AddDays(1) {
		if d.Weekday() != time.Sunday {
			days++
		}
	}
	return days
}

// OverdueDebt is what should have been collected by now minus what was paid.
func OverdueDebt(loan models.Loan, installments []models.Installment, now time.Time) decimal.Decimal {
	if !loan.Status.Open() {
		return decimal.Zero
	}
	through := models.DateOf(now)
	if loan.EndDate.Before(through.Time) {
		through = loan.EndDate
	}
	if through.Before(loan.StartDate.Time) {
		return decimal.Zero
	}

	expected := loan.DailyInstallment.Mul(decimal.NewFromInt(int64(CollectionDays(loan.StartDate, through))))
	expected = decimal.Min(expected, loan.Total)
	return decimal.Max(decimal.Zero, expected.Sub(sumInstallments(installments)))
}

// Project recomputes the derived fields of loan as of now. Dates are the
// source of truth for "vencido"; terminal loans are returned as stored.
func Project(loan models.Loan, installments []models.Installment, now time.Time) models.Loan {
	loan.InstallmentCount = len(installments)
	if loan.Status.Terminal() {
		return loan
	}
	if DaysUntil(loan.EndDate, now) < 0 {
		loan.Status = models.LoanStatusOverdue
	} else {
		loan.Status = models.LoanStatusActive
	}
	loan.OverdueDebt = OverdueDebt(loan, installments, now)
	return loan
}

// SuggestedInstallment is the amount to offer when registering a payment.
func SuggestedInstallment(loan models.Loan) decimal.Decimal {
	if loan.OverdueDebt.IsPositive() {
		return loan.OverdueDebt
	}
	return loan.DailyInstallment
}

// AdministrativeFee charges 1 per full 50 of principal on 10% loans.
func AdministrativeFee(loan models.Loan) decimal.Decimal {
	if !loan.InterestRate.Equal(adminFeeRate) || !loan.Principal.IsPositive() {
		return decimal.Zero
	}
	return loan.Principal.Div(adminFeeUnit).Floor()
}

// ElapsedDays is the number of calendar days since the loan started.
func ElapsedDays(loan models.Loan, now time.Time) int {
	return -DaysUntil(loan.StartDate, now)
}

// Summary is the portfolio overview shown on the credits dashboard.
type Summary struct {
	TotalCount              int             `json:"totalCreditos"`
	ActiveCount             int             `json:"creditosVigentes"`
	OverdueCount            int             `json:"creditosVencidos"`
	PaidCount               int             `json:"creditosPagados"`
	RefinancedCount         int             `json:"creditosRefinanciados"`
	TotalOutstandingBalance decimal.Decimal `json:"deudaTotal"`
	OverdueDebtTotal        decimal.Decimal `json:"deudaVencidaTotal"`
	AdministrativeFeesTotal decimal.Decimal `json:"gastosAdministrativosTotal"`
}

// Summarize counts loans by state and totals what is still owed, as of now.
func Summarize(loans []models.Loan, now time.Time) Summary {
	s := Summary{
		TotalCount:              len(loans),
		TotalOutstandingBalance: decimal.Zero,
		OverdueDebtTotal:        decimal.Zero,
		AdministrativeFeesTotal: decimal.Zero,
	}
	for _, loan := range loans {
		days := DaysUntil(loan.EndDate, now)
		switch {
		case loan.Status == models.LoanStatusActive && days >= 0:
			s.ActiveCount++
		case loan.Status.Open() && days < 0:
			s.OverdueCount++
		case loan.Status == models.LoanStatusPaid:
			s.PaidCount++
		case loan.Status == models.LoanStatusRefinanced:
			s.RefinancedCount++
		}
		if !loan.Status.Terminal() {
			s.TotalOutstandingBalance = s.TotalOutstandingBalance.Add(loan.Balance)
			s.OverdueDebtTotal = s.OverdueDebtTotal.Add(loan.OverdueDebt)
		}
		s.AdministrativeFeesTotal = s.AdministrativeFeesTotal.Add(AdministrativeFee(loan))
	}
	return s
}

func sumInstallments(installments []models.Installment) decimal.Decimal {
	total := decimal.Zero
	for _, inst := range installments {
		total = total.Add(inst.Amount)
	}
	return total
}

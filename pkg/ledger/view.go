package ledger

import (
	"time"

	"github.com/mcclellann/microloans/pkg/models"
	"github.com/shopspring/decimal"
)

// LoanView is a loan together with every value derived from it for display.
type LoanView struct {
	models.Loan
	DaysRemaining        int                  `json:"dias_restantes"`
	Alert                models.AlertTier     `json:"alerta"`
	SuggestedInstallment decimal.Decimal      `json:"cuota_sugerida"`
	AdministrativeFee    decimal.Decimal      `json:"gastos_administrativos"`
	ElapsedDays          int                  `json:"dt"`
	Installments         []models.Installment `json:"cuotas,omitempty"`
}

func NewLoanView(loan models.Loan, now time.Time) LoanView {
	days := DaysUntil(loan.EndDate, now)
	alert := models.AlertNone
	if loan.Status.Open() {
		alert = AlertTierFor(days)
	}
	return LoanView{
		Loan:                 loan,
		DaysRemaining:        days,
		Alert:                alert,
		SuggestedInstallment: SuggestedInstallment(loan),
		AdministrativeFee:    AdministrativeFee(loan),
		ElapsedDays:          ElapsedDays(loan, now),
	}
}

// ClientView is a client with its loans and assigned worker's name.
type ClientView struct {
	models.Client
	WorkerName    string     `json:"trabajador_nombre,omitempty"`
	HasActiveLoan bool       `json:"tiene_prestamo_activo"`
	Loans         []LoanView `json:"prestamos"`
}

// InstallmentHistory lists a loan's installments, newest first.
type InstallmentHistory struct {
	Loan         LoanView             `json:"prestamo"`
	ClientName   string               `json:"cliente_nombre"`
	Installments []models.Installment `json:"cuotas"`
	Count        int                  `json:"total_cuotas"`
	TotalPaid    decimal.Decimal      `json:"total_pagado"`
}

// InstallmentReceipt is the outcome of registering an installment.
type InstallmentReceipt struct {
	Loan        LoanView           `json:"prestamo"`
	Installment models.Installment `json:"cuota"`
	Completed   bool               `json:"prestamo_completado"`
}

// DueAlert is an open loan whose due date needs attention.
type DueAlert struct {
	LoanID        string           `json:"prestamo_id"`
	ClientName    string           `json:"cliente_nombre"`
	ClientPhone   string           `json:"telefono"`
	WorkerName    string           `json:"trabajador_nombre,omitempty"`
	EndDate       models.Date      `json:"fecha_fin"`
	DaysRemaining int              `json:"dias_restantes"`
	Tier          models.AlertTier `json:"alerta"`
	Balance       decimal.Decimal  `json:"saldo"`
}

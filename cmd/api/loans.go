package main

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/mcclellann/microloans/pkg/ledger"
	"github.com/mcclellann/microloans/pkg/models"
	"github.com/shopspring/decimal"
)

type loanTerms struct {
	Principal    decimal.Decimal `json:"monto_principal"`
	InterestRate decimal.Decimal `json:"interes"`
	Frequency    string          `json:"tipo_frecuencia" validate:"omitempty,max=50"`
	StartDate    models.Date     `json:"fecha_inicio"`
}

func (t loanTerms) input() ledger.LoanInput {
	return ledger.LoanInput{
		Principal:    t.Principal,
		InterestRate: t.InterestRate,
		Frequency:    t.Frequency,
		StartDate:    t.StartDate,
	}
}

type createLoanRequest struct {
	ClientID uuid.UUID `json:"cliente_id" validate:"required"`
	loanTerms
}

type updateLoanRequest struct {
	Principal    *decimal.Decimal `json:"monto_principal" validate:"required"`
	InterestRate *decimal.Decimal `json:"interes" validate:"required"`
	Frequency    string           `json:"tipo_frecuencia" validate:"omitempty,max=50"`
}

type installmentRequest struct {
	Amount      decimal.Decimal `json:"monto"`
	PaymentDate models.Date     `json:"fecha_pago"`
	Description string          `json:"descripcion" validate:"max=255"`
}

type refinanceRequest struct {
	InterestRate *decimal.Decimal `json:"interes" validate:"required"`
}

func (s *Server) createLoanHandler(w http.ResponseWriter, r *http.Request) {
	var req createLoanRequest
	if !s.decodeOrFail(w, r, &req) {
		return
	}
	loan, err := s.ledger.CreateLoan(r.Context(), req.ClientID, req.loanTerms.input())
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, loan)
}

func (s *Server) getLoanHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	loan, err := s.ledger.GetLoan(r.Context(), id)
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loan)
}

func (s *Server) updateLoanHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req updateLoanRequest
	if !s.decodeOrFail(w, r, &req) {
		return
	}
	loan, err := s.ledger.UpdateLoanTerms(r.Context(), id, *req.Principal, *req.InterestRate, req.Frequency)
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loan)
}

func (s *Server) deleteLoanHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.ledger.DeleteLoan(r.Context(), id); err != nil {
		s.handleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) loanHistoryHandler(w http.ResponseWriter, r *http.Request) {
	clientID, ok := pathID(w, r)
	if !ok {
		return
	}
	loans, err := s.ledger.LoanHistory(r.Context(), clientID)
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loans)
}

func (s *Server) listInstallmentsHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	history, err := s.ledger.ListInstallments(r.Context(), id)
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

func (s *Server) registerInstallmentHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req installmentRequest
	if !s.decodeOrFail(w, r, &req) {
		return
	}
	receipt, err := s.ledger.RegisterInstallment(r.Context(), id, req.Amount, req.PaymentDate, req.Description)
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, receipt)
}

func (s *Server) markPaidHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	loan, err := s.ledger.MarkPaid(r.Context(), id)
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loan)
}

func (s *Server) refinanceHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req refinanceRequest
	if !s.decodeOrFail(w, r, &req) {
		return
	}
	result, err := s.ledger.Refinance(r.Context(), id, *req.InterestRate)
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (s *Server) refreshLoansHandler(w http.ResponseWriter, r *http.Request) {
	changed, err := s.ledger.RefreshOpenLoans(r.Context())
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"actualizados": changed})
}

func (s *Server) summaryHandler(w http.ResponseWriter, r *http.Request) {
	summary, err := s.ledger.Summary(r.Context())
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) alertsHandler(w http.ResponseWriter, r *http.Request) {
	alerts, err := s.ledger.DueAlerts(r.Context())
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, alerts)
}

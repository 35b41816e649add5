package main

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/mcclellann/microloans/pkg/ledger"
)

type clientRequest struct {
	DNI      string     `json:"dni" validate:"required,max=20"`
	Name     string     `json:"nombre" validate:"required,max=100"`
	Address  string     `json:"direccion" validate:"omitempty,max=200"`
	Phone    string     `json:"telefono" validate:"omitempty,max=20"`
	WorkerID *uuid.UUID `json:"trabajador_id"`
}

func (req clientRequest) input() ledger.ClientInput {
	return ledger.ClientInput{
		DNI:      req.DNI,
		Name:     req.Name,
		Address:  req.Address,
		Phone:    req.Phone,
		WorkerID: req.WorkerID,
	}
}

// The client form posts the client and its first loan as one flat object.
type clientWithLoanRequest struct {
	clientRequest
	loanTerms
}

func (s *Server) listActiveClientsHandler(w http.ResponseWriter, r *http.Request) {
	clients, err := s.ledger.ListActiveClients(r.Context())
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, clients)
}

func (s *Server) listClientsWithoutLoanHandler(w http.ResponseWriter, r *http.Request) {
	clients, err := s.ledger.ListClientsWithoutLoan(r.Context())
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, clients)
}

func (s *Server) searchClientsHandler(w http.ResponseWriter, r *http.Request) {
	clients, err := s.ledger.SearchClients(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, clients)
}

func (s *Server) createClientWithLoanHandler(w http.ResponseWriter, r *http.Request) {
	var req clientWithLoanRequest
	if !s.decodeOrFail(w, r, &req) {
		return
	}
	client, err := s.ledger.CreateClientWithLoan(r.Context(), req.clientRequest.input(), req.loanTerms.input())
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, client)
}

func (s *Server) updateClientHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req clientRequest
	if !s.decodeOrFail(w, r, &req) {
		return
	}
	client, err := s.ledger.UpdateClient(r.Context(), id, req.input())
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, client)
}

func (s *Server) deleteClientHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.ledger.DeleteClient(r.Context(), id); err != nil {
		s.handleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

package main

import (
	"net/http"

	"github.com/mcclellann/microloans/pkg/ledger"
)

type workerRequest struct {
	Username string `json:"username" validate:"required,max=50"`
	Name     string `json:"nombre" validate:"required,max=100"`
	DNI      string `json:"dni" validate:"omitempty,max=20"`
	Phone    string `json:"telefono" validate:"omitempty,max=20"`
}

func (req workerRequest) input() ledger.WorkerInput {
	return ledger.WorkerInput{Username: req.Username, Name: req.Name, DNI: req.DNI, Phone: req.Phone}
}

func (s *Server) listWorkersHandler(w http.ResponseWriter, r *http.Request) {
	workers, err := s.ledger.ListWorkers(r.Context())
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, workers)
}

func (s *Server) createWorkerHandler(w http.ResponseWriter, r *http.Request) {
	var req workerRequest
	if !s.decodeOrFail(w, r, &req) {
		return
	}
	worker, err := s.ledger.CreateWorker(r.Context(), req.input())
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, worker)
}

func (s *Server) updateWorkerHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req workerRequest
	if !s.decodeOrFail(w, r, &req) {
		return
	}
	worker, err := s.ledger.UpdateWorker(r.Context(), id, req.input())
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, worker)
}

func (s *Server) deleteWorkerHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.ledger.DeleteWorker(r.Context(), id); err != nil {
		s.handleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

package main

import (
	"context"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/mcclellann/microloans/pkg/access"
	"github.com/mcclellann/microloans/pkg/ledger"
	"github.com/mcclellann/microloans/pkg/store"
	"github.com/sirupsen/logrus"
)

// RoleHeader carries the caller's role, set by the authenticating proxy.
const RoleHeader = "X-Role"

type ctxKey int

const roleKey ctxKey = iota

// Server holds the ledger instance.
type Server struct {
	ledger   *ledger.Ledger
	storage  store.Storage
	logger   *logrus.Logger
	validate *validator.Validate
}

func NewServer(s store.Storage, lg *ledger.Ledger, logger *logrus.Logger) *Server {
	v := validator.New()
	// Report JSON field names in validation errors.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Server{
		ledger:   lg,
		storage:  s,
		logger:   logger,
		validate: v,
	}
}

// Close releases the underlying storage.
func (s *Server) Close() error {
	return s.storage.Close()
}

// Routes builds the router for the /api surface.
func (s *Server) Routes() *mux.Router {
	router := mux.NewRouter()
	router.Use(s.logRequests)

	api := router.PathPrefix("/api").Subrouter()
	api.Use(s.resolveRole)

	s.handle(api, "/capabilities", access.ListCapabilities, s.capabilitiesHandler).Methods(http.MethodGet)

	s.handle(api, "/trabajadores", access.ListWorkers, s.listWorkersHandler).Methods(http.MethodGet)
	s.handle(api, "/trabajadores", access.CreateWorker, s.createWorkerHandler).Methods(http.MethodPost)
	s.handle(api, "/trabajadores/{id}", access.UpdateWorker, s.updateWorkerHandler).Methods(http.MethodPut)
	s.handle(api, "/trabajadores/{id}", access.DeleteWorker, s.deleteWorkerHandler).Methods(http.MethodDelete)

	s.handle(api, "/clientes", access.ListClients, s.listActiveClientsHandler).Methods(http.MethodGet)
	s.handle(api, "/clientes_sin_prestamo", access.ListClients, s.listClientsWithoutLoanHandler).Methods(http.MethodGet)
	s.handle(api, "/clientes/search", access.SearchClients, s.searchClientsHandler).Methods(http.MethodGet)
	s.handle(api, "/clientes_con_prestamo", access.CreateClientWithLoan, s.createClientWithLoanHandler).Methods(http.MethodPost)
	s.handle(api, "/clientes/{id}", access.UpdateClient, s.updateClientHandler).Methods(http.MethodPut)
	s.handle(api, "/clientes/{id}", access.DeleteClient, s.deleteClientHandler).Methods(http.MethodDelete)

	s.handle(api, "/prestamos", access.CreateLoan, s.createLoanHandler).Methods(http.MethodPost)
	s.handle(api, "/prestamos/historial/{id}", access.ViewLoanHistory, s.loanHistoryHandler).Methods(http.MethodGet)
	s.handle(api, "/prestamos/{id}", access.ViewLoan, s.getLoanHandler).Methods(http.MethodGet)
	s.handle(api, "/prestamos/{id}", access.UpdateLoan, s.updateLoanHandler).Methods(http.MethodPut)
	s.handle(api, "/prestamos/{id}", access.DeleteLoan, s.deleteLoanHandler).Methods(http.MethodDelete)
	s.handle(api, "/prestamos/{id}/cuotas", access.ListInstallments, s.listInstallmentsHandler).Methods(http.MethodGet)
	s.handle(api, "/prestamos/{id}/cuotas", access.RegisterInstallment, s.registerInstallmentHandler).Methods(http.MethodPost)
	s.handle(api, "/prestamos/{id}/pagado_manual", access.MarkPaid, s.markPaidHandler).Methods(http.MethodPut)
	s.handle(api, "/prestamos/{id}/refinanciar", access.RefinanceLoan, s.refinanceHandler).Methods(http.MethodPost)

	s.handle(api, "/actualizar_prestamos", access.RefreshLoans, s.refreshLoansHandler).Methods(http.MethodPost)
	s.handle(api, "/resumen_creditos", access.ViewSummary, s.summaryHandler).Methods(http.MethodGet)
	s.handle(api, "/alertas", access.ViewAlerts, s.alertsHandler).Methods(http.MethodGet)

	return router
}

// handle registers h behind a capability check for cmd.
func (s *Server) handle(r *mux.Router, path string, cmd access.Command, h http.HandlerFunc) *mux.Route {
	return r.Handle(path, s.requireCommand(cmd, h))
}

func (s *Server) requireCommand(cmd access.Command, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		role, _ := r.Context().Value(roleKey).(access.Role)
		if !access.Can(role, cmd) {
			s.logger.WithFields(logrus.Fields{"role": role, "command": cmd}).Warn("command not allowed for role")
			writeError(w, http.StatusForbidden, "operation not allowed for role "+string(role))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// resolveRole reads the caller's role from RoleHeader into the context.
func (s *Server) resolveRole(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get(RoleHeader)
		if header == "" {
			writeError(w, http.StatusUnauthorized, RoleHeader+" header is required")
			return
		}
		role, err := access.ParseRole(header)
		if err != nil {
			s.logger.WithError(err).Warn("rejected request with unknown role")
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		ctx := context.WithValue(r.Context(), roleKey, role)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   rec.status,
			"duration": time.Since(start).String(),
		}).Debug("request handled")
	})
}

func (s *Server) capabilitiesHandler(w http.ResponseWriter, r *http.Request) {
	role, _ := r.Context().Value(roleKey).(access.Role)
	writeJSON(w, http.StatusOK, map[string]any{
		"rol":      role,
		"comandos": access.Commands(role),
	})
}

package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Worker is a collection agent. Clients reference workers, never own them.
type Worker struct {
	ID        uuid.UUID `json:"id"`
	Username  string    `json:"username"`
	Name      string    `json:"nombre"`
	DNI       string    `json:"dni"`
	Phone     string    `json:"telefono"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Client is a borrower.
type Client struct {
	ID           uuid.UUID  `json:"id"`
	DNI          string     `json:"dni"`
	Name         string     `json:"nombre"`
	Address      string     `json:"direccion"`
	Phone        string     `json:"telefono"`
	WorkerID     *uuid.UUID `json:"trabajador_id,omitempty"` // weak reference, lookup only
	RegisteredAt time.Time  `json:"fecha_registro"`
}

type LoanStatus string

const (
	LoanStatusActive     LoanStatus = "activo"
	LoanStatusOverdue    LoanStatus = "vencido"
	LoanStatusPaid       LoanStatus = "pagado"
	LoanStatusRefinanced LoanStatus = "refinanciado"
)

// Terminal reports whether no further transition is possible.
func (s LoanStatus) Terminal() bool {
	return s == LoanStatusPaid || s == LoanStatusRefinanced
}

// Open reports whether the loan still carries collectable debt.
func (s LoanStatus) Open() bool {
	return s == LoanStatusActive || s == LoanStatusOverdue
}

type LoanType string

const (
	LoanTypeCredit      LoanType = "CR"
	LoanTypeRefinancing LoanType = "REF"
)

const DefaultFrequency = "Diario"

type Loan struct {
	ID               uuid.UUID       `json:"id"`
	ClientID         uuid.UUID       `json:"cliente_id"`
	Principal        decimal.Decimal `json:"monto_principal"`
	InterestRate     decimal.Decimal `json:"interes"` // percent
	Total            decimal.Decimal `json:"monto_total"`
	Balance          decimal.Decimal `json:"saldo"`
	Frequency        string          `json:"tipo_frecuencia"`
	StartDate        Date            `json:"fecha_inicio"`
	EndDate          Date            `json:"fecha_fin"`
	DailyInstallment decimal.Decimal `json:"cuota_diaria"`
	Status           LoanStatus      `json:"estado"`
	OverdueDebt      decimal.Decimal `json:"deuda_vencida"`
	Type             LoanType        `json:"tipo_prestamo"`
	RefinancedFromID *uuid.UUID      `json:"prestamo_refinanciado_id,omitempty"`
	PaidOffDate      *Date           `json:"fecha_pago_completo,omitempty"`
	InstallmentCount int             `json:"total_cuotas"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

type PaymentTiming string

const (
	PaymentOnTime PaymentTiming = "a_tiempo"
	PaymentLate   PaymentTiming = "con_retraso"
	PaymentEarly  PaymentTiming = "anticipado"
)

type Installment struct {
	ID          uuid.UUID       `json:"id"`
	LoanID      uuid.UUID       `json:"prestamo_id"`
	Amount      decimal.Decimal `json:"monto"`
	PaymentDate Date            `json:"fecha_pago"`
	Description string          `json:"descripcion"`
	Timing      PaymentTiming   `json:"estado_pago"`
	CreatedAt   time.Time       `json:"created_at"`
}

// AlertTier is the due-date urgency of an open loan.
type AlertTier string

const (
	AlertNone     AlertTier = "none"
	AlertWarning  AlertTier = "warning"
	AlertCritical AlertTier = "critical"
	AlertOverdue  AlertTier = "overdue"
)

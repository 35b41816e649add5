// Package access decides which commands each role may invoke. The ledger
// itself never looks at roles; callers ask before offering or running a
// command.
package access

import (
	"fmt"
	"sort"
	"strings"
)

type Role string

const (
	RoleAdmin  Role = "admin"
	RoleWorker Role = "trabajador"
)

func ParseRole(s string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleAdmin:
		return RoleAdmin, nil
	case RoleWorker:
		return RoleWorker, nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}

type Command string

const (
	ListCapabilities     Command = "list_capabilities"
	ListWorkers          Command = "list_workers"
	CreateWorker         Command = "create_worker"
	UpdateWorker         Command = "update_worker"
	DeleteWorker         Command = "delete_worker"
	ListClients          Command = "list_clients"
	SearchClients        Command = "search_clients"
	CreateClientWithLoan Command = "create_client_with_loan"
	UpdateClient         Command = "update_client"
	DeleteClient         Command = "delete_client"
	CreateLoan           Command = "create_loan"
	ViewLoan             Command = "view_loan"
	UpdateLoan           Command = "update_loan"
	DeleteLoan           Command = "delete_loan"
	ViewLoanHistory      Command = "view_loan_history"
	ListInstallments     Command = "list_installments"
	RegisterInstallment  Command = "register_installment"
	MarkPaid             Command = "mark_paid"
	RefinanceLoan        Command = "refinance_loan"
	RefreshLoans         Command = "refresh_loans"
	ViewSummary          Command = "view_summary"
	ViewAlerts           Command = "view_alerts"
)

var allCommands = []Command{
	ListCapabilities, ListWorkers, CreateWorker, UpdateWorker, DeleteWorker,
	ListClients, SearchClients, CreateClientWithLoan, UpdateClient, DeleteClient,
	CreateLoan, ViewLoan, UpdateLoan, DeleteLoan, ViewLoanHistory,
	ListInstallments, RegisterInstallment, MarkPaid, RefinanceLoan,
	RefreshLoans, ViewSummary, ViewAlerts,
}

// Workers collect payments in the field; everything else is admin work.
var workerCommands = map[Command]bool{
	ListCapabilities:    true,
	ListClients:         true,
	SearchClients:       true,
	ViewLoan:            true,
	ViewLoanHistory:     true,
	ListInstallments:    true,
	RegisterInstallment: true,
	RefreshLoans:        true,
	ViewSummary:         true,
}

// Can reports whether role may invoke cmd.
func Can(role Role, cmd Command) bool {
	switch role {
	case RoleAdmin:
		for _, c := range allCommands {
			if c == cmd {
				return true
			}
		}
		return false
	case RoleWorker:
		return workerCommands[cmd]
	default:
		return false
	}
}

// Commands lists every command role may invoke, sorted by name.
func Commands(role Role) []Command {
	cmds := []Command{}
	for _, c := range allCommands {
		if Can(role, c) {
			cmds = append(cmds, c)
		}
	}
	sort.Slice(cmds, func(i, j int) bool { return cmds[i] < cmds[j] })
	return cmds
}

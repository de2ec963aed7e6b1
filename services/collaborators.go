package services

import (
	"context"

	"tournament-orchestrator/models"
)

// Principal is the caller identity handed over by the gateway.
type Principal struct {
	ID      string
	Service bool
}

// ServicePrincipal is used by internal callers such as the timeout monitor.
var ServicePrincipal = Principal{ID: "system", Service: true}

// canAct reports whether p may act on m: a participant, the host, or a service.
func (p Principal) canAct(m *models.Match) bool {
	if p.Service {
		return true
	}
	return p.ID != "" && (m.HasPlayer(p.ID) || m.HostID == p.ID)
}

// SessionProvisioner creates the device session a match is played on.
type SessionProvisioner interface {
	CreateSession(ctx context.Context, matchID string, players []string, durationSeconds int) (string, error)
}

// PaymentClient refunds entry fees when a season cannot run.
type PaymentClient interface {
	RefundEntryFee(ctx context.Context, tournamentID, seasonID, playerID string) error
}

type noopProvisioner struct{}

func (noopProvisioner) CreateSession(context.Context, string, []string, int) (string, error) {
	return "", nil
}

type noopPayments struct{}

func (noopPayments) RefundEntryFee(context.Context, string, string, string) error { return nil }

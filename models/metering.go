package models

import (
	"time"

	"github.com/google/uuid"
)

// MeteringStats are a tenant's running usage counters. BudgetRemaining is
// a live balance and may go negative.
type MeteringStats struct {
	TenantID        uuid.UUID `json:"tenantId"`
	TotalRequests   int64     `json:"totalRequests"`
	TotalTokens     int64     `json:"totalTokens"`
	TotalCost       float64   `json:"totalCost"`
	BudgetRemaining float64   `json:"budgetRemaining"`
	Budget          float64   `json:"budget"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// Utilization returns spend as a percentage of the budget
func (s MeteringStats) Utilization() float64 {
	if s.Budget <= 0 {
		return 0
	}
	return s.TotalCost / s.Budget * 100
}

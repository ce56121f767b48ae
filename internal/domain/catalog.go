package domain

import (
	"strings"
	"time"
)

// Product is a catalog entry owned by the remote ERP. Local code never edits
// products; they are only replaced wholesale by sync pulls.
type Product struct {
	ID                   string    `json:"id"`
	Name                 string    `json:"name"`
	Price                float64   `json:"price"`
	Description          string    `json:"description"`
	Category             string    `json:"category"`
	Complexity           int       `json:"complexity"` // 1..5
	EstimatedTimeMinutes int       `json:"estimated_time_minutes"`
	IsActive             bool      `json:"is_active"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// Worker is a roster entry owned by the remote ERP, replace-only like Product.
type Worker struct {
	ID         string     `json:"id"`
	FirstName  string     `json:"first_name"`
	LastName   string     `json:"last_name"`
	MiddleName string     `json:"middle_name"`
	Position   string     `json:"position"`
	Department string     `json:"department"`
	SkillLevel int        `json:"skill_level"` // 1..5
	HourlyRate float64    `json:"hourly_rate"`
	IsActive   bool       `json:"is_active"`
	Phone      string     `json:"phone"`
	Email      string     `json:"email"`
	HireDate   *time.Time `json:"hire_date,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// FullName returns "Last First Middle" with empty parts dropped.
func (w *Worker) FullName() string {
	parts := make([]string, 0, 3)
	for _, p := range []string{w.LastName, w.FirstName, w.MiddleName} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " ")
}

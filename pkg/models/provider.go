package models

import "time"

type EmploymentType string

const (
	EmploymentFullTime   EmploymentType = "Full-time"
	EmploymentPartTime   EmploymentType = "Part-time"
	EmploymentContract   EmploymentType = "Contract"
	EmploymentIntern     EmploymentType = "Intern"
	EmploymentConsultant EmploymentType = "Consultant"
)

type ProviderStatus string

const (
	StatusActive     ProviderStatus = "Active"
	StatusInactive   ProviderStatus = "Inactive"
	StatusOnLeave    ProviderStatus = "On Leave"
	StatusTerminated ProviderStatus = "Terminated"
)

// Provider is a staff record. Appointments reference providers by name as
// free text, not by id.
type Provider struct {
	ID             int            `json:"id" db:"id"`
	FirstName      string         `json:"firstName" db:"first_name"`
	LastName       string         `json:"lastName" db:"last_name"`
	Email          *string        `json:"email" db:"email"`
	Phone          *string        `json:"phone" db:"phone"`
	JobTitle       *string        `json:"jobTitle" db:"job_title"`
	Department     *string        `json:"department" db:"department"`
	EmploymentType EmploymentType `json:"employmentType" db:"employment_type"`
	Status         ProviderStatus `json:"status" db:"status"`
	StartDate      *string        `json:"startDate" db:"start_date"`
	EndDate        *string        `json:"endDate" db:"end_date"`
	PhotoURL       *string        `json:"photoUrl" db:"photo_url"`
	Active         bool           `json:"active" db:"active"`
	CreatedAt      time.Time      `json:"createdAt" db:"created_at"`
	UpdatedAt      time.Time      `json:"updatedAt" db:"updated_at"`
}

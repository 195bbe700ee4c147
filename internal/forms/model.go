package forms

import (
	"context"
	"time"
)

type ServiceType string

const (
	ServiceCorporateLawyers ServiceType = "bedrijfsjuristen"
	ServiceTrustFormation   ServiceType = "trust_formation"
	ServiceTaxAdvice        ServiceType = "belastingadvies"
)

var serviceTypeLabels = map[ServiceType]string{
	ServiceCorporateLawyers: "Bedrijfsjuristen",
	ServiceTrustFormation:   "Trust Formation",
	ServiceTaxAdvice:        "Belastingadvies",
}

func (s ServiceType) Valid() bool {
	_, ok := serviceTypeLabels[s]
	return ok
}

func (s ServiceType) Label() string {
	return serviceTypeLabels[s]
}

type ContactRequest struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Phone   string `json:"phone,omitempty"`
	Message string `json:"message"`
}

type IntakeRequest struct {
	Name        string      `json:"name"`
	Email       string      `json:"email"`
	Phone       string      `json:"phone,omitempty"`
	CompanyName string      `json:"company_name,omitempty"`
	ServiceType ServiceType `json:"service_type,omitempty"`
	Message     string      `json:"message,omitempty"`
}

type ContactSubmission struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone,omitempty"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
}

type IntakeSubmission struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Email       string      `json:"email"`
	Phone       string      `json:"phone,omitempty"`
	CompanyName string      `json:"company_name,omitempty"`
	ServiceType ServiceType `json:"service_type,omitempty"`
	Message     string      `json:"message,omitempty"`
	CreatedAt   time.Time   `json:"createdAt"`
}

type SubmissionRepository interface {
	CreateContact(ctx context.Context, s ContactSubmission) (ContactSubmission, error)
	CreateIntake(ctx context.Context, s IntakeSubmission) (IntakeSubmission, error)
}

package forms

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const insertContact = `
INSERT INTO contact_submissions (
id,
name,
email,
phone,
message,
created_at
) VALUES ($1,$2,$3,NULLIF($4,''),$5,$6)
RETURNING id::text, name, email, COALESCE(phone,''), message, created_at
`

const insertIntake = `
INSERT INTO intake_submissions (
id,
name,
email,
phone,
company_name,
service_type,
message,
created_at
) VALUES ($1,$2,$3,NULLIF($4,''),NULLIF($5,''),NULLIF($6,''),NULLIF($7,''),$8)
RETURNING id::text, name, email, COALESCE(phone,''), COALESCE(company_name,''), COALESCE(service_type,''), COALESCE(message,''), created_at
`

// Schema creates the submission tables when they do not exist yet.
const Schema = `
CREATE TABLE IF NOT EXISTS contact_submissions (
id UUID PRIMARY KEY,
name TEXT NOT NULL,
email TEXT NOT NULL,
phone TEXT,
message TEXT NOT NULL,
created_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS intake_submissions (
id UUID PRIMARY KEY,
name TEXT NOT NULL,
email TEXT NOT NULL,
phone TEXT,
company_name TEXT,
service_type TEXT,
message TEXT,
created_at TIMESTAMPTZ NOT NULL
);
`

var ErrNotConfigured = errors.New("postgres repository requires a non-nil pool")

type PostgresRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresRepository(pool *pgxpool.Pool) (*PostgresRepository, error) {
	if pool == nil {
		return nil, ErrNotConfigured
	}
	return &PostgresRepository{pool: pool}, nil
}

// Migrate applies Schema.
func (r *PostgresRepository) Migrate(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("migrate submissions schema: %w", err)
	}
	return nil
}

func (r *PostgresRepository) CreateContact(ctx context.Context, s ContactSubmission) (ContactSubmission, error) {
	row := r.pool.QueryRow(ctx, insertContact, s.ID, s.Name, s.Email, s.Phone, s.Message, s.CreatedAt)

	var out ContactSubmission
	if err := row.Scan(&out.ID, &out.Name, &out.Email, &out.Phone, &out.Message, &out.CreatedAt); err != nil {
		return ContactSubmission{}, fmt.Errorf("insert contact submission: %w", err)
	}
	return out, nil
}

func (r *PostgresRepository) CreateIntake(ctx context.Context, s IntakeSubmission) (IntakeSubmission, error) {
	row := r.pool.QueryRow(ctx, insertIntake,
		s.ID,
		s.Name,
		s.Email,
		s.Phone,
		s.CompanyName,
		string(s.ServiceType),
		s.Message,
		s.CreatedAt,
	)

	var (
		out         IntakeSubmission
		serviceType string
	)
	if err := row.Scan(&out.ID, &out.Name, &out.Email, &out.Phone, &out.CompanyName, &serviceType, &out.Message, &out.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return IntakeSubmission{}, fmt.Errorf("insert intake submission: no row returned: %w", err)
		}
		return IntakeSubmission{}, fmt.Errorf("insert intake submission: %w", err)
	}
	out.ServiceType = ServiceType(serviceType)
	return out, nil
}

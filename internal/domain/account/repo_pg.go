package account

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/docai/escalation/internal/platform/db"
)

const uniqueViolation = "23505"

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

func (r *repoPG) Create(ctx context.Context, a *Account) error {
	var createdAt time.Time
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO accounts (id, name, email, role, phone, blood_group, age, specialization)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at`,
		a.ID, a.Name, a.Email, a.Role, a.Phone, a.BloodGroup, a.Age, a.Specialization,
	).Scan(&createdAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrExists
		}
		return fmt.Errorf("insert account: %w", err)
	}
	a.CreatedAt.Time = createdAt
	return nil
}

func (r *repoPG) GetByID(ctx context.Context, id string) (*Account, error) {
	var (
		a         Account
		createdAt time.Time
	)
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, name, email, role, phone, blood_group, age, specialization, created_at
		FROM accounts WHERE id = $1`, id,
	).Scan(&a.ID, &a.Name, &a.Email, &a.Role, &a.Phone, &a.BloodGroup, &a.Age, &a.Specialization, &createdAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get account: %w", err)
	}
	a.CreatedAt.Time = createdAt
	return &a, nil
}

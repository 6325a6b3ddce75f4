package emergency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/docai/escalation/internal/platform/db"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const emergencyCols = `id, patient_id, patient_name, age, complaint, city, severity,
	risk_score, status, doctor_id, created_at`

func scanEmergency(row pgx.Row) (*Emergency, error) {
	var (
		e         Emergency
		id        uuid.UUID
		doctorID  *string
		severity  string
		status    string
		createdAt time.Time
	)
	err := row.Scan(&id, &e.PatientID, &e.PatientName, &e.Age, &e.Complaint, &e.City, &severity,
		&e.RiskScore, &status, &doctorID, &createdAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	e.ID = id.String()
	e.Severity = Severity(severity)
	e.Status = Status(status)
	if doctorID != nil {
		e.DoctorID = *doctorID
	}
	e.CreatedAt.Time = createdAt
	return &e, nil
}

func parseID(id string) (uuid.UUID, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return uuid.Nil, ErrNotFound
	}
	return uid, nil
}

func (r *repoPG) Create(ctx context.Context, e *Emergency) error {
	uid := uuid.New()
	return db.WithTx(ctx, r.pool, func(ctx context.Context) error {
		row := r.conn(ctx).QueryRow(ctx, `
			INSERT INTO emergencies (id, patient_id, patient_name, age, complaint, city, severity, risk_score, status)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'NEW')
			RETURNING created_at`,
			uid, e.PatientID, e.PatientName, e.Age, e.Complaint, e.City, string(e.Severity), e.RiskScore)
		var createdAt time.Time
		if err := row.Scan(&createdAt); err != nil {
			return fmt.Errorf("insert emergency: %w", err)
		}
		e.ID = uid.String()
		e.Status = StatusNew
		e.DoctorID = ""
		e.CreatedAt.Time = createdAt
		return r.addHistory(ctx, uid, StatusNew, "")
	})
}

func (r *repoPG) GetByID(ctx context.Context, id string) (*Emergency, error) {
	uid, err := parseID(id)
	if err != nil {
		return nil, err
	}
	return scanEmergency(r.conn(ctx).QueryRow(ctx, `SELECT `+emergencyCols+` FROM emergencies WHERE id = $1`, uid))
}

func (r *repoPG) List(ctx context.Context, statuses ...Status) ([]*Emergency, error) {
	query := `SELECT ` + emergencyCols + ` FROM emergencies`
	var args []interface{}
	if len(statuses) > 0 {
		names := make([]string, len(statuses))
		for i, s := range statuses {
			names[i] = string(s)
		}
		query += ` WHERE status = ANY($1)`
		args = append(args, names)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Emergency
	for rows.Next() {
		e, err := scanEmergency(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, e)
	}
	return items, rows.Err()
}

// Accept is a single conditional UPDATE: the first committed writer moves the
// case out of NEW and every later accept matches zero rows.
func (r *repoPG) Accept(ctx context.Context, id, doctorID string) (*Emergency, error) {
	if doctorID == "" {
		return nil, ErrDoctorRequired
	}
	return r.transition(ctx, id, `
		UPDATE emergencies SET status = 'IN_PROGRESS', doctor_id = $2, accepted_at = NOW()
		WHERE id = $1 AND status = 'NEW'
		RETURNING `+emergencyCols, doctorID)
}

func (r *repoPG) Resolve(ctx context.Context, id string) (*Emergency, error) {
	return r.transition(ctx, id, `
		UPDATE emergencies SET status = 'RESOLVED', resolved_at = NOW()
		WHERE id = $1 AND status IN ('NEW', 'IN_PROGRESS')
		RETURNING `+emergencyCols)
}

func (r *repoPG) transition(ctx context.Context, id, update string, args ...interface{}) (*Emergency, error) {
	uid, err := parseID(id)
	if err != nil {
		return nil, err
	}
	var out *Emergency
	err = db.WithTx(ctx, r.pool, func(ctx context.Context) error {
		e, err := scanEmergency(r.conn(ctx).QueryRow(ctx, update, append([]interface{}{uid}, args...)...))
		if errors.Is(err, ErrNotFound) {
			return r.missOrConflict(ctx, uid)
		}
		if err != nil {
			return err
		}
		out = e
		return r.addHistory(ctx, uid, e.Status, e.DoctorID)
	})
	return out, err
}

// missOrConflict explains a conditional update that matched no row.
func (r *repoPG) missOrConflict(ctx context.Context, uid uuid.UUID) error {
	var status string
	err := r.conn(ctx).QueryRow(ctx, `SELECT status FROM emergencies WHERE id = $1`, uid).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: case is %s", ErrInvalidTransition, status)
}

func (r *repoPG) addHistory(ctx context.Context, uid uuid.UUID, status Status, doctorID string) error {
	var doc *string
	if doctorID != "" {
		doc = &doctorID
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO emergency_status_history (id, emergency_id, status, doctor_id)
		VALUES ($1, $2, $3, $4)`,
		uuid.New(), uid, string(status), doc)
	return err
}

func (r *repoPG) History(ctx context.Context, id string) ([]*StatusChange, error) {
	uid, err := parseID(id)
	if err != nil {
		return nil, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, status, doctor_id, changed_at FROM emergency_status_history
		WHERE emergency_id = $1 ORDER BY changed_at`, uid)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*StatusChange
	for rows.Next() {
		var (
			h        StatusChange
			hid      uuid.UUID
			status   string
			doctorID *string
		)
		if err := rows.Scan(&hid, &status, &doctorID, &h.ChangedAt); err != nil {
			return nil, err
		}
		h.ID = hid.String()
		h.EmergencyID = id
		h.Status = Status(status)
		if doctorID != nil {
			h.DoctorID = *doctorID
		}
		items = append(items, &h)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(items) == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return nil, err
		}
	}
	return items, nil
}

package messaging

import (
	"context"
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

const messageCols = `id, patient_id, doctor_id, patient_name, doctor_name, message, sender, sent_at`

func scanMessage(row pgx.Row) (*Message, error) {
	var (
		m      Message
		id     uuid.UUID
		sender string
		sentAt time.Time
	)
	if err := row.Scan(&id, &m.PatientID, &m.DoctorID, &m.PatientName, &m.DoctorName,
		&m.Message, &sender, &sentAt); err != nil {
		return nil, err
	}
	m.ID = id.String()
	m.Sender = Sender(sender)
	m.Timestamp.Time = sentAt
	return &m, nil
}

func (r *repoPG) Create(ctx context.Context, m *Message) error {
	id := uuid.New()
	var sentAt time.Time
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO messages (id, patient_id, doctor_id, patient_name, doctor_name, message, sender)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING sent_at`,
		id, m.PatientID, m.DoctorID, m.PatientName, m.DoctorName, m.Message, string(m.Sender)).Scan(&sentAt)
	if err != nil {
		return err
	}
	m.ID = id.String()
	m.Timestamp.Time = sentAt
	return nil
}

func (r *repoPG) Conversation(ctx context.Context, patientID, doctorID string) ([]*Message, error) {
	return r.query(ctx, `SELECT `+messageCols+` FROM messages
		WHERE patient_id = $1 AND doctor_id = $2 ORDER BY sent_at, seq`, patientID, doctorID)
}

func (r *repoPG) ListByDoctor(ctx context.Context, doctorID string) ([]*Message, error) {
	return r.query(ctx, `SELECT `+messageCols+` FROM messages
		WHERE doctor_id = $1 ORDER BY sent_at, seq`, doctorID)
}

func (r *repoPG) query(ctx context.Context, sql string, args ...interface{}) ([]*Message, error) {
	rows, err := r.conn(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := make([]*Message, 0)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, m)
	}
	return items, rows.Err()
}

package submission

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sahl/claims-bridge/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type repoPG struct{ pool *pgxpool.Pool }

// NewRepoPG creates the PostgreSQL-backed transaction repository.
func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const txCols = `id, transaction_uuid, facility_id, request_type, payload, signature,
	nphies_id, http_status, response_payload, status, error_message,
	submitted_at, responded_at`

func scanTransaction(row pgx.Row) (*Transaction, error) {
	var t Transaction
	var payload, response []byte
	err := row.Scan(&t.ID, &t.TransactionUUID, &t.FacilityID, &t.RequestType, &payload, &t.Signature,
		&t.NphiesID, &t.HTTPStatus, &response, &t.Status, &t.ErrorMessage,
		&t.SubmittedAt, &t.RespondedAt)
	if err != nil {
		return nil, err
	}
	if len(payload) > 0 {
		_ = json.Unmarshal(payload, &t.Payload)
	}
	if len(response) > 0 {
		_ = json.Unmarshal(response, &t.ResponsePayload)
	}
	return &t, nil
}

func (r *repoPG) Create(ctx context.Context, t *Transaction) error {
	if t.TransactionUUID == uuid.Nil {
		t.TransactionUUID = uuid.New()
	}
	payload, err := json.Marshal(t.Payload)
	if err != nil {
		return err
	}
	response, err := json.Marshal(t.ResponsePayload)
	if err != nil {
		return err
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO submission_transactions (transaction_uuid, facility_id, request_type,
			payload, signature, nphies_id, http_status, response_payload, status,
			error_message, submitted_at, responded_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		RETURNING id`,
		t.TransactionUUID, t.FacilityID, t.RequestType,
		payload, t.Signature, t.NphiesID, t.HTTPStatus, response, t.Status,
		t.ErrorMessage, t.SubmittedAt, t.RespondedAt).Scan(&t.ID)
}

func (r *repoPG) GetByUUID(ctx context.Context, id uuid.UUID) (*Transaction, error) {
	return scanTransaction(r.conn(ctx).QueryRow(ctx,
		`SELECT `+txCols+` FROM submission_transactions WHERE transaction_uuid = $1`, id))
}

func (r *repoPG) ListByFacility(ctx context.Context, facilityID int64, limit, offset int) ([]*Transaction, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM submission_transactions WHERE facility_id = $1`, facilityID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+txCols+` FROM submission_transactions
		WHERE facility_id = $1
		ORDER BY submitted_at DESC
		LIMIT $2 OFFSET $3`, facilityID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, t)
	}
	return out, total, rows.Err()
}

package webhook

import (
	"context"
	"database/sql"

	stderrors "members-service/internal/common/errors"
)

// Ledger records which billing event ids have been applied. The primary key
// on event_id makes the claim atomic: of two concurrent deliveries of the
// same event, exactly one insert lands.
type Ledger struct {
	db *sql.DB
}

func NewLedger(db *sql.DB) *Ledger {
	return &Ledger{db: db}
}

// Claim marks the event id as applied. Returns false when the event was
// already claimed by an earlier delivery.
func (l *Ledger) Claim(ctx context.Context, eventID string) (bool, error) {
	res, err := l.db.ExecContext(ctx,
		`INSERT INTO webhook_events (event_id, received_at) VALUES ($1, now()) ON CONFLICT (event_id) DO NOTHING`,
		eventID)
	if err != nil {
		return false, stderrors.NewStorageError("claim webhook event", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, stderrors.NewStorageError("claim webhook event", err)
	}
	return affected > 0, nil
}

// Release gives the claim back after a failed application so the billing
// processor's retry can run the event again.
func (l *Ledger) Release(ctx context.Context, eventID string) error {
	_, err := l.db.ExecContext(ctx, `DELETE FROM webhook_events WHERE event_id = $1`, eventID)
	if err != nil {
		return stderrors.NewStorageError("release webhook event", err)
	}
	return nil
}

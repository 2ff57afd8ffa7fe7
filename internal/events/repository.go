// Package events stores the append-only member event log. Rows are never
// updated or deleted; the log is the audit trail for every identity and
// billing transition.
package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	stderrors "members-service/internal/common/errors"
	"members-service/internal/common/logger"
	"members-service/internal/models"

	"github.com/google/uuid"
)

type Repository struct {
	db     *sql.DB
	logger logger.Logger
}

func NewRepository(db *sql.DB, log logger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: log.WithFields(map[string]interface{}{"component": "event-repository"}),
	}
}

// Add appends an event. CreatedAt is assigned by the database so ordering
// follows insertion even across writers.
func (r *Repository) Add(ctx context.Context, event models.MemberEvent) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return stderrors.NewStorageError("add event", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO member_events (member_id, event_type, payload, created_at) VALUES ($1, $2, $3, now())`,
		event.MemberID, event.Type, payload)
	if err != nil {
		return stderrors.NewStorageError("add event", err)
	}
	return nil
}

// Query returns events newest-first, narrowed by the filter's member, type
// and limit. Zero-valued filter fields are ignored.
func (r *Repository) Query(ctx context.Context, filter models.EventFilter) ([]models.MemberEvent, error) {
	query := `SELECT id, member_id, event_type, payload, created_at FROM member_events WHERE 1=1`
	var args []interface{}

	if filter.MemberID != uuid.Nil {
		args = append(args, filter.MemberID)
		query += fmt.Sprintf(` AND member_id = $%d`, len(args))
	}
	if filter.Type != "" {
		args = append(args, filter.Type)
		query += fmt.Sprintf(` AND event_type = $%d`, len(args))
	}
	query += ` ORDER BY id DESC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, stderrors.NewStorageError("query events", err)
	}
	defer rows.Close()

	var events []models.MemberEvent
	for rows.Next() {
		var e models.MemberEvent
		var payload []byte
		if err := rows.Scan(&e.ID, &e.MemberID, &e.Type, &payload, &e.CreatedAt); err != nil {
			return nil, stderrors.NewStorageError("query events", err)
		}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &e.Payload); err != nil {
				return nil, stderrors.NewStorageError("query events", err)
			}
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, stderrors.NewStorageError("query events", err)
	}
	return events, nil
}

func (r *Repository) CountByType(ctx context.Context, memberID uuid.UUID, eventType models.EventType) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx,
		`SELECT count(*) FROM member_events WHERE member_id = $1 AND event_type = $2`,
		memberID, eventType).Scan(&count)
	if err != nil {
		return 0, stderrors.NewStorageError("count events", err)
	}
	return count, nil
}

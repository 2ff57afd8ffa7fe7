// Package member implements Postgres-backed storage for member records,
// their subscription links and the mirrored product catalog.
package member

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	stderrors "members-service/internal/common/errors"
	"members-service/internal/common/logger"
	"members-service/internal/geolocation"
	"members-service/internal/models"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

const uniqueViolation = "23505"

// geoTimeout bounds the best-effort geolocation write so it never holds up
// a login response.
const geoTimeout = 500 * time.Millisecond

const memberColumns = `id, email, name, labels, geolocation, status, stripe_customer_id, created_at, updated_at`

// Repository is the single writer for members, subscription links and
// products. Email uniqueness and webhook idempotency are enforced by
// database constraints so concurrent writers cannot race past them.
type Repository struct {
	db     *sql.DB
	geo    geolocation.Geolocator
	logger logger.Logger
}

// NewRepository builds a Repository. The geolocator is optional; without it
// SetGeolocation is a no-op.
func NewRepository(db *sql.DB, geo geolocation.Geolocator, log logger.Logger) *Repository {
	return &Repository{
		db:     db,
		geo:    geo,
		logger: log.WithFields(map[string]interface{}{"component": "member-repository"}),
	}
}

func scanMember(row interface{ Scan(...interface{}) error }) (*models.Member, error) {
	var m models.Member
	var labels pq.StringArray
	var geo []byte
	var customerID sql.NullString

	err := row.Scan(&m.ID, &m.Email, &m.Name, &labels, &geo, &m.Status, &customerID, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	m.Labels = []string(labels)
	if len(geo) > 0 {
		m.Geolocation = json.RawMessage(geo)
	}
	m.StripeCustomerID = customerID.String
	return &m, nil
}

func (r *Repository) getBy(ctx context.Context, where, notFoundDetail string, arg interface{}) (*models.Member, error) {
	query := `SELECT ` + memberColumns + ` FROM members WHERE ` + where
	m, err := scanMember(r.db.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, stderrors.NewMemberNotFoundError(notFoundDetail)
	}
	if err != nil {
		return nil, stderrors.NewStorageError("get member", err)
	}
	return m, nil
}

func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Member, error) {
	return r.getBy(ctx, `id = $1`, "id: "+id.String(), id)
}

func (r *Repository) GetByEmail(ctx context.Context, email string) (*models.Member, error) {
	return r.getBy(ctx, `lower(email) = lower($1)`, "email: "+email, email)
}

func (r *Repository) GetByStripeCustomer(ctx context.Context, customerID string) (*models.Member, error) {
	return r.getBy(ctx, `stripe_customer_id = $1`, "customer: "+customerID, customerID)
}

// Create inserts a new member. A duplicate email surfaces as an
// EmailConflict error regardless of which writer got there first.
func (r *Repository) Create(ctx context.Context, attrs models.NewMember) (*models.Member, error) {
	query := `
		INSERT INTO members (id, email, name, labels, status, created_at, updated_at)
		VALUES ($1, lower($2), $3, $4, $5, now(), now())
		RETURNING ` + memberColumns

	m, err := scanMember(r.db.QueryRowContext(ctx, query,
		uuid.New(), attrs.Email, attrs.Name, pq.Array(attrs.Labels), models.StatusFree))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, stderrors.NewEmailConflictError(attrs.Email)
		}
		return nil, stderrors.NewStorageError("create member", err)
	}

	r.logger.Info("member created", map[string]interface{}{
		"memberId": m.ID.String(),
		"email":    m.Email,
	})
	return m, nil
}

// UpdateEmail moves a member to a new address and records an email-change
// event in the same transaction. The old address is released atomically; a
// lookup by it afterwards misses.
func (r *Repository) UpdateEmail(ctx context.Context, id uuid.UUID, newEmail string) (*models.Member, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, stderrors.NewStorageError("update email", err)
	}
	defer tx.Rollback()

	query := `
		UPDATE members SET email = lower($2), updated_at = now()
		WHERE id = $1
		RETURNING ` + memberColumns

	m, err := scanMember(tx.QueryRowContext(ctx, query, id, newEmail))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, stderrors.NewMemberNotFoundError("id: " + id.String())
	}
	if err != nil {
		if isUniqueViolation(err) {
			return nil, stderrors.NewEmailConflictError(newEmail)
		}
		return nil, stderrors.NewStorageError("update email", err)
	}

	if err := appendEvent(ctx, tx, id, models.EventEmailChange, map[string]interface{}{
		"newEmail": m.Email,
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, stderrors.NewStorageError("update email", err)
	}
	return m, nil
}

// UpdateStatus transitions the member's derived status and records a
// status-change event in the same transaction. Setting the current status
// again is a no-op and records nothing.
func (r *Repository) UpdateStatus(ctx context.Context, id uuid.UUID, status models.MemberStatus) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return stderrors.NewStorageError("update status", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE members SET status = $2, updated_at = now() WHERE id = $1 AND status <> $2`,
		id, status)
	if err != nil {
		return stderrors.NewStorageError("update status", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return stderrors.NewStorageError("update status", err)
	}
	if affected == 0 {
		return nil
	}

	if err := appendEvent(ctx, tx, id, models.EventStatusChange, map[string]interface{}{
		"status": string(status),
	}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return stderrors.NewStorageError("update status", err)
	}

	r.logger.Info("member status changed", map[string]interface{}{
		"memberId": id.String(),
		"status":   string(status),
	})
	return nil
}

func (r *Repository) LinkStripeCustomer(ctx context.Context, id uuid.UUID, customerID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE members SET stripe_customer_id = $2, updated_at = now() WHERE id = $1`,
		id, customerID)
	if err != nil {
		return stderrors.NewStorageError("link customer", err)
	}
	return nil
}

// UpsertSubscription applies a subscription snapshot. An older snapshot for
// the same subscription never overwrites a newer one: out-of-order webhook
// delivery resolves to the latest billing state.
func (r *Repository) UpsertSubscription(ctx context.Context, link models.SubscriptionLink) error {
	query := `
		INSERT INTO subscription_links
			(member_id, subscription_id, customer_id, price_id, product_id, status, current_period_end, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (subscription_id) DO UPDATE SET
			member_id = EXCLUDED.member_id,
			customer_id = EXCLUDED.customer_id,
			price_id = EXCLUDED.price_id,
			product_id = EXCLUDED.product_id,
			status = EXCLUDED.status,
			current_period_end = EXCLUDED.current_period_end,
			updated_at = EXCLUDED.updated_at
		WHERE subscription_links.updated_at <= EXCLUDED.updated_at`

	_, err := r.db.ExecContext(ctx, query,
		link.MemberID, link.SubscriptionID, link.CustomerID, link.PriceID,
		link.ProductID, link.Status, link.CurrentPeriodEnd, link.UpdatedAt)
	if err != nil {
		return stderrors.NewStorageError("upsert subscription", err)
	}
	return nil
}

func (r *Repository) GetSubscriptions(ctx context.Context, memberID uuid.UUID) ([]models.SubscriptionLink, error) {
	query := `
		SELECT id, member_id, subscription_id, customer_id, price_id, product_id, status, current_period_end, updated_at
		FROM subscription_links
		WHERE member_id = $1
		ORDER BY updated_at DESC`

	rows, err := r.db.QueryContext(ctx, query, memberID)
	if err != nil {
		return nil, stderrors.NewStorageError("get subscriptions", err)
	}
	defer rows.Close()

	var links []models.SubscriptionLink
	for rows.Next() {
		var l models.SubscriptionLink
		if err := rows.Scan(&l.ID, &l.MemberID, &l.SubscriptionID, &l.CustomerID,
			&l.PriceID, &l.ProductID, &l.Status, &l.CurrentPeriodEnd, &l.UpdatedAt); err != nil {
			return nil, stderrors.NewStorageError("get subscriptions", err)
		}
		links = append(links, l)
	}
	if err := rows.Err(); err != nil {
		return nil, stderrors.NewStorageError("get subscriptions", err)
	}
	return links, nil
}

// HasActiveSubscription reports whether any of the member's subscriptions is
// in a status that still grants paid access.
func (r *Repository) HasActiveSubscription(ctx context.Context, memberID uuid.UUID) (bool, error) {
	statuses := make([]string, len(models.ActiveLikeStatuses))
	for i, s := range models.ActiveLikeStatuses {
		statuses[i] = string(s)
	}

	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM subscription_links WHERE member_id = $1 AND status = ANY($2))`,
		memberID, pq.Array(statuses)).Scan(&exists)
	if err != nil {
		return false, stderrors.NewStorageError("has active subscription", err)
	}
	return exists, nil
}

// SetGeolocation resolves the IP and stores the result on the member.
// Strictly best-effort: any failure is logged and swallowed, and the lookup
// is bounded so it cannot delay the caller.
func (r *Repository) SetGeolocation(ctx context.Context, email, ip string) error {
	if r.geo == nil || ip == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, geoTimeout)
	defer cancel()

	location, err := r.geo.Lookup(ctx, ip)
	if err != nil {
		r.logger.Warn("geolocation lookup degraded", map[string]interface{}{
			"email": email,
			"error": err.Error(),
		})
		return nil
	}
	if location == nil {
		return nil
	}

	_, err = r.db.ExecContext(ctx,
		`UPDATE members SET geolocation = $2, updated_at = now() WHERE lower(email) = lower($1)`,
		email, []byte(location))
	if err != nil {
		r.logger.Warn("failed to store geolocation", map[string]interface{}{
			"email": email,
			"error": err.Error(),
		})
	}
	return nil
}

// UpsertProduct mirrors a catalog entry from the billing processor.
func (r *Repository) UpsertProduct(ctx context.Context, p models.Product) error {
	query := `
		INSERT INTO products (product_id, name, active, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (product_id) DO UPDATE SET
			name = EXCLUDED.name,
			active = EXCLUDED.active,
			updated_at = EXCLUDED.updated_at
		WHERE products.updated_at <= EXCLUDED.updated_at`

	_, err := r.db.ExecContext(ctx, query, p.ProductID, p.Name, p.Active, p.UpdatedAt)
	if err != nil {
		return stderrors.NewStorageError("upsert product", err)
	}
	return nil
}

func (r *Repository) GetProduct(ctx context.Context, productID string) (*models.Product, error) {
	var p models.Product
	err := r.db.QueryRowContext(ctx,
		`SELECT product_id, name, active, updated_at FROM products WHERE product_id = $1`,
		productID).Scan(&p.ProductID, &p.Name, &p.Active, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, stderrors.NewMemberNotFoundError("product: " + productID)
	}
	if err != nil {
		return nil, stderrors.NewStorageError("get product", err)
	}
	return &p, nil
}

func appendEvent(ctx context.Context, tx *sql.Tx, memberID uuid.UUID, eventType models.EventType, payload map[string]interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return stderrors.NewStorageError("append event", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO member_events (member_id, event_type, payload, created_at) VALUES ($1, $2, $3, now())`,
		memberID, eventType, data)
	if err != nil {
		return stderrors.NewStorageError("append event", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation
}

package member

import (
	"context"
	"database/sql"
	"encoding/json"
	"regexp"
	"testing"
	"time"

	stderrors "members-service/internal/common/errors"
	"members-service/internal/common/logger"
	"members-service/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockRepo(t *testing.T) (*Repository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewRepository(db, nil, logger.NewTestLogger(t)), mock
}

func memberRows(id uuid.UUID, email string) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{
		"id", "email", "name", "labels", "geolocation", "status", "stripe_customer_id", "created_at", "updated_at",
	}).AddRow(id, email, "Test Person", "{beta}", nil, "free", "cus_123", now, now)
}

func TestRepository_GetByEmail(t *testing.T) {
	repo, mock := newMockRepo(t)
	id := uuid.New()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, email, name, labels, geolocation, status, stripe_customer_id, created_at, updated_at FROM members WHERE lower(email) = lower($1)`)).
		WithArgs("test@example.com").
		WillReturnRows(memberRows(id, "test@example.com"))

	m, err := repo.GetByEmail(context.Background(), "test@example.com")
	require.NoError(t, err)
	assert.Equal(t, id, m.ID)
	assert.Equal(t, "test@example.com", m.Email)
	assert.Equal(t, []string{"beta"}, m.Labels)
	assert.Equal(t, "cus_123", m.StripeCustomerID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_GetByEmailNotFound(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery(`SELECT .+ FROM members`).
		WithArgs("missing@example.com").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByEmail(context.Background(), "missing@example.com")
	require.Error(t, err)
	assert.True(t, stderrors.IsCode(err, stderrors.ErrCodeMemberNotFound))
}

func TestRepository_Create(t *testing.T) {
	repo, mock := newMockRepo(t)
	id := uuid.New()

	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO members`)).
		WithArgs(sqlmock.AnyArg(), "new@example.com", "New Person", pq.Array([]string{"beta"}), models.StatusFree).
		WillReturnRows(memberRows(id, "new@example.com"))

	m, err := repo.Create(context.Background(), models.NewMember{
		Email:  "new@example.com",
		Name:   "New Person",
		Labels: []string{"beta"},
	})
	require.NoError(t, err)
	assert.Equal(t, id, m.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_CreateEmailConflict(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO members`)).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "members_email_key"})

	_, err := repo.Create(context.Background(), models.NewMember{Email: "taken@example.com"})
	require.Error(t, err)
	assert.True(t, stderrors.IsCode(err, stderrors.ErrCodeEmailConflict))
}

func TestRepository_UpdateEmail(t *testing.T) {
	repo, mock := newMockRepo(t)
	id := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`UPDATE members SET email = lower($2), updated_at = now()`)).
		WithArgs(id, "after@example.com").
		WillReturnRows(memberRows(id, "after@example.com"))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO member_events`)).
		WithArgs(id, models.EventEmailChange, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	m, err := repo.UpdateEmail(context.Background(), id, "after@example.com")
	require.NoError(t, err)
	assert.Equal(t, "after@example.com", m.Email)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_UpdateEmailConflict(t *testing.T) {
	repo, mock := newMockRepo(t)
	id := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`UPDATE members SET email = lower($2)`)).
		WithArgs(id, "taken@example.com").
		WillReturnError(&pq.Error{Code: "23505", Constraint: "members_email_key"})
	mock.ExpectRollback()

	_, err := repo.UpdateEmail(context.Background(), id, "taken@example.com")
	require.Error(t, err)
	assert.True(t, stderrors.IsCode(err, stderrors.ErrCodeEmailConflict))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_UpdateStatus(t *testing.T) {
	repo, mock := newMockRepo(t)
	id := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE members SET status = $2, updated_at = now() WHERE id = $1 AND status <> $2`)).
		WithArgs(id, models.StatusPaid).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO member_events`)).
		WithArgs(id, models.EventStatusChange, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.UpdateStatus(context.Background(), id, models.StatusPaid))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_UpdateStatusUnchangedRecordsNothing(t *testing.T) {
	repo, mock := newMockRepo(t)
	id := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE members SET status = $2`)).
		WithArgs(id, models.StatusFree).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	require.NoError(t, repo.UpdateStatus(context.Background(), id, models.StatusFree))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_UpsertSubscription(t *testing.T) {
	repo, mock := newMockRepo(t)
	memberID := uuid.New()
	periodEnd := time.Now().Add(30 * 24 * time.Hour)
	updated := time.Now()

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO subscription_links`)).
		WithArgs(memberID, "sub_123", "cus_123", "price_123", "prod_123",
			models.SubscriptionActive, periodEnd, updated).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := repo.UpsertSubscription(context.Background(), models.SubscriptionLink{
		MemberID:         memberID,
		SubscriptionID:   "sub_123",
		CustomerID:       "cus_123",
		PriceID:          "price_123",
		ProductID:        "prod_123",
		Status:           models.SubscriptionActive,
		CurrentPeriodEnd: periodEnd,
		UpdatedAt:        updated,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_HasActiveSubscription(t *testing.T) {
	repo, mock := newMockRepo(t)
	memberID := uuid.New()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT EXISTS`)).
		WithArgs(memberID, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	active, err := repo.HasActiveSubscription(context.Background(), memberID)
	require.NoError(t, err)
	assert.True(t, active)
}

type staticGeo struct {
	result json.RawMessage
	err    error
}

func (g *staticGeo) Lookup(ctx context.Context, ip string) (json.RawMessage, error) {
	return g.result, g.err
}

func TestRepository_SetGeolocation(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	location := json.RawMessage(`{"country":"DE"}`)
	repo := NewRepository(db, &staticGeo{result: location}, logger.NewTestLogger(t))

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE members SET geolocation = $2`)).
		WithArgs("test@example.com", []byte(location)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.SetGeolocation(context.Background(), "test@example.com", "203.0.113.7"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_SetGeolocationSwallowsLookupFailure(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	repo := NewRepository(db, &staticGeo{err: context.DeadlineExceeded}, logger.NewTestLogger(t))

	assert.NoError(t, repo.SetGeolocation(context.Background(), "test@example.com", "203.0.113.7"))
}

func TestRepository_UpsertProduct(t *testing.T) {
	repo, mock := newMockRepo(t)
	updated := time.Now()

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO products`)).
		WithArgs("prod_123", "Premium", true, updated).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := repo.UpsertProduct(context.Background(), models.Product{
		ProductID: "prod_123",
		Name:      "Premium",
		Active:    true,
		UpdatedAt: updated,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

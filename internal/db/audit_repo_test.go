package db

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"lifeline/internal/types"
)

type auditMockRows struct {
	data    []*types.AuditEntry
	idx     int
	closed  bool
	scanErr error
	errVal  error
}

func (r *auditMockRows) Next() bool {
	if r.closed {
		return false
	}
	r.idx++
	return r.idx < len(r.data)
}

func (r *auditMockRows) Scan(dest ...any) error {
	if r.scanErr != nil {
		return r.scanErr
	}
	e := r.data[r.idx]
	*dest[0].(*int64) = e.ID
	*dest[1].(*types.AuditEventType) = e.EventType
	*dest[2].(*string) = e.EntityID
	if e.Actor != "" {
		a := e.Actor
		*dest[3].(**string) = &a
	}
	*dest[4].(*json.RawMessage) = e.Details
	*dest[5].(*time.Time) = e.OccurredAt
	return nil
}

func (r *auditMockRows) Close()                                       { r.closed = true }
func (r *auditMockRows) Err() error                                   { return r.errVal }
func (r *auditMockRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *auditMockRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *auditMockRows) RawValues() [][]byte                          { return nil }
func (r *auditMockRows) Values() ([]any, error)                       { return nil, nil }
func (r *auditMockRows) Conn() *pgx.Conn                              { return nil }

func TestAuditRepository_Append_Success(t *testing.T) {
	db := new(mockDBTX)
	repo := NewAuditRepository(db)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("INSERT 0 1"), nil)

	err := repo.Append(context.Background(), &types.AuditEntry{
		EventType:  types.AuditSwitchTriggered,
		EntityID:   "sw_1",
		Actor:      "scanner",
		Details:    json.RawMessage(`{"reason":"grace_period_expired"}`),
		OccurredAt: time.Date(2026, 8, 29, 14, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	db.AssertExpectations(t)
}

func TestAuditRepository_Append_DBError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewAuditRepository(db)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.CommandTag{}, errors.New("disk full"))

	err := repo.Append(context.Background(), &types.AuditEntry{
		EventType: types.AuditMessageSent,
		EntityID:  "msg_1",
	})
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeInternalDB, appErr.Code)
	db.AssertExpectations(t)
}

func TestAuditRepository_ListBefore_Success(t *testing.T) {
	db := new(mockDBTX)
	repo := NewAuditRepository(db)
	occurred := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	rows := &auditMockRows{
		data: []*types.AuditEntry{
			{ID: 1, EventType: types.AuditSwitchTriggered, EntityID: "sw_1", Actor: "scanner", Details: json.RawMessage(`{}`), OccurredAt: occurred},
			{ID: 2, EventType: types.AuditMessageSent, EntityID: "msg_1", Details: json.RawMessage(`{}`), OccurredAt: occurred},
		},
		idx: -1,
	}

	db.On("Query", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(rows, nil)

	entries, err := repo.ListBefore(context.Background(), time.Now().UTC(), 1000)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, int64(1), entries[0].ID)
	assert.Equal(t, "scanner", entries[0].Actor)
	assert.Equal(t, "", entries[1].Actor)
	db.AssertExpectations(t)
}

func TestAuditRepository_ListBefore_QueryError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewAuditRepository(db)

	db.On("Query", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(nil, errors.New("connection refused"))

	entries, err := repo.ListBefore(context.Background(), time.Now().UTC(), 100)
	require.Error(t, err)
	assert.Nil(t, entries)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeInternalDB, appErr.Code)
	db.AssertExpectations(t)
}

func TestAuditRepository_DeleteByIDs_Success(t *testing.T) {
	db := new(mockDBTX)
	repo := NewAuditRepository(db)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("DELETE 3"), nil)

	count, err := repo.DeleteByIDs(context.Background(), []int64{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
	db.AssertExpectations(t)
}

func TestAuditRepository_DeleteByIDs_EmptySliceIsNoop(t *testing.T) {
	db := new(mockDBTX)
	repo := NewAuditRepository(db)

	count, err := repo.DeleteByIDs(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
	db.AssertNotCalled(t, "Exec", mock.Anything, mock.Anything, mock.Anything)
}

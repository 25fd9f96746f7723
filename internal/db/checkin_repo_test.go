package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"lifeline/internal/types"
)

func TestCheckInRepository_Record_Success(t *testing.T) {
	db := new(mockDBTX)
	repo := NewCheckInRepository(db)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("INSERT 0 1"), nil)

	err := repo.Record(context.Background(), &types.CheckInRecord{
		SwitchID:    "sw_1",
		CheckedInAt: time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC),
		Method:      types.CheckInMethodWeb,
	})
	require.NoError(t, err)
	db.AssertExpectations(t)
}

func TestCheckInRepository_Record_ZeroTimeUsesDBDefault(t *testing.T) {
	db := new(mockDBTX)
	repo := NewCheckInRepository(db)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.MatchedBy(func(args []any) bool {
		if len(args) != 3 {
			return false
		}
		timePtr, ok := args[1].(*time.Time)
		return ok && timePtr == nil
	})).Return(pgconn.NewCommandTag("INSERT 0 1"), nil)

	err := repo.Record(context.Background(), &types.CheckInRecord{
		SwitchID: "sw_1",
		Method:   types.CheckInMethodAPI,
	})
	require.NoError(t, err)
	db.AssertExpectations(t)
}

func TestCheckInRepository_CountSince(t *testing.T) {
	db := new(mockDBTX)
	repo := NewCheckInRepository(db)

	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanFn: func(dest ...any) error {
			*dest[0].(*int) = 5
			return nil
		}})

	count, err := repo.CountSince(context.Background(), "sw_1", time.Now().UTC().AddDate(0, 0, -7))
	require.NoError(t, err)
	assert.Equal(t, 5, count)
	db.AssertExpectations(t)
}

func TestCheckInRepository_DeleteBefore_ReturnsCount(t *testing.T) {
	db := new(mockDBTX)
	repo := NewCheckInRepository(db)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("DELETE 230"), nil)

	count, err := repo.DeleteBefore(context.Background(), time.Now().UTC().AddDate(0, 0, -90))
	require.NoError(t, err)
	assert.Equal(t, int64(230), count)
	db.AssertExpectations(t)
}

func TestCheckInRepository_DeleteBefore_DBError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewCheckInRepository(db)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.CommandTag{}, errors.New("timeout"))

	count, err := repo.DeleteBefore(context.Background(), time.Now().UTC())
	require.Error(t, err)
	assert.Equal(t, int64(0), count)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeInternalDB, appErr.Code)
	db.AssertExpectations(t)
}

package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/prepmint-api/internal/models"
)

func strPtr(value string) *string {
	return &value
}

func TestProfileRepositoryGet(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewProfileRepository(db)

	rows := sqlmock.NewRows([]string{"user_id", "xp", "created_at", "updated_at"}).
		AddRow("user-1", 1100, time.Now(), time.Now())
	mock.ExpectQuery(regexp.QuoteMeta("SELECT user_id, xp, created_at, updated_at FROM user_profiles WHERE user_id = $1")).
		WithArgs("user-1").
		WillReturnRows(rows)

	profile, err := repo.Get(context.Background(), "user-1")
	require.NoError(t, err)
	require.Equal(t, 1100, profile.XP)
	require.Equal(t, 3, profile.Level)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProfileRepositoryAddPointsCreditsProfile(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewProfileRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO user_profiles")).
		WithArgs("user-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO points_ledger")).
		WithArgs(sqlmock.AnyArg(), "user-1", 50, "evaluation_completed", "job-1", nil, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE user_profiles SET xp = xp + $1, updated_at = $2 WHERE user_id = $3")).
		WithArgs(50, sqlmock.AnyArg(), "user-1").
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "xp", "created_at", "updated_at"}).AddRow("user-1", 520, time.Now(), time.Now()))
	mock.ExpectCommit()

	profile, awarded, err := repo.AddPoints(context.Background(), &models.PointsEntry{
		UserID: "user-1",
		Amount: 50,
		Reason: "evaluation_completed",
		JobID:  strPtr("job-1"),
	})
	require.NoError(t, err)
	require.True(t, awarded)
	require.Equal(t, 520, profile.XP)
	require.Equal(t, 2, profile.Level)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProfileRepositoryAddPointsDuplicateJobReason(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewProfileRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO user_profiles")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO points_ledger")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT user_id, xp, created_at, updated_at FROM user_profiles WHERE user_id = $1")).
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "xp", "created_at", "updated_at"}).AddRow("user-1", 75, time.Now(), time.Now()))
	mock.ExpectCommit()

	profile, awarded, err := repo.AddPoints(context.Background(), &models.PointsEntry{
		UserID: "user-1",
		Amount: 25,
		Reason: "perfect_score",
		JobID:  strPtr("job-1"),
	})
	require.NoError(t, err)
	require.False(t, awarded)
	require.Equal(t, 75, profile.XP)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProfileRepositoryAddPointsRollsBackOnFailure(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewProfileRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO user_profiles")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO points_ledger")).
		WillReturnError(context.DeadlineExceeded)
	mock.ExpectRollback()

	_, _, err := repo.AddPoints(context.Background(), &models.PointsEntry{UserID: "user-1", Amount: 5, Reason: "bonus"})
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

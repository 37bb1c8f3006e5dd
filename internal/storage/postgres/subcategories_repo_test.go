package postgres

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/hdvpipeline/internal/storage"
)

func newMockSubCategoriesRepo(t *testing.T) (*subCategoriesRepo, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })
	db := sqlx.NewDb(mockDB, "postgres")
	return &subCategoriesRepo{db: db, timeout: time.Second}, mock
}

func TestSubCategoriesRepoGetByDofusIDFound(t *testing.T) {
	repo, mock := newMockSubCategoriesRepo(t)
	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "dofus_id", "name", "created_at", "updated_at"}).
		AddRow(int64(1), int32(48), "Resources", now, now)
	mock.ExpectQuery("SELECT id, dofus_id, name, created_at, updated_at").
		WithArgs(int32(48)).WillReturnRows(rows)

	sc, err := repo.GetByDofusID(context.Background(), 48)
	require.NoError(t, err)
	assert.Equal(t, "Resources", sc.Name)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubCategoriesRepoGetByDofusIDNotFound(t *testing.T) {
	repo, mock := newMockSubCategoriesRepo(t)
	mock.ExpectQuery("SELECT id, dofus_id, name, created_at, updated_at").
		WithArgs(int32(999)).WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByDofusID(context.Background(), 999)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestSubCategoriesRepoUpsertReturnsRow(t *testing.T) {
	repo, mock := newMockSubCategoriesRepo(t)
	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "dofus_id", "name", "created_at", "updated_at"}).
		AddRow(int64(3), int32(48), "Resources", now, now)
	mock.ExpectQuery("INSERT INTO sub_categories").
		WithArgs(int32(48), "Resources").WillReturnRows(rows)

	sc, err := repo.Upsert(context.Background(), 48, "Resources")
	require.NoError(t, err)
	assert.Equal(t, int64(3), sc.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

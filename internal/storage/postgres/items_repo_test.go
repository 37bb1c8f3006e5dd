package postgres

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/hdvpipeline/internal/storage"
)

func newMockRepo(t *testing.T) (*itemsRepo, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })
	db := sqlx.NewDb(mockDB, "postgres")
	return &itemsRepo{db: db, timeout: time.Second}, mock
}

func TestItemsRepoGetByGidFound(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "item_gid", "item_name", "sub_category_id", "created_at", "updated_at"}).
		AddRow(int64(1), int32(289), nil, nil, now, now)
	mock.ExpectQuery("SELECT id, item_gid, item_name, sub_category_id, created_at, updated_at").
		WithArgs(int32(289)).WillReturnRows(rows)

	item, err := repo.GetByGid(context.Background(), 289)
	require.NoError(t, err)
	assert.Equal(t, int32(289), item.ItemGid)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestItemsRepoGetByGidNotFound(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery("SELECT id, item_gid, item_name, sub_category_id, created_at, updated_at").
		WithArgs(int32(999)).WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByGid(context.Background(), 999)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestItemsRepoInsertConflict(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery("INSERT INTO items").
		WithArgs(int32(289), nil, nil).
		WillReturnError(&pq.Error{Code: "23505"})

	_, err := repo.Insert(context.Background(), storage.Item{ItemGid: 289})
	assert.ErrorIs(t, err, storage.ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

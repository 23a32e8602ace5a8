package progress

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewStore(sqlx.NewDb(db, "sqlmock")), mock
}

func TestRecordQueryInserts(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`INSERT INTO research_progress`).
		WithArgs("run-1", "query", "experian headquarters", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := store.RecordQuery(context.Background(), "run-1", "experian headquarters")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecentReadsNewestFirst(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	rows := sqlmock.NewRows([]string{"id", "run_id", "kind", "detail", "recorded_at"}).
		AddRow(2, "run-1", "visit", "https://example.com", now).
		AddRow(1, "run-1", "query", "example", now.Add(-time.Minute))
	mock.ExpectQuery(`SELECT id, run_id, kind, detail, recorded_at`).
		WithArgs("run-1", 10).
		WillReturnRows(rows)

	entries, err := store.Recent(context.Background(), "run-1", 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, KindVisit, entries[0].Kind)
	assert.Equal(t, "https://example.com", entries[0].Detail)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueriesMadeDeduplicates(t *testing.T) {
	store, mock := newMockStore(t)

	rows := sqlmock.NewRows([]string{"detail"}).
		AddRow("Experian PLC").
		AddRow("experian plc").
		AddRow("experian founders")
	mock.ExpectQuery(`SELECT detail FROM research_progress`).
		WithArgs("run-1", "query").
		WillReturnRows(rows)

	queries, err := store.QueriesMade(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"Experian PLC", "experian founders"}, queries)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordSubTaskInserts(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`INSERT INTO research_progress`).
		WithArgs("run-1", "sub_task", "Sub-task 0 (completed): 2 entities, 1 claims, 0 proposals", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := store.RecordSubTask(context.Background(), "run-1", "Sub-task 0 (completed): 2 entities, 1 claims, 0 proposals")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordPropagatesError(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`INSERT INTO research_progress`).
		WillReturnError(assert.AnError)

	err := store.RecordVisit(context.Background(), "run-1", "https://x.test")
	assert.Error(t, err)
}

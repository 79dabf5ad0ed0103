package db

import (
	"context"
	"errors"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockTx(t *testing.T) (pgxmock.PgxPoolIface, context.Context) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock, context.Background()
}

func TestBulkUpsert(t *testing.T) {
	mock, ctx := newMockTx(t)
	cfg := UpsertConfig{
		Table:        "record_index",
		Columns:      []string{"category", "code", "content_hash"},
		ConflictKeys: []string{"category", "code"},
	}
	rows := [][]any{{"chocolats", "1", "h1"}, {"chocolats", "2", "h2"}}

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE "_tmp_upsert_record_index" \(LIKE "record_index" INCLUDING DEFAULTS\)`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom([]string{"_tmp_upsert_record_index"}, cfg.Columns).WillReturnResult(2)
	mock.ExpectExec(`INSERT INTO "record_index" \("category", "code", "content_hash"\) SELECT .* ON CONFLICT \("category", "code"\) DO UPDATE SET "content_hash" = EXCLUDED."content_hash"`).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectExec(`DROP TABLE "_tmp_upsert_record_index"`).
		WillReturnResult(pgxmock.NewResult("DROP", 0))
	mock.ExpectCommit()

	tx, err := mock.Begin(ctx)
	require.NoError(t, err)
	n, err := BulkUpsert(ctx, tx, cfg, rows)
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))

	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkUpsert_NoRows(t *testing.T) {
	n, err := BulkUpsert(context.Background(), nil, UpsertConfig{}, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestBulkUpsert_InvalidConfig(t *testing.T) {
	rows := [][]any{{"x"}}
	_, err := BulkUpsert(context.Background(), nil, UpsertConfig{Table: "t"}, rows)
	assert.ErrorContains(t, err, "no columns")
	_, err = BulkUpsert(context.Background(), nil, UpsertConfig{Table: "t", Columns: []string{"a"}}, rows)
	assert.ErrorContains(t, err, "no conflict keys")
}

func TestBulkUpsert_CopyFailure(t *testing.T) {
	mock, ctx := newMockTx(t)
	cfg := UpsertConfig{Table: "s.t", Columns: []string{"k", "v"}, ConflictKeys: []string{"k"}}

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE "_tmp_upsert_s_t" \(LIKE "s"."t"`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom([]string{"_tmp_upsert_s_t"}, cfg.Columns).WillReturnError(errors.New("disk full"))

	tx, err := mock.Begin(ctx)
	require.NoError(t, err)
	_, err = BulkUpsert(ctx, tx, cfg, [][]any{{"a", "b"}})
	assert.ErrorContains(t, err, "copy into temp table")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSanitizeTable(t *testing.T) {
	assert.Equal(t, `"record_index"`, sanitizeTable("record_index"))
	assert.Equal(t, `"foodgeo"."record_index"`, sanitizeTable("foodgeo.record_index"))
}

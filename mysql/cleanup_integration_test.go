//go:build integration

package mysql_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/carevia/mailout"
	"github.com/carevia/mailout/mysql"
)

func TestStoreCleanupIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test disabled in short mode")
	}

	ctx := context.Background()
	container, db := startMySQLContainer(t, ctx)
	t.Cleanup(func() {
		_ = db.Close()
		_ = container.Terminate(ctx)
	})

	setupSchema(t, ctx, db)

	store, err := mysql.NewStore(db)
	require.NoError(t, err)

	entries := []mailout.Entry{
		testEntry("a@example.com"),
		testEntry("b@example.com"),
		testEntry("c@example.com"),
	}
	insertEntries(t, ctx, db, store, entries)

	ids := fetchAllIDs(t, ctx, db)
	require.Len(t, ids, 3)

	now := time.Now().UTC()
	old := now.Add(-2 * time.Hour)
	recent := now.Add(-10 * time.Minute)

	setResolved(t, ctx, db, ids[0], mailout.StatusSent, &old, old)
	setResolved(t, ctx, db, ids[1], mailout.StatusSent, &recent, recent)
	setResolved(t, ctx, db, ids[2], mailout.StatusExhausted, nil, old)

	res, err := store.Cleanup(ctx, mysql.CleanupOptions{
		Before:           now.Add(-1 * time.Hour),
		Limit:            10,
		IncludeExhausted: true,
	})
	require.NoError(t, err)
	require.EqualValues(t, 1, res.Sent)
	require.EqualValues(t, 1, res.Exhausted)

	require.Equal(t, 1, countByStatus(t, ctx, db, mailout.StatusSent))
	require.Equal(t, 0, countByStatus(t, ctx, db, mailout.StatusExhausted))
}

func TestStoreCleanupKeepsExhaustedByDefaultIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test disabled in short mode")
	}

	ctx := context.Background()
	container, db := startMySQLContainer(t, ctx)
	t.Cleanup(func() {
		_ = db.Close()
		_ = container.Terminate(ctx)
	})

	setupSchema(t, ctx, db)

	store, err := mysql.NewStore(db)
	require.NoError(t, err)

	insertEntries(t, ctx, db, store, []mailout.Entry{testEntry("a@example.com")})
	ids := fetchAllIDs(t, ctx, db)
	require.Len(t, ids, 1)

	now := time.Now().UTC()
	old := now.Add(-2 * time.Hour)
	setResolved(t, ctx, db, ids[0], mailout.StatusExhausted, nil, old)

	res, err := store.Cleanup(ctx, mysql.CleanupOptions{
		Before: now.Add(-1 * time.Hour),
		Limit:  10,
	})
	require.NoError(t, err)
	require.EqualValues(t, 0, res.Sent)
	require.EqualValues(t, 0, res.Exhausted)
	require.Equal(t, 1, countByStatus(t, ctx, db, mailout.StatusExhausted))
}

func TestStoreCleanupLimitIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test disabled in short mode")
	}

	ctx := context.Background()
	container, db := startMySQLContainer(t, ctx)
	t.Cleanup(func() {
		_ = db.Close()
		_ = container.Terminate(ctx)
	})

	setupSchema(t, ctx, db)

	store, err := mysql.NewStore(db)
	require.NoError(t, err)

	entries := []mailout.Entry{
		testEntry("a@example.com"),
		testEntry("b@example.com"),
		testEntry("c@example.com"),
	}
	insertEntries(t, ctx, db, store, entries)

	ids := fetchAllIDs(t, ctx, db)
	require.Len(t, ids, 3)

	now := time.Now().UTC()
	old := now.Add(-2 * time.Hour)
	for _, id := range ids {
		setResolved(t, ctx, db, id, mailout.StatusSent, &old, old)
	}

	res, err := store.Cleanup(ctx, mysql.CleanupOptions{
		Before: now.Add(-1 * time.Hour),
		Limit:  1,
	})
	require.NoError(t, err)
	require.EqualValues(t, 1, res.Sent)
	require.Equal(t, 2, countByStatus(t, ctx, db, mailout.StatusSent))

	res, err = store.Cleanup(ctx, mysql.CleanupOptions{
		Before: now.Add(-1 * time.Hour),
		Limit:  5,
	})
	require.NoError(t, err)
	require.EqualValues(t, 2, res.Sent)
	require.Equal(t, 0, countByStatus(t, ctx, db, mailout.StatusSent))
}

func fetchAllIDs(t *testing.T, ctx context.Context, db *sql.DB) []string {
	t.Helper()
	rows, err := db.QueryContext(ctx, "SELECT id FROM email_outbox ORDER BY id ASC")
	require.NoError(t, err)
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		require.NoError(t, rows.Scan(&id))
		ids = append(ids, id)
	}
	require.NoError(t, rows.Err())

	return ids
}

func setResolved(t *testing.T, ctx context.Context, db *sql.DB, id string, status mailout.Status, sentAt *time.Time, updatedAt time.Time) {
	t.Helper()
	var sent any
	if sentAt != nil {
		sent = *sentAt
	}
	_, err := db.ExecContext(
		ctx,
		"UPDATE email_outbox SET status = ?, sent_at = ?, updated_at = ? WHERE id = ?",
		status,
		sent,
		updatedAt,
		id,
	)
	require.NoError(t, err)
}

package db

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/chicify/socialgraph/internal/graph"
)

// newDryRunStore builds a store whose statements are recorded instead of
// executed
func newDryRunStore(t *testing.T) (*Store, *[]string) {
	t.Helper()
	gdb, err := gorm.Open(postgres.New(postgres.Config{
		DSN: "host=localhost user=test dbname=test sslmode=disable",
	}), &gorm.Config{
		DryRun:                 true,
		SkipDefaultTransaction: true,
		DisableAutomaticPing:   true,
		Logger:                 logger.Discard,
	})
	require.NoError(t, err)

	var statements []string
	capture := func(tx *gorm.DB) {
		statements = append(statements, tx.Statement.SQL.String())
	}
	require.NoError(t, gdb.Callback().Query().After("gorm:query").Register("test:capture", capture))
	require.NoError(t, gdb.Callback().Row().After("gorm:row").Register("test:capture", capture))
	require.NoError(t, gdb.Callback().Create().After("gorm:create").Register("test:capture", capture))

	return NewStore(gdb), &statements
}

func last(t *testing.T, statements *[]string) string {
	t.Helper()
	require.NotEmpty(t, *statements)
	return (*statements)[len(*statements)-1]
}

func TestIsUniqueViolation(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		unique bool
		fk     bool
	}{
		{"nil", nil, false, false},
		{"translated duplicate", fmt.Errorf("insert: %w", gorm.ErrDuplicatedKey), true, false},
		{"driver message", errors.New("ERROR: duplicate key value violates unique constraint \"follows_pkey\" (SQLSTATE 23505)"), true, false},
		{"translated foreign key", gorm.ErrForeignKeyViolated, false, true},
		{"foreign key message", errors.New("ERROR: insert or update violates foreign key constraint (SQLSTATE 23503)"), false, true},
		{"other", errors.New("connection reset by peer"), false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.unique, IsUniqueViolation(tt.err))
			assert.Equal(t, tt.fk, IsForeignKeyViolation(tt.err))
		})
	}
}

func TestWrapMarksUnavailable(t *testing.T) {
	assert.NoError(t, wrap("noop", nil))
	err := wrap("get user", context.DeadlineExceeded)
	assert.Equal(t, graph.CodeUnavailable, graph.CodeOf(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCounterColumn(t *testing.T) {
	tests := []struct {
		field  graph.CounterField
		table  string
		column string
	}{
		{graph.FieldFollowers, "users", "followers_count"},
		{graph.FieldFollowing, "users", "following_count"},
		{graph.FieldLikes, "outfits", "likes_count"},
	}
	for _, tt := range tests {
		t.Run(string(tt.field), func(t *testing.T) {
			table, column, err := counterColumn(tt.field)
			require.NoError(t, err)
			assert.Equal(t, tt.table, table)
			assert.Equal(t, tt.column, column)
		})
	}

	_, _, err := counterColumn("views")
	assert.ErrorIs(t, err, graph.ErrInvalidArgument)
}

func TestInsertValidatesBeforeWriting(t *testing.T) {
	store, statements := newDryRunStore(t)
	id := uuid.NewString()

	err := store.Insert(context.Background(), graph.Edge{Kind: graph.KindFollow, Source: id, Target: id})
	assert.ErrorIs(t, err, graph.ErrSelfReference)
	err = store.Insert(context.Background(), graph.Edge{Kind: "block", Source: id, Target: uuid.NewString()})
	assert.ErrorIs(t, err, graph.ErrInvalidArgument)
	assert.Empty(t, *statements)
}

func TestEdgeStatements(t *testing.T) {
	ctx := context.Background()
	store, statements := newDryRunStore(t)
	a, b := uuid.NewString(), uuid.NewString()

	require.NoError(t, store.Insert(ctx, graph.Edge{Kind: graph.KindFollow, Source: a, Target: b, CreatedAt: time.Now()}))
	assert.Contains(t, last(t, statements), `INSERT INTO "follows"`)

	_, _ = store.ListBySource(ctx, graph.KindFollow, a)
	sql := last(t, statements)
	assert.Contains(t, sql, "follower_id AS source")
	assert.Contains(t, sql, "follower_id = $1")
	assert.Contains(t, sql, "ORDER BY created_at DESC")
	assert.Contains(t, sql, "followee_id ASC")

	_, _ = store.ListByTarget(ctx, graph.KindLike, b)
	sql = last(t, statements)
	assert.Contains(t, sql, `FROM "likes"`)
	assert.Contains(t, sql, "item_id = $1")

	_, _ = store.Remove(ctx, graph.KindLike, a, b)
	assert.Contains(t, last(t, statements), "DELETE FROM likes WHERE user_id = $1 AND item_id = $2 RETURNING")
}

func TestAdjustStatement(t *testing.T) {
	store, statements := newDryRunStore(t)

	_, _ = store.Adjust(context.Background(), graph.CounterRef{Field: graph.FieldFollowers, ID: uuid.NewString()}, -1)
	sql := last(t, statements)
	assert.Contains(t, sql, "FROM users WHERE id = $1 FOR UPDATE")
	assert.Contains(t, sql, "SET followers_count = GREATEST(prev.value + $2, 0)")
	assert.Contains(t, sql, "RETURNING prev.value")
}

func TestListIDsStatement(t *testing.T) {
	store, statements := newDryRunStore(t)

	_, _ = store.ListItemIDs(context.Background(), "", 10)
	sql := last(t, statements)
	assert.Contains(t, sql, `FROM "outfits"`)
	assert.NotContains(t, sql, "id >")

	_, _ = store.ListUserIDs(context.Background(), uuid.NewString(), 10)
	sql = last(t, statements)
	assert.Contains(t, sql, `FROM "users"`)
	assert.Contains(t, sql, "id > $1")
	assert.Contains(t, sql, "ORDER BY id ASC")
}

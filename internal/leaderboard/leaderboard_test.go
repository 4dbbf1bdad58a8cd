package leaderboard

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	entries []Entry
}

func (f *fakeSource) TopPoints(_ context.Context, limit int) ([]Entry, error) {
	if limit > len(f.entries) {
		limit = len(f.entries)
	}
	out := make([]Entry, limit)
	copy(out, f.entries[:limit])
	return out, nil
}

func (f *fakeSource) AllPoints(ctx context.Context) ([]Entry, error) {
	return f.TopPoints(ctx, len(f.entries))
}

func newRedisBoard(t *testing.T, source Source) (*Board, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return New(client, source), mr
}

func TestSetAndTop(t *testing.T) {
	board, _ := newRedisBoard(t, nil)
	ctx := context.Background()

	require.NoError(t, board.Set(ctx, "usr_a", 40))
	require.NoError(t, board.Set(ctx, "usr_b", 120))
	require.NoError(t, board.Set(ctx, "usr_c", 75))
	require.NoError(t, board.Set(ctx, "usr_a", 200))

	top, err := board.Top(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []Entry{
		{Rank: 1, UserID: "usr_a", Points: 200},
		{Rank: 2, UserID: "usr_b", Points: 120},
	}, top)

	rank, err := board.Rank(ctx, "usr_c")
	require.NoError(t, err)
	assert.Equal(t, 3, rank)

	rank, err = board.Rank(ctx, "usr_missing")
	require.NoError(t, err)
	assert.Zero(t, rank)
}

func TestTopFallsBackWhenRedisDown(t *testing.T) {
	source := &fakeSource{entries: []Entry{{UserID: "usr_db", Points: 9}}}
	board, mr := newRedisBoard(t, source)
	mr.Close()

	top, err := board.Top(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, []Entry{{Rank: 1, UserID: "usr_db", Points: 9}}, top)
}

func TestWithoutRedisUsesSource(t *testing.T) {
	source := &fakeSource{entries: []Entry{{UserID: "usr_1", Points: 30}, {UserID: "usr_2", Points: 10}}}
	board := New(nil, source)
	ctx := context.Background()

	require.NoError(t, board.Set(ctx, "usr_3", 99))

	top, err := board.Top(ctx, 10)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, 2, top[1].Rank)

	rank, err := board.Rank(ctx, "usr_2")
	require.NoError(t, err)
	assert.Equal(t, 2, rank)
}

func TestRebuild(t *testing.T) {
	source := &fakeSource{entries: []Entry{{UserID: "usr_1", Points: 30}, {UserID: "usr_2", Points: 10}}}
	board, mr := newRedisBoard(t, source)
	ctx := context.Background()
	require.NoError(t, board.Set(ctx, "usr_stale", 1000))

	n, err := board.Rebuild(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	members, err := mr.ZMembers(Key)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"usr_1", "usr_2"}, members)
}

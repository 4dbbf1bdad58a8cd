// Package leaderboard ranks users by total points in a Redis sorted set.
package leaderboard

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/GDIPSA-Team2/ecoplate/internal/logging"
)

const Key = "leaderboard:points"

type Entry struct {
	Rank        int    `json:"rank" db:"rank"`
	UserID      string `json:"userId" db:"user_id"`
	DisplayName string `json:"displayName,omitempty" db:"display_name"`
	Points      int    `json:"points" db:"total_points"`
}

// Source is the relational fallback used when Redis is absent or failing.
type Source interface {
	TopPoints(ctx context.Context, limit int) ([]Entry, error)
	AllPoints(ctx context.Context) ([]Entry, error)
}

type Board struct {
	client *redis.Client
	source Source
}

// New returns a board backed by client. A nil client serves every read from
// source.
func New(client *redis.Client, source Source) *Board {
	return &Board{client: client, source: source}
}

func (b *Board) Set(ctx context.Context, userID string, points int) error {
	if b.client == nil {
		return nil
	}
	if err := b.client.ZAdd(ctx, Key, redis.Z{Score: float64(points), Member: userID}).Err(); err != nil {
		return fmt.Errorf("update leaderboard: %w", err)
	}
	return nil
}

// Top returns the n highest scores. Ties keep Redis' reverse lexical order.
func (b *Board) Top(ctx context.Context, n int) ([]Entry, error) {
	if n <= 0 {
		n = 10
	}
	if b.client == nil {
		return b.fromSource(ctx, n)
	}
	zs, err := b.client.ZRevRangeWithScores(ctx, Key, 0, int64(n-1)).Result()
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).Msg("leaderboard redis read failed, using database")
		return b.fromSource(ctx, n)
	}
	out := make([]Entry, 0, len(zs))
	for i, z := range zs {
		member, _ := z.Member.(string)
		out = append(out, Entry{Rank: i + 1, UserID: member, Points: int(z.Score)})
	}
	return out, nil
}

// Rank returns the 1-based position of userID, or 0 when unranked.
func (b *Board) Rank(ctx context.Context, userID string) (int, error) {
	if b.client == nil {
		entries, err := b.fromSource(ctx, 0)
		if err != nil {
			return 0, err
		}
		for _, e := range entries {
			if e.UserID == userID {
				return e.Rank, nil
			}
		}
		return 0, nil
	}
	rank, err := b.client.ZRevRank(ctx, Key, userID).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("leaderboard rank: %w", err)
	}
	return int(rank) + 1, nil
}

// Rebuild replaces the sorted set with the scores held by source.
func (b *Board) Rebuild(ctx context.Context) (int, error) {
	if b.client == nil || b.source == nil {
		return 0, nil
	}
	entries, err := b.source.AllPoints(ctx)
	if err != nil {
		return 0, fmt.Errorf("load points: %w", err)
	}
	members := make([]redis.Z, 0, len(entries))
	for _, e := range entries {
		members = append(members, redis.Z{Score: float64(e.Points), Member: e.UserID})
	}
	_, err = b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, Key)
		if len(members) > 0 {
			pipe.ZAdd(ctx, Key, members...)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("rebuild leaderboard: %w", err)
	}
	return len(members), nil
}

func (b *Board) fromSource(ctx context.Context, n int) ([]Entry, error) {
	if b.source == nil {
		return []Entry{}, nil
	}
	var (
		entries []Entry
		err     error
	)
	if n > 0 {
		entries, err = b.source.TopPoints(ctx, n)
	} else {
		entries, err = b.source.AllPoints(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("leaderboard from database: %w", err)
	}
	for i := range entries {
		entries[i].Rank = i + 1
	}
	return entries, nil
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/GDIPSA-Team2/ecoplate/internal/gamification"
	"github.com/GDIPSA-Team2/ecoplate/internal/leaderboard"
	"github.com/GDIPSA-Team2/ecoplate/internal/util"
)

// last_active_on is nullable; the zero date scans to a zero time.Time.
const statsColumns = `user_id, total_points, consumed_count, wasted_count, shared_count, sold_count,
	bought_count, current_streak, longest_streak, COALESCE(last_active_on, DATE '0001-01-01') AS last_active_on`

type PointEventRow struct {
	ID        string    `db:"id" json:"id"`
	Action    string    `db:"action" json:"action"`
	Delta     int       `db:"delta" json:"delta"`
	Reason    string    `db:"reason" json:"reason"`
	RefID     *string   `db:"ref_id" json:"refId,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// SeedBadges upserts the badge catalogue and returns how many rows it wrote.
func (s *PostgresStore) SeedBadges(ctx context.Context, badges []gamification.Badge) (int, error) {
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		for _, b := range badges {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO badges (code, name, description, category, metric, threshold, bonus_points)
				VALUES ($1, $2, $3, $4, $5, $6, $7)
				ON CONFLICT (code) DO UPDATE SET
					name = EXCLUDED.name, description = EXCLUDED.description, category = EXCLUDED.category,
					metric = EXCLUDED.metric, threshold = EXCLUDED.threshold, bonus_points = EXCLUDED.bonus_points
			`, b.Code, b.Name, b.Description, b.Category, string(b.Metric), b.Threshold, b.BonusPoints); err != nil {
				return fmt.Errorf("upsert badge %s: %w", b.Code, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(badges), nil
}

func (s *PostgresStore) GetStats(ctx context.Context, userID string) (gamification.Stats, error) {
	var stats gamification.Stats
	err := s.db.GetContext(ctx, &stats, `SELECT `+statsColumns+` FROM user_points WHERE user_id = $1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return gamification.Stats{UserID: userID}, nil
	}
	if err != nil {
		return gamification.Stats{}, fmt.Errorf("load stats: %w", err)
	}
	return stats, nil
}

func (s *PostgresStore) ListUserBadges(ctx context.Context, userID string) ([]UserBadge, error) {
	out := []UserBadge{}
	err := s.db.SelectContext(ctx, &out, `
		SELECT badge_code, earned_at FROM user_badges WHERE user_id = $1 ORDER BY earned_at ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list user badges: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) ListPointEvents(ctx context.Context, userID string, limit int) ([]PointEventRow, error) {
	if limit <= 0 {
		limit = 20
	}
	out := []PointEventRow{}
	err := s.db.SelectContext(ctx, &out, `
		SELECT id, action, delta, reason, ref_id, created_at FROM point_events
		WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list point events: %w", err)
	}
	return out, nil
}

// ApplyGamification locks the user's counters, lets apply compute the
// outcome, and persists counters, ledger entries and badges atomically.
func (s *PostgresStore) ApplyGamification(
	ctx context.Context,
	userID, refID string,
	apply func(stats gamification.Stats, earned map[string]bool) gamification.Outcome,
) (gamification.Outcome, error) {
	var out gamification.Outcome
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT INTO user_points (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`, userID); err != nil {
			return fmt.Errorf("ensure user points: %w", err)
		}
		var stats gamification.Stats
		if err := tx.GetContext(ctx, &stats, `SELECT `+statsColumns+` FROM user_points WHERE user_id = $1 FOR UPDATE`, userID); err != nil {
			return fmt.Errorf("lock user points: %w", err)
		}
		var codes []string
		if err := tx.SelectContext(ctx, &codes, `SELECT badge_code FROM user_badges WHERE user_id = $1`, userID); err != nil {
			return fmt.Errorf("load earned badges: %w", err)
		}
		earned := make(map[string]bool, len(codes))
		for _, c := range codes {
			earned[c] = true
		}

		out = apply(stats, earned)
		next := out.Stats

		var lastActive *time.Time
		if !next.LastActiveOn.IsZero() {
			d := next.LastActiveOn
			lastActive = &d
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE user_points
			SET total_points = $2, consumed_count = $3, wasted_count = $4, shared_count = $5, sold_count = $6,
				bought_count = $7, current_streak = $8, longest_streak = $9, last_active_on = $10, updated_at = NOW()
			WHERE user_id = $1
		`, userID, next.TotalPoints, next.Consumed, next.Wasted, next.Shared, next.Sold,
			next.Bought, next.CurrentStreak, next.LongestStreak, lastActive); err != nil {
			return fmt.Errorf("update user points: %w", err)
		}

		var ref *string
		if refID != "" {
			ref = &refID
		}
		for _, ev := range out.Events {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO point_events (id, user_id, action, delta, reason, ref_id)
				VALUES ($1, $2, $3, $4, $5, $6)
			`, util.NewID("pev"), userID, string(ev.Action), ev.Delta, ev.Reason, ref); err != nil {
				return fmt.Errorf("insert point event: %w", err)
			}
		}
		for _, a := range out.Awards {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO user_badges (user_id, badge_code, earned_at) VALUES ($1, $2, $3)
				ON CONFLICT (user_id, badge_code) DO NOTHING
			`, userID, a.Badge.Code, a.EarnedAt); err != nil {
				return fmt.Errorf("insert user badge: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return gamification.Outcome{}, err
	}
	return out, nil
}

func (s *PostgresStore) TopPoints(ctx context.Context, limit int) ([]leaderboard.Entry, error) {
	out := []leaderboard.Entry{}
	err := s.db.SelectContext(ctx, &out, `
		SELECT up.user_id, u.display_name, up.total_points
		FROM user_points up
		JOIN users u ON u.id = up.user_id
		ORDER BY up.total_points DESC, up.user_id ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("top points: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) AllPoints(ctx context.Context) ([]leaderboard.Entry, error) {
	out := []leaderboard.Entry{}
	err := s.db.SelectContext(ctx, &out, `
		SELECT up.user_id, u.display_name, up.total_points
		FROM user_points up
		JOIN users u ON u.id = up.user_id
		ORDER BY up.total_points DESC, up.user_id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("all points: %w", err)
	}
	return out, nil
}

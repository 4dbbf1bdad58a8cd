package app

import (
	"context"
	"fmt"
	"time"

	"github.com/GDIPSA-Team2/ecoplate/internal/gamification"
	"github.com/GDIPSA-Team2/ecoplate/internal/leaderboard"
	"github.com/GDIPSA-Team2/ecoplate/internal/logging"
	"github.com/GDIPSA-Team2/ecoplate/internal/metrics"
	"github.com/GDIPSA-Team2/ecoplate/internal/rbac"
	"github.com/GDIPSA-Team2/ecoplate/internal/store"
)

const (
	NotificationBadgeEarned = "badge_earned"

	defaultLeaderboardLimit = 10
	maxLeaderboardLimit     = 100
)

// GamificationDelta is what a single action changed, returned to the client
// so it can show points and new badges straight away.
type GamificationDelta struct {
	PointsDelta   int                  `json:"pointsDelta"`
	TotalPoints   int                  `json:"totalPoints"`
	CurrentStreak int                  `json:"currentStreak"`
	Awards        []gamification.Award `json:"newBadges"`
}

func deltaOf(out gamification.Outcome) GamificationDelta {
	awards := out.Awards
	if awards == nil {
		awards = []gamification.Award{}
	}
	return GamificationDelta{
		PointsDelta:   out.PointsDelta(),
		TotalPoints:   out.Stats.TotalPoints,
		CurrentStreak: out.Stats.CurrentStreak,
		Awards:        awards,
	}
}

// award scores one action for userID and fans the result out to metrics,
// the leaderboard and the user's notifications.
func (s *Service) award(ctx context.Context, userID string, action gamification.Action, refID string) (gamification.Outcome, error) {
	at := s.now()
	out, err := s.store.ApplyGamification(ctx, userID, refID, func(stats gamification.Stats, earned map[string]bool) gamification.Outcome {
		return s.engine.Apply(stats, earned, action, at)
	})
	if err != nil {
		return gamification.Outcome{}, fmt.Errorf("apply %s: %w", action, err)
	}

	for _, ev := range out.Events {
		metrics.RecordPoints(string(ev.Action), ev.Delta)
	}
	if err := s.board.Set(ctx, userID, out.Stats.TotalPoints); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("user_id", userID).Msg("leaderboard update failed")
	}
	for _, a := range out.Awards {
		metrics.RecordBadge(a.Badge.Code)
		code := a.Badge.Code
		s.notify(ctx, store.Notification{
			UserID: userID,
			Type:   NotificationBadgeEarned,
			Title:  "Badge earned: " + a.Badge.Name,
			Body:   a.Badge.Description,
			RefID:  &code,
		})
	}
	logging.Ctx(ctx).Debug().
		Str("user_id", userID).
		Str("action", string(action)).
		Int("delta", out.PointsDelta()).
		Int("awards", len(out.Awards)).
		Msg("gamification applied")
	return out, nil
}

type EarnedBadge struct {
	Badge    gamification.Badge `json:"badge"`
	EarnedAt time.Time          `json:"earnedAt"`
}

type Profile struct {
	Stats        gamification.Stats      `json:"stats"`
	WasteRate    float64                 `json:"wasteRate"`
	Rank         int                     `json:"rank"`
	Badges       []EarnedBadge           `json:"badges"`
	Progress     []gamification.Progress `json:"progress"`
	RecentEvents []store.PointEventRow   `json:"recentEvents"`
}

func (s *Service) GamificationProfile(ctx context.Context, sess Session) (Profile, error) {
	stats, err := s.store.GetStats(ctx, sess.UserID)
	if err != nil {
		return Profile{}, err
	}
	rows, err := s.store.ListUserBadges(ctx, sess.UserID)
	if err != nil {
		return Profile{}, err
	}
	earned := make(map[string]time.Time, len(rows))
	badges := make([]EarnedBadge, 0, len(rows))
	for _, r := range rows {
		earned[r.BadgeCode] = r.EarnedAt
		if b, ok := gamification.LookupBadge(r.BadgeCode); ok {
			badges = append(badges, EarnedBadge{Badge: b, EarnedAt: r.EarnedAt})
		}
	}
	events, err := s.store.ListPointEvents(ctx, sess.UserID, 20)
	if err != nil {
		return Profile{}, err
	}
	rank, err := s.board.Rank(ctx, sess.UserID)
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).Msg("leaderboard rank unavailable")
	}
	return Profile{
		Stats:        stats,
		WasteRate:    stats.WasteRate(),
		Rank:         rank,
		Badges:       badges,
		Progress:     gamification.BadgeProgress(stats, earned),
		RecentEvents: events,
	}, nil
}

func (s *Service) BadgeCatalogue() []gamification.Badge {
	return gamification.Catalogue()
}

// Leaderboard returns the top scorers with display names filled in.
func (s *Service) Leaderboard(ctx context.Context, limit int) ([]leaderboard.Entry, error) {
	switch {
	case limit <= 0:
		limit = defaultLeaderboardLimit
	case limit > maxLeaderboardLimit:
		limit = maxLeaderboardLimit
	}
	entries, err := s.board.Top(ctx, limit)
	if err != nil {
		return nil, err
	}
	var missing []string
	for _, e := range entries {
		if e.DisplayName == "" {
			missing = append(missing, e.UserID)
		}
	}
	if len(missing) > 0 {
		users, err := s.store.GetUsersByIDs(ctx, missing)
		if err != nil {
			return nil, err
		}
		for i := range entries {
			if u, ok := users[entries[i].UserID]; ok && entries[i].DisplayName == "" {
				entries[i].DisplayName = u.DisplayName
			}
		}
	}
	return entries, nil
}

// SeedBadges writes the built-in badge catalogue. Admin only.
func (s *Service) SeedBadges(ctx context.Context, sess Session) (int, error) {
	if !s.Can(sess.Role, rbac.ActionAdmin) {
		return 0, forbidden("Only admins can reseed badges")
	}
	n, err := s.store.SeedBadges(ctx, gamification.Catalogue())
	if err != nil {
		return 0, err
	}
	logging.Ctx(ctx).Info().Int("badges", n).Str("user_id", sess.UserID).Msg("badge catalogue seeded")
	return n, nil
}

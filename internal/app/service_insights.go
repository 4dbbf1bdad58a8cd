package app

import (
	"context"
	"errors"
	"net/http"
	"sort"

	"github.com/GDIPSA-Team2/ecoplate/internal/gamification"
	"github.com/GDIPSA-Team2/ecoplate/internal/report"
	"github.com/GDIPSA-Team2/ecoplate/internal/wastemetrics"
)

// dashboardExpiryDays is how far ahead the dashboard counts expiring food.
const dashboardExpiryDays = 3

func (s *Service) WasteMetrics(ctx context.Context, sess Session, rawPeriod string) (wastemetrics.Report, error) {
	period, err := wastemetrics.ParsePeriod(rawPeriod)
	if err != nil {
		return wastemetrics.Report{}, invalidInput(err.Error(), map[string]string{"period": rawPeriod})
	}
	now := s.now()
	rows, err := s.store.ListInteractions(ctx, sess.UserID, period.Start(now, s.loc))
	if err != nil {
		return wastemetrics.Report{}, err
	}
	return wastemetrics.Calculate(interactionEvents(rows), period, now, s.loc), nil
}

type DashboardSummary struct {
	Metrics         wastemetrics.Report `json:"metrics"`
	Stats           gamification.Stats  `json:"stats"`
	BadgesEarned    int                 `json:"badgesEarned"`
	ExpiringSoon    int                 `json:"expiringSoon"`
	ActiveListings  int                 `json:"activeListings"`
	UnreadMessages  int                 `json:"unreadMessages"`
	UnreadAlerts    int                 `json:"unreadNotifications"`
	LeaderboardRank int                 `json:"leaderboardRank"`
}

func (s *Service) Dashboard(ctx context.Context, sess Session) (DashboardSummary, error) {
	metrics, err := s.WasteMetrics(ctx, sess, string(wastemetrics.PeriodMonth))
	if err != nil {
		return DashboardSummary{}, err
	}
	out := DashboardSummary{Metrics: metrics}
	if out.Stats, err = s.store.GetStats(ctx, sess.UserID); err != nil {
		return DashboardSummary{}, err
	}
	badges, err := s.store.ListUserBadges(ctx, sess.UserID)
	if err != nil {
		return DashboardSummary{}, err
	}
	out.BadgesEarned = len(badges)
	until := s.today().AddDate(0, 0, dashboardExpiryDays)
	if out.ExpiringSoon, err = s.store.CountExpiringProducts(ctx, sess.UserID, until); err != nil {
		return DashboardSummary{}, err
	}
	if out.ActiveListings, err = s.store.CountActiveListings(ctx, sess.UserID); err != nil {
		return DashboardSummary{}, err
	}
	if out.UnreadMessages, err = s.store.CountUnreadMessages(ctx, sess.UserID); err != nil {
		return DashboardSummary{}, err
	}
	if out.UnreadAlerts, err = s.store.CountUnreadNotifications(ctx, sess.UserID); err != nil {
		return DashboardSummary{}, err
	}
	out.LeaderboardRank, _ = s.board.Rank(ctx, sess.UserID)
	return out, nil
}

// ImpactReport renders the caller's waste metrics and badges as HTML or PDF.
func (s *Service) ImpactReport(ctx context.Context, sess Session, rawPeriod, rawFormat string) (*report.Result, error) {
	format, err := report.ParseFormat(rawFormat)
	if err != nil {
		return nil, invalidInput(err.Error(), map[string]string{"format": rawFormat})
	}
	metrics, err := s.WasteMetrics(ctx, sess, rawPeriod)
	if err != nil {
		return nil, err
	}
	stats, err := s.store.GetStats(ctx, sess.UserID)
	if err != nil {
		return nil, err
	}
	rows, err := s.store.ListUserBadges(ctx, sess.UserID)
	if err != nil {
		return nil, err
	}
	awards := make([]gamification.Award, 0, len(rows))
	for _, r := range rows {
		if b, ok := gamification.LookupBadge(r.BadgeCode); ok {
			awards = append(awards, gamification.Award{Badge: b, EarnedAt: r.EarnedAt})
		}
	}
	sort.Slice(awards, func(i, j int) bool { return awards[i].EarnedAt.Before(awards[j].EarnedAt) })

	result, err := s.reports.Render(ctx, format, report.Data{
		UserName:    sess.UserName,
		GeneratedAt: s.now().In(s.loc),
		Metrics:     metrics,
		Stats:       stats,
		Badges:      awards,
	})
	if errors.Is(err, report.ErrPDFDependencyMissing) {
		return nil, domainError(http.StatusServiceUnavailable, "REPORT_UNAVAILABLE", "PDF reports are not available on this server", nil)
	}
	return result, err
}

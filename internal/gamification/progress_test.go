package gamification

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBadgeProgress(t *testing.T) {
	earnedAt := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	stats := Stats{Consumed: 15, Wasted: 5, TotalPoints: 250, LongestStreak: 40}

	progress := BadgeProgress(stats, map[string]time.Time{"first_bite": earnedAt})
	require.Len(t, progress, len(Catalogue()))

	byCode := map[string]Progress{}
	for _, p := range progress {
		byCode[p.Badge.Code] = p
	}

	first := byCode["first_bite"]
	assert.True(t, first.Earned)
	assert.Equal(t, 100, first.Percent)
	require.NotNil(t, first.EarnedAt)
	assert.Equal(t, earnedAt, *first.EarnedAt)

	pantry := byCode["pantry_master"]
	assert.Equal(t, 15, pantry.Current)
	assert.Equal(t, 50, pantry.Target)
	assert.Equal(t, 30, pantry.Percent)

	assert.Equal(t, 100, byCode["streak_30"].Percent, "percent is capped")
	assert.False(t, byCode["streak_30"].Earned)
	assert.Equal(t, 50, byCode["points_500"].Percent)
	assert.Equal(t, 0, byCode["first_sale"].Percent)
	assert.Equal(t, 99, byCode["waste_watcher"].Percent, "25% waste rate blocks the badge")
}

func TestCatalogueIsACopy(t *testing.T) {
	c := Catalogue()
	c[0].Threshold = 999
	b, ok := LookupBadge(c[0].Code)
	require.True(t, ok)
	assert.Equal(t, 1, b.Threshold)

	_, ok = LookupBadge("nope")
	assert.False(t, ok)
}

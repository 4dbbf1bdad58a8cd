package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GDIPSA-Team2/ecoplate/internal/realtime"
	"github.com/GDIPSA-Team2/ecoplate/internal/store"
)

func TestJobsSchedule(t *testing.T) {
	cfg := testConfig()
	cfg.Scheduler.ExpireListingsAt = "5 0 * * *"
	cfg.Scheduler.ExpiryReminderAt = "0 8 * * *"
	svc := New(cfg, newFakeStore(), Deps{})

	jobs := svc.Jobs()
	require.Len(t, jobs, 3)
	specs := map[string]string{}
	for _, j := range jobs {
		require.NotNil(t, j.Run, j.Name)
		specs[j.Name] = j.Spec
	}
	assert.Equal(t, map[string]string{
		JobExpireListings:  "5 0 * * *",
		JobExpiryReminders: "0 8 * * *",
		JobPurgeTokens:     "@hourly",
	}, specs)
}

func TestExpireOverdueListingsNotifiesSellers(t *testing.T) {
	fs := newFakeStore(alice)
	var gotToday time.Time
	fs.expireOverdueListingsFn = func(_ context.Context, today time.Time) ([]store.Listing, error) {
		gotToday = today
		l := activeListing(0)
		l.Status = store.ListingExpired
		return []store.Listing{l}, nil
	}
	idx := &fakeSearch{}
	svc := newTestService(fs, Deps{Search: idx})

	require.NoError(t, svc.ExpireOverdueListings(context.Background()))
	assert.True(t, gotToday.Equal(svc.today()))
	assert.Equal(t, []string{"lst_1"}, idx.deleted)

	expired := fs.notificationsOf(NotificationListingExpired)
	require.Len(t, expired, 1)
	assert.Equal(t, alice.ID, expired[0].UserID)
	assert.Contains(t, expired[0].Body, "Sourdough loaf")
}

func TestExpireOverdueListingsTellsReservedBuyer(t *testing.T) {
	fs := newFakeStore(alice, bob)
	fs.expireOverdueListingsFn = func(context.Context, time.Time) ([]store.Listing, error) {
		l := activeListing(0)
		l.Status = store.ListingExpired
		l.BuyerID = ptr(bob.ID)
		return []store.Listing{l}, nil
	}
	hub := &fakeHub{}
	svc := newTestService(fs, Deps{Hub: hub})

	require.NoError(t, svc.ExpireOverdueListings(context.Background()))

	expired := fs.notificationsOf(NotificationListingExpired)
	require.Len(t, expired, 2)
	assert.Equal(t, alice.ID, expired[0].UserID)
	assert.Equal(t, bob.ID, expired[1].UserID)
	assert.Equal(t, "Reservation expired", expired[1].Title)
	assert.Equal(t, []string{alice.ID, bob.ID}, hub.recipients(realtime.MessageTypeListing))
}

func expiringProduct(id string, owner store.User, days int) store.ExpiringProduct {
	expires := testNow.AddDate(0, 0, days)
	return store.ExpiringProduct{
		Product: store.Product{
			ID:        id,
			OwnerID:   owner.ID,
			Name:      "Yoghurt " + id,
			Quantity:  0.5,
			Unit:      "kg",
			ExpiresOn: &expires,
		},
		OwnerEmail:       owner.Email,
		OwnerDisplayName: owner.DisplayName,
	}
}

func TestSendExpiryRemindersEmailsOnlyNewNotices(t *testing.T) {
	fs := newFakeStore(alice, bob)
	var from, to time.Time
	fs.listProductsExpiringBetweenFn = func(_ context.Context, f, t time.Time) ([]store.ExpiringProduct, error) {
		from, to = f, t
		return []store.ExpiringProduct{
			expiringProduct("prd_a1", alice, 1),
			expiringProduct("prd_a2", alice, 2),
			expiringProduct("prd_b1", bob, 0),
		}, nil
	}
	// prd_a2 was already announced on an earlier run.
	fs.createNotificationFn = func(_ context.Context, n store.Notification) (bool, error) {
		return *n.RefID != "prd_a2", nil
	}
	mail := &fakeMailer{configured: true}
	svc := newTestService(fs, Deps{Mailer: mail})

	require.NoError(t, svc.SendExpiryReminders(context.Background()))
	assert.True(t, from.Equal(svc.today()))
	assert.Equal(t, 2, int(to.Sub(from).Hours()/24), "default lead time is two days")

	require.Len(t, mail.reminders, 2)
	assert.Equal(t, alice.Email, mail.reminders[0].to)
	require.Len(t, mail.reminders[0].items, 1)
	assert.Equal(t, "Yoghurt prd_a1", mail.reminders[0].items[0].Name)
	assert.Equal(t, "0.5 kg", mail.reminders[0].items[0].Quantity)
	assert.Equal(t, bob.Email, mail.reminders[1].to)
}

func TestSendExpiryRemindersWithoutSMTP(t *testing.T) {
	fs := newFakeStore(alice)
	fs.listProductsExpiringBetweenFn = func(context.Context, time.Time, time.Time) ([]store.ExpiringProduct, error) {
		return []store.ExpiringProduct{expiringProduct("prd_a1", alice, 1)}, nil
	}
	mail := &fakeMailer{}
	svc := newTestService(fs, Deps{Mailer: mail})

	require.NoError(t, svc.SendExpiryReminders(context.Background()))
	assert.Empty(t, mail.reminders)
	assert.Len(t, fs.notificationsOf(NotificationExpiringSoon), 1, "in-app notice is still stored")
}

func TestPurgeExpiredTokensPropagatesErrors(t *testing.T) {
	fs := newFakeStore()
	fs.purgeExpiredTokensFn = func(context.Context) (int64, error) {
		return 0, errors.New("db down")
	}
	svc := newTestService(fs, Deps{})

	assert.EqualError(t, svc.PurgeExpiredTokens(context.Background()), "db down")
}

package app

import (
	"context"
	"fmt"
	"strconv"

	"github.com/GDIPSA-Team2/ecoplate/internal/email"
	"github.com/GDIPSA-Team2/ecoplate/internal/logging"
	"github.com/GDIPSA-Team2/ecoplate/internal/metrics"
	"github.com/GDIPSA-Team2/ecoplate/internal/realtime"
	"github.com/GDIPSA-Team2/ecoplate/internal/scheduler"
	"github.com/GDIPSA-Team2/ecoplate/internal/store"
)

const (
	NotificationExpiringSoon = "expiring_soon"

	JobExpireListings  = "expire_listings"
	JobExpiryReminders = "expiry_reminders"
	JobPurgeTokens     = "purge_tokens"
)

// Jobs returns the periodic sweeps for the scheduler.
func (s *Service) Jobs() []scheduler.Job {
	return []scheduler.Job{
		{Name: JobExpireListings, Spec: s.cfg.Scheduler.ExpireListingsAt, Run: s.ExpireOverdueListings},
		{Name: JobExpiryReminders, Spec: s.cfg.Scheduler.ExpiryReminderAt, Run: s.SendExpiryReminders},
		{Name: JobPurgeTokens, Spec: "@hourly", Run: s.PurgeExpiredTokens},
	}
}

// ExpireOverdueListings expires listings whose expiry date has passed and
// tells their sellers and, for reserved listings, their buyers.
func (s *Service) ExpireOverdueListings(ctx context.Context) error {
	expired, err := s.store.ExpireOverdueListings(ctx, s.today())
	if err != nil {
		return err
	}
	for _, l := range expired {
		metrics.RecordTransition("overdue", store.ListingExpired)
		if s.search != nil {
			s.search.DeleteListing(l.ID)
		}
		id := l.ID
		event := realtime.Message{Type: realtime.MessageTypeListing, Data: l}
		s.hub.SendToUser(l.SellerID, event)
		s.notify(ctx, store.Notification{
			UserID: l.SellerID,
			Type:   NotificationListingExpired,
			Title:  "Listing expired",
			Body:   fmt.Sprintf("%q passed its expiry date and was taken off the market", l.Title),
			RefID:  &id,
		})
		if l.BuyerID != nil && *l.BuyerID != "" {
			s.hub.SendToUser(*l.BuyerID, event)
			s.notify(ctx, store.Notification{
				UserID: *l.BuyerID,
				Type:   NotificationListingExpired,
				Title:  "Reservation expired",
				Body:   fmt.Sprintf("%q passed its expiry date before pickup and is no longer available", l.Title),
				RefID:  &id,
			})
		}
	}
	if len(expired) > 0 {
		logging.Info().Int("count", len(expired)).Msg("expired overdue listings")
	}
	return nil
}

// SendExpiryReminders notifies owners about pantry items expiring within the
// configured lead time. Each product is announced once; the email only lists
// products that were not announced before.
func (s *Service) SendExpiryReminders(ctx context.Context) error {
	lead := s.cfg.Scheduler.ReminderLeadDays
	if lead <= 0 {
		lead = 2
	}
	from := s.today()
	products, err := s.store.ListProductsExpiringBetween(ctx, from, from.AddDate(0, 0, lead))
	if err != nil {
		return err
	}

	type owner struct {
		email, name string
		items       []email.ExpiringItem
	}
	owners := map[string]*owner{}
	var order []string
	for _, p := range products {
		id := p.ID
		created := s.notify(ctx, store.Notification{
			UserID: p.OwnerID,
			Type:   NotificationExpiringSoon,
			Title:  p.Name + " is expiring soon",
			Body:   "Use it, share it, or list it on the marketplace before " + p.ExpiresOn.Format("Mon 2 Jan") + ".",
			RefID:  &id,
		})
		if !created {
			continue
		}
		o, ok := owners[p.OwnerID]
		if !ok {
			o = &owner{email: p.OwnerEmail, name: p.OwnerDisplayName}
			owners[p.OwnerID] = o
			order = append(order, p.OwnerID)
		}
		o.items = append(o.items, email.ExpiringItem{
			Name:      p.Name,
			Quantity:  strconv.FormatFloat(p.Quantity, 'f', -1, 64) + " " + p.Unit,
			ExpiresOn: *p.ExpiresOn,
		})
	}

	if !s.SMTPConfigured() {
		return nil
	}
	pantryURL := s.cfg.PublicBaseURL + "/pantry"
	for _, id := range order {
		o := owners[id]
		if err := s.mail.SendExpiryReminder(o.email, o.name, pantryURL, o.items); err != nil {
			logging.Error().Err(err).Str("user_id", id).Msg("send expiry reminder")
		}
	}
	logging.Info().Int("owners", len(order)).Msg("expiry reminders sent")
	return nil
}

func (s *Service) PurgeExpiredTokens(ctx context.Context) error {
	n, err := s.store.PurgeExpiredTokens(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		logging.Debug().Int64("rows", n).Msg("purged expired tokens")
	}
	return nil
}

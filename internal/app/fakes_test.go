package app

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/GDIPSA-Team2/ecoplate/internal/config"
	"github.com/GDIPSA-Team2/ecoplate/internal/email"
	"github.com/GDIPSA-Team2/ecoplate/internal/gamification"
	"github.com/GDIPSA-Team2/ecoplate/internal/realtime"
	"github.com/GDIPSA-Team2/ecoplate/internal/search"
	"github.com/GDIPSA-Team2/ecoplate/internal/store"
)

// fakeStore keeps users and sessions in memory; everything else is driven
// by the optional Fn hooks and returns zero values when unset.
type fakeStore struct {
	mu            sync.Mutex
	users         map[string]store.User
	refresh       map[string]string
	revoked       map[string]bool
	stats         map[string]gamification.Stats
	notifications []store.Notification

	pingFn                        func(context.Context) error
	createUserFn                  func(context.Context, store.User) error
	getProductFn                  func(context.Context, string) (store.Product, error)
	createProductFn               func(context.Context, store.Product) (store.Product, error)
	recordInteractionFn           func(context.Context, store.ProductInteraction) (store.Product, store.ProductInteraction, error)
	listInteractionsFn            func(context.Context, string, time.Time) ([]store.ProductInteraction, error)
	listProductsExpiringBetweenFn func(context.Context, time.Time, time.Time) ([]store.ExpiringProduct, error)
	getListingFn                  func(context.Context, string) (store.Listing, error)
	createListingFn               func(context.Context, store.Listing) (store.Listing, error)
	browseListingsFn              func(context.Context, store.ListingFilter) ([]store.Listing, error)
	transitionListingFn           func(context.Context, string, store.Listing) (store.Listing, error)
	expireOverdueListingsFn       func(context.Context, time.Time) ([]store.Listing, error)
	getOrCreateConversationFn     func(context.Context, store.Conversation) (store.Conversation, bool, error)
	getConversationFn             func(context.Context, string) (store.Conversation, error)
	createMessageFn               func(context.Context, store.Message) (store.Message, error)
	createNotificationFn          func(context.Context, store.Notification) (bool, error)
	purgeExpiredTokensFn          func(context.Context) (int64, error)
	applyGamificationFn           func(context.Context, string) error
}

func newFakeStore(users ...store.User) *fakeStore {
	fs := &fakeStore{
		users:   map[string]store.User{},
		refresh: map[string]string{},
		revoked: map[string]bool{},
		stats:   map[string]gamification.Stats{},
	}
	for _, u := range users {
		fs.users[u.ID] = u
	}
	return fs
}

func (f *fakeStore) GetUserByEmail(_ context.Context, emailAddr string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Email == emailAddr {
			return u, nil
		}
	}
	return store.User{}, sql.ErrNoRows
}

func (f *fakeStore) GetUserByID(_ context.Context, id string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return u, nil
}

func (f *fakeStore) CreateUser(ctx context.Context, user store.User) error {
	if f.createUserFn != nil {
		return f.createUserFn(ctx, user)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[user.ID] = user
	return nil
}

func (f *fakeStore) UpdateUserVerificationToken(context.Context, string, string, time.Time) error {
	return nil
}

func (f *fakeStore) VerifyUserEmail(_ context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, u := range f.users {
		if u.VerificationToken != nil && *u.VerificationToken == token {
			u.IsEmailVerified = true
			u.VerificationToken = nil
			f.users[id] = u
			return nil
		}
	}
	return sql.ErrNoRows
}

func (f *fakeStore) UpdateUserPassword(context.Context, string, string) error { return nil }
func (f *fakeStore) CreatePasswordReset(context.Context, string, string, time.Time) error {
	return nil
}
func (f *fakeStore) GetPasswordReset(context.Context, string) (string, error) {
	return "", sql.ErrNoRows
}
func (f *fakeStore) MarkPasswordResetUsed(context.Context, string) error { return nil }

func (f *fakeStore) SaveRefreshSession(_ context.Context, tokenHash, userID string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refresh[tokenHash] = userID
	return nil
}

func (f *fakeStore) ConsumeRefreshSession(_ context.Context, tokenHash string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	userID, ok := f.refresh[tokenHash]
	if !ok {
		return "", sql.ErrNoRows
	}
	delete(f.refresh, tokenHash)
	return userID, nil
}

func (f *fakeStore) RevokeRefreshSession(_ context.Context, tokenHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.refresh, tokenHash)
	return nil
}

func (f *fakeStore) RevokeAccessToken(_ context.Context, jti string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revoked[jti] = true
	return nil
}

func (f *fakeStore) IsAccessTokenRevoked(_ context.Context, jti string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.revoked[jti], nil
}

func (f *fakeStore) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

func (f *fakeStore) GetUsersByIDs(_ context.Context, ids []string) (map[string]store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]store.User, len(ids))
	for _, id := range ids {
		if u, ok := f.users[id]; ok {
			out[id] = u
		}
	}
	return out, nil
}

func (f *fakeStore) UpdateUserProfile(_ context.Context, user store.User) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[user.ID] = user
	return user, nil
}

func (f *fakeStore) PurgeExpiredTokens(ctx context.Context) (int64, error) {
	if f.purgeExpiredTokensFn != nil {
		return f.purgeExpiredTokensFn(ctx)
	}
	return 0, nil
}

func (f *fakeStore) CreateProduct(ctx context.Context, p store.Product) (store.Product, error) {
	if f.createProductFn != nil {
		return f.createProductFn(ctx, p)
	}
	return p, nil
}

func (f *fakeStore) GetProduct(ctx context.Context, id string) (store.Product, error) {
	if f.getProductFn != nil {
		return f.getProductFn(ctx, id)
	}
	return store.Product{}, sql.ErrNoRows
}

func (f *fakeStore) ListProducts(context.Context, string, store.ProductFilter) ([]store.Product, error) {
	return nil, nil
}
func (f *fakeStore) UpdateProduct(_ context.Context, p store.Product) (store.Product, error) {
	return p, nil
}
func (f *fakeStore) DeleteProduct(context.Context, string, string) error { return nil }

func (f *fakeStore) RecordInteraction(ctx context.Context, in store.ProductInteraction) (store.Product, store.ProductInteraction, error) {
	if f.recordInteractionFn != nil {
		return f.recordInteractionFn(ctx, in)
	}
	return store.Product{}, store.ProductInteraction{}, sql.ErrNoRows
}

func (f *fakeStore) ListInteractions(ctx context.Context, userID string, since time.Time) ([]store.ProductInteraction, error) {
	if f.listInteractionsFn != nil {
		return f.listInteractionsFn(ctx, userID, since)
	}
	return nil, nil
}

func (f *fakeStore) CountExpiringProducts(context.Context, string, time.Time) (int, error) {
	return 0, nil
}

func (f *fakeStore) ListProductsExpiringBetween(ctx context.Context, from, to time.Time) ([]store.ExpiringProduct, error) {
	if f.listProductsExpiringBetweenFn != nil {
		return f.listProductsExpiringBetweenFn(ctx, from, to)
	}
	return nil, nil
}

func (f *fakeStore) SeedBadges(_ context.Context, badges []gamification.Badge) (int, error) {
	return len(badges), nil
}

func (f *fakeStore) GetStats(_ context.Context, userID string) (gamification.Stats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stats := f.stats[userID]
	stats.UserID = userID
	return stats, nil
}

func (f *fakeStore) ListUserBadges(context.Context, string) ([]store.UserBadge, error) {
	return nil, nil
}

func (f *fakeStore) ListPointEvents(context.Context, string, int) ([]store.PointEventRow, error) {
	return nil, nil
}

// ApplyGamification runs apply against the in-memory stats, mirroring the
// row-locked read-modify-write of the Postgres store.
func (f *fakeStore) ApplyGamification(ctx context.Context, userID, _ string, apply func(gamification.Stats, map[string]bool) gamification.Outcome) (gamification.Outcome, error) {
	if f.applyGamificationFn != nil {
		if err := f.applyGamificationFn(ctx, userID); err != nil {
			return gamification.Outcome{}, err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	stats := f.stats[userID]
	stats.UserID = userID
	out := apply(stats, map[string]bool{})
	f.stats[userID] = out.Stats
	return out, nil
}

func (f *fakeStore) CreateListing(ctx context.Context, l store.Listing) (store.Listing, error) {
	if f.createListingFn != nil {
		return f.createListingFn(ctx, l)
	}
	return l, nil
}

func (f *fakeStore) GetListing(ctx context.Context, id string) (store.Listing, error) {
	if f.getListingFn != nil {
		return f.getListingFn(ctx, id)
	}
	return store.Listing{}, sql.ErrNoRows
}

func (f *fakeStore) UpdateListing(_ context.Context, l store.Listing) (store.Listing, error) {
	return l, nil
}
func (f *fakeStore) DeleteListing(context.Context, string) error { return nil }

func (f *fakeStore) BrowseListings(ctx context.Context, filter store.ListingFilter) ([]store.Listing, error) {
	if f.browseListingsFn != nil {
		return f.browseListingsFn(ctx, filter)
	}
	return nil, nil
}

func (f *fakeStore) ListingsBySeller(context.Context, string, string) ([]store.Listing, error) {
	return nil, nil
}
func (f *fakeStore) ListingsByBuyer(context.Context, string) ([]store.Listing, error) {
	return nil, nil
}

func (f *fakeStore) TransitionListing(ctx context.Context, from string, next store.Listing) (store.Listing, error) {
	if f.transitionListingFn != nil {
		return f.transitionListingFn(ctx, from, next)
	}
	return next, nil
}

func (f *fakeStore) ExpireOverdueListings(ctx context.Context, today time.Time) ([]store.Listing, error) {
	if f.expireOverdueListingsFn != nil {
		return f.expireOverdueListingsFn(ctx, today)
	}
	return nil, nil
}

func (f *fakeStore) CountActiveListings(context.Context, string) (int, error) { return 0, nil }

func (f *fakeStore) GetOrCreateConversation(ctx context.Context, c store.Conversation) (store.Conversation, bool, error) {
	if f.getOrCreateConversationFn != nil {
		return f.getOrCreateConversationFn(ctx, c)
	}
	return c, true, nil
}

func (f *fakeStore) GetConversation(ctx context.Context, id string) (store.Conversation, error) {
	if f.getConversationFn != nil {
		return f.getConversationFn(ctx, id)
	}
	return store.Conversation{}, sql.ErrNoRows
}

func (f *fakeStore) ListConversations(context.Context, string) ([]store.ConversationSummary, error) {
	return nil, nil
}

func (f *fakeStore) CreateMessage(ctx context.Context, m store.Message) (store.Message, error) {
	if f.createMessageFn != nil {
		return f.createMessageFn(ctx, m)
	}
	return m, nil
}

func (f *fakeStore) ListMessages(context.Context, string, int) ([]store.Message, error) {
	return nil, nil
}
func (f *fakeStore) MarkConversationRead(context.Context, string, string) (int64, error) {
	return 0, nil
}
func (f *fakeStore) CountUnreadMessages(context.Context, string) (int, error) { return 0, nil }

func (f *fakeStore) CreateNotification(ctx context.Context, n store.Notification) (bool, error) {
	if f.createNotificationFn != nil {
		return f.createNotificationFn(ctx, n)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notifications = append(f.notifications, n)
	return true, nil
}

func (f *fakeStore) ListNotifications(context.Context, string, bool, int) ([]store.Notification, error) {
	return nil, nil
}
func (f *fakeStore) MarkNotificationRead(context.Context, string, string) error { return nil }
func (f *fakeStore) MarkAllNotificationsRead(context.Context, string) (int64, error) {
	return 0, nil
}
func (f *fakeStore) CountUnreadNotifications(context.Context, string) (int, error) { return 0, nil }

func (f *fakeStore) notificationsOf(typ string) []store.Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.Notification
	for _, n := range f.notifications {
		if n.Type == typ {
			out = append(out, n)
		}
	}
	return out
}

type pushed struct {
	userID string
	msg    realtime.Message
}

type fakeHub struct {
	mu   sync.Mutex
	sent []pushed
}

func (h *fakeHub) SendToUser(userID string, msg realtime.Message) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sent = append(h.sent, pushed{userID: userID, msg: msg})
	return true
}

func (h *fakeHub) recipients(typ string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []string
	for _, p := range h.sent {
		if p.msg.Type == typ {
			out = append(out, p.userID)
		}
	}
	return out
}

type fakeSearch struct {
	mu       sync.Mutex
	indexed  []search.ListingRecord
	deleted  []string
	response search.Response
}

func (f *fakeSearch) Search(context.Context, search.Query) search.Response { return f.response }

func (f *fakeSearch) IndexListing(rec search.ListingRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexed = append(f.indexed, rec)
}

func (f *fakeSearch) DeleteListing(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
}

type sentReminder struct {
	to    string
	items []email.ExpiringItem
}

type fakeMailer struct {
	configured bool
	reminders  []sentReminder
}

func (m *fakeMailer) IsConfigured() bool { return m.configured }
func (m *fakeMailer) SendVerificationEmail(string, string, string) error { return nil }
func (m *fakeMailer) SendPasswordResetEmail(string, string, string) error { return nil }
func (m *fakeMailer) SendExpiryReminder(to, _, _ string, items []email.ExpiringItem) error {
	m.reminders = append(m.reminders, sentReminder{to: to, items: items})
	return nil
}

// testNow tracks the wall clock so issued tokens pass expiry checks.
var testNow = time.Now().UTC().Truncate(time.Second)

func testConfig() config.Config {
	return config.Config{
		JWTSecret:     "test-secret",
		AccessTTL:     time.Hour,
		RefreshTTL:    24 * time.Hour,
		CORSOrigins:   []string{"*"},
		TimeZone:      "UTC",
		PublicBaseURL: "http://localhost:5173",
		RateLimit:     config.RateLimitConfig{Disabled: true},
	}
}

func newTestService(fs *fakeStore, deps Deps) *Service {
	svc := New(testConfig(), fs, deps)
	svc.now = func() time.Time { return testNow }
	return svc
}

// tokenFor issues an access token for a user already present in fs.
func tokenFor(t *testing.T, svc *Service, user store.User) string {
	t.Helper()
	sess, err := svc.issueSession(context.Background(), user)
	if err != nil {
		t.Fatalf("issueSession() error = %v", err)
	}
	return sess.Token
}

func ptr[T any](v T) *T { return &v }

var (
	alice = store.User{ID: "usr_alice", Email: "alice@example.com", DisplayName: "Alice", Role: store.RoleUser, IsEmailVerified: true}
	bob   = store.User{ID: "usr_bob", Email: "bob@example.com", DisplayName: "Bob", Role: store.RoleUser, IsEmailVerified: true}
	admin = store.User{ID: "usr_admin", Email: "admin@example.com", DisplayName: "Admin", Role: store.RoleAdmin, IsEmailVerified: true}
)

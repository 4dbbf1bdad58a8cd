package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/GDIPSA-Team2/ecoplate/internal/auth"
	"github.com/GDIPSA-Team2/ecoplate/internal/authpw"
	"github.com/GDIPSA-Team2/ecoplate/internal/config"
	"github.com/GDIPSA-Team2/ecoplate/internal/email"
	"github.com/GDIPSA-Team2/ecoplate/internal/gamification"
	"github.com/GDIPSA-Team2/ecoplate/internal/leaderboard"
	"github.com/GDIPSA-Team2/ecoplate/internal/media"
	"github.com/GDIPSA-Team2/ecoplate/internal/rbac"
	"github.com/GDIPSA-Team2/ecoplate/internal/realtime"
	"github.com/GDIPSA-Team2/ecoplate/internal/recommend"
	"github.com/GDIPSA-Team2/ecoplate/internal/report"
	"github.com/GDIPSA-Team2/ecoplate/internal/search"
	"github.com/GDIPSA-Team2/ecoplate/internal/session"
	"github.com/GDIPSA-Team2/ecoplate/internal/store"
	"github.com/GDIPSA-Team2/ecoplate/internal/util"
	"github.com/GDIPSA-Team2/ecoplate/internal/wastemetrics"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Role         string
	JTI          string
	ExpiresAt    time.Time
}

type dataStore interface {
	authpw.UserStore
	sessionStore

	Ping(ctx context.Context) error
	GetUsersByIDs(ctx context.Context, ids []string) (map[string]store.User, error)
	UpdateUserProfile(ctx context.Context, user store.User) (store.User, error)
	PurgeExpiredTokens(ctx context.Context) (int64, error)

	CreateProduct(ctx context.Context, p store.Product) (store.Product, error)
	GetProduct(ctx context.Context, id string) (store.Product, error)
	ListProducts(ctx context.Context, ownerID string, filter store.ProductFilter) ([]store.Product, error)
	UpdateProduct(ctx context.Context, p store.Product) (store.Product, error)
	DeleteProduct(ctx context.Context, ownerID, id string) error
	RecordInteraction(ctx context.Context, in store.ProductInteraction) (store.Product, store.ProductInteraction, error)
	ListInteractions(ctx context.Context, userID string, since time.Time) ([]store.ProductInteraction, error)
	CountExpiringProducts(ctx context.Context, ownerID string, until time.Time) (int, error)
	ListProductsExpiringBetween(ctx context.Context, from, to time.Time) ([]store.ExpiringProduct, error)

	SeedBadges(ctx context.Context, badges []gamification.Badge) (int, error)
	GetStats(ctx context.Context, userID string) (gamification.Stats, error)
	ListUserBadges(ctx context.Context, userID string) ([]store.UserBadge, error)
	ListPointEvents(ctx context.Context, userID string, limit int) ([]store.PointEventRow, error)
	ApplyGamification(ctx context.Context, userID, refID string, apply func(gamification.Stats, map[string]bool) gamification.Outcome) (gamification.Outcome, error)

	CreateListing(ctx context.Context, l store.Listing) (store.Listing, error)
	GetListing(ctx context.Context, id string) (store.Listing, error)
	UpdateListing(ctx context.Context, l store.Listing) (store.Listing, error)
	DeleteListing(ctx context.Context, id string) error
	BrowseListings(ctx context.Context, filter store.ListingFilter) ([]store.Listing, error)
	ListingsBySeller(ctx context.Context, sellerID, status string) ([]store.Listing, error)
	ListingsByBuyer(ctx context.Context, buyerID string) ([]store.Listing, error)
	TransitionListing(ctx context.Context, from string, next store.Listing) (store.Listing, error)
	ExpireOverdueListings(ctx context.Context, today time.Time) ([]store.Listing, error)
	CountActiveListings(ctx context.Context, sellerID string) (int, error)

	GetOrCreateConversation(ctx context.Context, c store.Conversation) (store.Conversation, bool, error)
	GetConversation(ctx context.Context, id string) (store.Conversation, error)
	ListConversations(ctx context.Context, userID string) ([]store.ConversationSummary, error)
	CreateMessage(ctx context.Context, m store.Message) (store.Message, error)
	ListMessages(ctx context.Context, conversationID string, limit int) ([]store.Message, error)
	MarkConversationRead(ctx context.Context, conversationID, readerID string) (int64, error)
	CountUnreadMessages(ctx context.Context, userID string) (int, error)

	CreateNotification(ctx context.Context, n store.Notification) (bool, error)
	ListNotifications(ctx context.Context, userID string, unreadOnly bool, limit int) ([]store.Notification, error)
	MarkNotificationRead(ctx context.Context, userID, id string) error
	MarkAllNotificationsRead(ctx context.Context, userID string) (int64, error)
	CountUnreadNotifications(ctx context.Context, userID string) (int, error)
}

// sessionStore holds refresh sessions and revoked access tokens. Both the
// Redis store and the Postgres store satisfy it.
type sessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	ConsumeRefreshSession(ctx context.Context, tokenHash string) (string, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
	RevokeAccessToken(ctx context.Context, jti string, expiresAt time.Time) error
	IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error)
}

type mailer interface {
	IsConfigured() bool
	SendVerificationEmail(to, userName, verificationURL string) error
	SendPasswordResetEmail(to, userName, resetURL string) error
	SendExpiryReminder(to, userName, pantryURL string, items []email.ExpiringItem) error
}

type listingSearch interface {
	Search(ctx context.Context, q search.Query) search.Response
	IndexListing(rec search.ListingRecord)
	DeleteListing(id string)
}

type mediaStore interface {
	Put(ctx context.Context, userID string, r io.Reader) (media.Upload, error)
	PresignedURL(ctx context.Context, key string) (string, error)
}

type priceSuggester interface {
	Suggest(ctx context.Context, req recommend.Request) recommend.Suggestion
}

type pusher interface {
	SendToUser(userID string, msg realtime.Message) bool
}

type socketServer interface {
	ServeWS(w http.ResponseWriter, r *http.Request, userID string) error
}

type rankings interface {
	Set(ctx context.Context, userID string, points int) error
	Top(ctx context.Context, n int) ([]leaderboard.Entry, error)
	Rank(ctx context.Context, userID string) (int, error)
}

type reportRenderer interface {
	Render(ctx context.Context, format report.Format, data report.Data) (*report.Result, error)
}

// ReadyCheck is an extra dependency probed by the readiness endpoint.
type ReadyCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Deps are the optional collaborators of Service. Nil fields fall back to
// store-backed or no-op implementations; Media stays disabled when nil.
type Deps struct {
	Sessions    sessionStore
	Mailer      mailer
	Search      listingSearch
	Media       mediaStore
	Recommender priceSuggester
	Hub         pusher
	Sockets     socketServer
	Leaderboard rankings
	Reports     reportRenderer
	Checks      []ReadyCheck
}

type Service struct {
	cfg       config.Config
	store     dataStore
	sessions  sessionStore
	passwords *authpw.Service
	mail      mailer
	search    listingSearch
	media     mediaStore
	prices    priceSuggester
	hub       pusher
	sockets   socketServer
	board     rankings
	reports   reportRenderer
	engine    *gamification.Engine
	loc       *time.Location
	checks    []ReadyCheck
	now       func() time.Time
}

func New(cfg config.Config, dataStore dataStore, deps Deps) *Service {
	loc := cfg.Location()
	s := &Service{
		cfg:       cfg,
		store:     dataStore,
		sessions:  deps.Sessions,
		passwords: authpw.NewService(dataStore),
		mail:      deps.Mailer,
		search:    deps.Search,
		media:     deps.Media,
		prices:    deps.Recommender,
		hub:       deps.Hub,
		sockets:   deps.Sockets,
		board:     deps.Leaderboard,
		reports:   deps.Reports,
		engine:    gamification.NewEngine(loc),
		loc:       loc,
		checks:    deps.Checks,
		now:       time.Now,
	}
	if s.sessions == nil {
		s.sessions = dataStore
	}
	if s.mail == nil {
		s.mail = email.NewService(email.Config{})
	}
	if s.prices == nil {
		s.prices = recommend.New(recommend.Config{})
	}
	if s.hub == nil {
		s.hub = noopPusher{}
	}
	if s.board == nil {
		source, _ := dataStore.(leaderboard.Source)
		s.board = leaderboard.New(nil, source)
	}
	if s.reports == nil {
		s.reports = report.NewRenderer()
	}
	return s
}

type noopPusher struct{}

func (noopPusher) SendToUser(string, realtime.Message) bool { return false }

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Readiness probes the database and every configured check. The map holds
// one entry per dependency.
func (s *Service) Readiness(ctx context.Context) (bool, map[string]any) {
	ready := true
	checks := map[string]any{}
	probe := func(name string, fn func(context.Context) error) {
		if err := fn(ctx); err != nil {
			ready = false
			checks[name] = map[string]any{"status": "error", "error": err.Error()}
			return
		}
		checks[name] = map[string]any{"status": "ok"}
	}
	probe("database", s.store.Ping)
	for _, c := range s.checks {
		probe(c.Name, c.Check)
	}
	return ready, checks
}

func (s *Service) SMTPConfigured() bool {
	return s.mail != nil && s.mail.IsConfigured()
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := s.now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:  user.ID,
		Name: user.DisplayName,
		Role: user.Role,
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh, err := newRefreshToken()
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, now.Add(s.cfg.RefreshTTL)); err != nil {
		return Session{}, fmt.Errorf("save refresh session: %w", err)
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		Role:         user.Role,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

// newRefreshToken returns 32 random bytes, hex encoded.
func newRefreshToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate refresh token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// Refresh rotates a refresh token: the old one is consumed and a new pair
// is issued. A token can be redeemed once.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	if refreshToken == "" {
		return Session{}, auth.ErrInvalidToken
	}
	tokenHash := auth.HashToken(refreshToken)
	userID, err := s.sessions.ConsumeRefreshSession(ctx, tokenHash)
	if errors.Is(err, sql.ErrNoRows) || errors.Is(err, session.ErrSessionNotFound) {
		return Session{}, auth.ErrInvalidToken
	}
	if err != nil {
		return Session{}, err
	}
	user, err := s.store.GetUserByID(ctx, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, auth.ErrInvalidToken
	}
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.sessions.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, auth.ErrInvalidToken
	}
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		Role:      user.Role,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, sess Session, refreshToken string) error {
	if sess.JTI != "" {
		if err := s.sessions.RevokeAccessToken(ctx, sess.JTI, sess.ExpiresAt); err != nil {
			return fmt.Errorf("revoke access token: %w", err)
		}
	}
	if refreshToken != "" {
		if err := s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken)); err != nil {
			return fmt.Errorf("revoke refresh token: %w", err)
		}
	}
	return nil
}

// today returns local midnight of the current day.
func (s *Service) today() time.Time {
	now := s.now().In(s.loc)
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.loc)
}

func interactionEvents(rows []store.ProductInteraction) []wastemetrics.Event {
	events := make([]wastemetrics.Event, 0, len(rows))
	for _, r := range rows {
		events = append(events, wastemetrics.Event{
			Type:           r.Type,
			Quantity:       r.Quantity,
			Unit:           r.Unit,
			Category:       r.Category,
			UnitPriceCents: r.UnitPriceCents,
			At:             r.CreatedAt,
		})
	}
	return events
}

package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/GDIPSA-Team2/ecoplate/internal/logging"
	"github.com/GDIPSA-Team2/ecoplate/internal/realtime"
	"github.com/GDIPSA-Team2/ecoplate/internal/store"
	"github.com/GDIPSA-Team2/ecoplate/internal/util"
)

const (
	NotificationNewMessage = "new_message"

	maxMessageLength       = 2000
	defaultMessagePageSize = 100
	defaultNotificationMax = 50
)

type ConversationStart struct {
	Conversation store.Conversation `json:"conversation"`
	Created      bool               `json:"created"`
	Message      *store.Message     `json:"message,omitempty"`
}

// StartConversation opens (or reopens) the caller's conversation with the
// seller of a listing, optionally sending a first message.
func (s *Service) StartConversation(ctx context.Context, sess Session, listingID, firstMessage string) (ConversationStart, error) {
	l, err := s.loadListing(ctx, listingID)
	if err != nil {
		return ConversationStart{}, err
	}
	if l.SellerID == sess.UserID {
		return ConversationStart{}, domainError(http.StatusUnprocessableEntity, "OWN_LISTING",
			"You cannot start a conversation on your own listing", nil)
	}
	conv, created, err := s.store.GetOrCreateConversation(ctx, store.Conversation{
		ID:        util.NewID("cnv"),
		ListingID: l.ID,
		SellerID:  l.SellerID,
		BuyerID:   sess.UserID,
	})
	if err != nil {
		return ConversationStart{}, err
	}
	out := ConversationStart{Conversation: conv, Created: created}
	if strings.TrimSpace(firstMessage) != "" {
		msg, err := s.sendMessage(ctx, sess, conv, firstMessage)
		if err != nil {
			return ConversationStart{}, err
		}
		out.Message = &msg
	}
	return out, nil
}

func (s *Service) ListConversations(ctx context.Context, sess Session) ([]store.ConversationSummary, error) {
	return s.store.ListConversations(ctx, sess.UserID)
}

func (s *Service) participantConversation(ctx context.Context, sess Session, id string) (store.Conversation, error) {
	conv, err := s.store.GetConversation(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Conversation{}, notFound("Conversation")
	}
	if err != nil {
		return store.Conversation{}, err
	}
	if !conv.HasParticipant(sess.UserID) {
		return store.Conversation{}, forbidden("You are not part of this conversation")
	}
	return conv, nil
}

// Messages returns the conversation history and marks the other party's
// messages as read.
func (s *Service) Messages(ctx context.Context, sess Session, conversationID string, limit int) ([]store.Message, error) {
	conv, err := s.participantConversation(ctx, sess, conversationID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > defaultMessagePageSize {
		limit = defaultMessagePageSize
	}
	if _, err := s.store.MarkConversationRead(ctx, conv.ID, sess.UserID); err != nil {
		return nil, err
	}
	return s.store.ListMessages(ctx, conv.ID, limit)
}

func (s *Service) SendMessage(ctx context.Context, sess Session, conversationID, body string) (store.Message, error) {
	conv, err := s.participantConversation(ctx, sess, conversationID)
	if err != nil {
		return store.Message{}, err
	}
	return s.sendMessage(ctx, sess, conv, body)
}

func (s *Service) sendMessage(ctx context.Context, sess Session, conv store.Conversation, body string) (store.Message, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return store.Message{}, invalidInput("Message cannot be empty", nil)
	}
	if utf8.RuneCountInString(body) > maxMessageLength {
		return store.Message{}, invalidInput(fmt.Sprintf("Message is limited to %d characters", maxMessageLength), nil)
	}
	msg, err := s.store.CreateMessage(ctx, store.Message{
		ID:             util.NewID("msg"),
		ConversationID: conv.ID,
		SenderID:       sess.UserID,
		Body:           body,
	})
	if err != nil {
		return store.Message{}, err
	}

	recipient := conv.OtherParty(sess.UserID)
	s.hub.SendToUser(recipient, realtime.Message{Type: realtime.MessageTypeMessage, Data: msg})
	s.notify(ctx, store.Notification{
		UserID: recipient,
		Type:   NotificationNewMessage,
		Title:  "New message from " + sess.UserName,
		Body:   preview(body, 120),
		RefID:  &conv.ID,
	})
	return msg, nil
}

func preview(body string, n int) string {
	if utf8.RuneCountInString(body) <= n {
		return body
	}
	return string([]rune(body)[:n]) + "…"
}

// notify stores a notification and pushes it to the user's sockets. It
// reports whether a new row was written; failures are only logged because
// the action that triggered it already happened.
func (s *Service) notify(ctx context.Context, n store.Notification) bool {
	if n.ID == "" {
		n.ID = util.NewID("ntf")
	}
	created, err := s.store.CreateNotification(ctx, n)
	if err != nil {
		logging.Ctx(ctx).Error().Err(err).Str("user_id", n.UserID).Str("type", n.Type).Msg("create notification")
		return false
	}
	if created {
		s.hub.SendToUser(n.UserID, realtime.Message{Type: realtime.MessageTypeNotification, Data: n})
	}
	return created
}

func (s *Service) Notifications(ctx context.Context, sess Session, unreadOnly bool, limit int) ([]store.Notification, error) {
	if limit <= 0 || limit > defaultNotificationMax {
		limit = defaultNotificationMax
	}
	return s.store.ListNotifications(ctx, sess.UserID, unreadOnly, limit)
}

func (s *Service) MarkNotificationRead(ctx context.Context, sess Session, id string) error {
	err := s.store.MarkNotificationRead(ctx, sess.UserID, id)
	if errors.Is(err, sql.ErrNoRows) {
		return notFound("Notification")
	}
	return err
}

func (s *Service) MarkAllNotificationsRead(ctx context.Context, sess Session) (int64, error) {
	return s.store.MarkAllNotificationsRead(ctx, sess.UserID)
}

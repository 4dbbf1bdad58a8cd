package store

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

type User struct {
	ID                    string     `db:"id" json:"id"`
	Email                 string     `db:"email" json:"email"`
	DisplayName           string     `db:"display_name" json:"displayName"`
	PasswordHash          string     `db:"password_hash" json:"-"`
	Role                  string     `db:"role" json:"role"`
	AvatarURL             string     `db:"avatar_url" json:"avatarUrl"`
	HomeLat               *float64   `db:"home_lat" json:"homeLat,omitempty"`
	HomeLng               *float64   `db:"home_lng" json:"homeLng,omitempty"`
	IsEmailVerified       bool       `db:"is_email_verified" json:"isEmailVerified"`
	VerificationToken     *string    `db:"verification_token" json:"-"`
	VerificationExpiresAt *time.Time `db:"verification_expires_at" json:"-"`
	CreatedAt             time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt             time.Time  `db:"updated_at" json:"updatedAt"`
}

type Product struct {
	ID             string     `db:"id" json:"id"`
	OwnerID        string     `db:"owner_id" json:"ownerId"`
	Name           string     `db:"name" json:"name"`
	Category       string     `db:"category" json:"category"`
	Quantity       float64    `db:"quantity" json:"quantity"`
	Unit           string     `db:"unit" json:"unit"`
	UnitPriceCents int64      `db:"unit_price_cents" json:"unitPriceCents"`
	PurchasedOn    *time.Time `db:"purchased_on" json:"purchasedOn,omitempty"`
	ExpiresOn      *time.Time `db:"expires_on" json:"expiresOn,omitempty"`
	Notes          string     `db:"notes" json:"notes"`
	CreatedAt      time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updatedAt"`
}

type ProductFilter struct {
	ExpiringWithinDays *int
	IncludeEmpty       bool
	Now                time.Time
}

type ProductInteraction struct {
	ID             string    `db:"id" json:"id"`
	ProductID      string    `db:"product_id" json:"productId"`
	UserID         string    `db:"user_id" json:"userId"`
	Type           string    `db:"type" json:"type"`
	Quantity       float64   `db:"quantity" json:"quantity"`
	Unit           string    `db:"unit" json:"unit"`
	Category       string    `db:"category" json:"category"`
	UnitPriceCents int64     `db:"unit_price_cents" json:"unitPriceCents"`
	CreatedAt      time.Time `db:"created_at" json:"createdAt"`
}

// ExpiringProduct joins a product with the owner's contact details for
// reminder jobs.
type ExpiringProduct struct {
	Product
	OwnerEmail       string `db:"owner_email"`
	OwnerDisplayName string `db:"owner_display_name"`
}

const (
	ListingActive   = "active"
	ListingReserved = "reserved"
	ListingSold     = "sold"
	ListingExpired  = "expired"
)

// StringList is stored as a JSONB array.
type StringList []string

func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(l))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (l *StringList) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*l = StringList{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("scan StringList: unsupported type %T", src)
	}
	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("scan StringList: %w", err)
	}
	if out == nil {
		out = []string{}
	}
	*l = out
	return nil
}

type Listing struct {
	ID                 string     `db:"id" json:"id"`
	SellerID           string     `db:"seller_id" json:"sellerId"`
	SellerName         string     `db:"seller_name" json:"sellerName,omitempty"`
	ProductID          *string    `db:"product_id" json:"productId,omitempty"`
	Title              string     `db:"title" json:"title"`
	Description        string     `db:"description" json:"description"`
	Category           string     `db:"category" json:"category"`
	Quantity           float64    `db:"quantity" json:"quantity"`
	Unit               string     `db:"unit" json:"unit"`
	PriceCents         int64      `db:"price_cents" json:"priceCents"`
	OriginalPriceCents *int64     `db:"original_price_cents" json:"originalPriceCents,omitempty"`
	ExpiresOn          *time.Time `db:"expires_on" json:"expiresOn,omitempty"`
	PickupLocation     string     `db:"pickup_location" json:"pickupLocation"`
	Lat                *float64   `db:"lat" json:"lat,omitempty"`
	Lng                *float64   `db:"lng" json:"lng,omitempty"`
	ImageKeys          StringList `db:"image_keys" json:"imageKeys"`
	Status             string     `db:"status" json:"status"`
	BuyerID            *string    `db:"buyer_id" json:"buyerId,omitempty"`
	ReservedAt         *time.Time `db:"reserved_at" json:"reservedAt,omitempty"`
	CompletedAt        *time.Time `db:"completed_at" json:"completedAt,omitempty"`
	CreatedAt          time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt          time.Time  `db:"updated_at" json:"updatedAt"`

	DistanceKm *float64 `db:"-" json:"distanceKm,omitempty"`
	ImageURLs  []string `db:"-" json:"imageUrls,omitempty"`
}

// IsFree reports whether the listing is a free share rather than a sale.
func (l Listing) IsFree() bool {
	return l.PriceCents == 0
}

type ListingFilter struct {
	Category string
	Query    string
	MinPrice *int64
	MaxPrice *int64
	// Bounding box pre-filter; exact distance is applied by the caller.
	MinLat, MaxLat, MinLng, MaxLng *float64
	IDs                            []string
	Limit                          int
	Offset                         int
}

type Conversation struct {
	ID        string    `db:"id" json:"id"`
	ListingID string    `db:"listing_id" json:"listingId"`
	SellerID  string    `db:"seller_id" json:"sellerId"`
	BuyerID   string    `db:"buyer_id" json:"buyerId"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

func (c Conversation) HasParticipant(userID string) bool {
	return c.SellerID == userID || c.BuyerID == userID
}

// OtherParty returns the participant that is not userID.
func (c Conversation) OtherParty(userID string) string {
	if c.SellerID == userID {
		return c.BuyerID
	}
	return c.SellerID
}

type ConversationSummary struct {
	Conversation
	ListingTitle  string     `db:"listing_title" json:"listingTitle"`
	ListingStatus string     `db:"listing_status" json:"listingStatus"`
	OtherName     string     `db:"other_name" json:"otherName"`
	LastMessage   *string    `db:"last_message" json:"lastMessage,omitempty"`
	LastMessageAt *time.Time `db:"last_message_at" json:"lastMessageAt,omitempty"`
	UnreadCount   int        `db:"unread_count" json:"unreadCount"`
}

type Message struct {
	ID             string     `db:"id" json:"id"`
	ConversationID string     `db:"conversation_id" json:"conversationId"`
	SenderID       string     `db:"sender_id" json:"senderId"`
	Body           string     `db:"body" json:"body"`
	ReadAt         *time.Time `db:"read_at" json:"readAt,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"createdAt"`
}

type Notification struct {
	ID        string     `db:"id" json:"id"`
	UserID    string     `db:"user_id" json:"userId"`
	Type      string     `db:"type" json:"type"`
	Title     string     `db:"title" json:"title"`
	Body      string     `db:"body" json:"body"`
	RefID     *string    `db:"ref_id" json:"refId,omitempty"`
	ReadAt    *time.Time `db:"read_at" json:"readAt,omitempty"`
	CreatedAt time.Time  `db:"created_at" json:"createdAt"`
}

type UserBadge struct {
	BadgeCode string    `db:"badge_code" json:"badgeCode"`
	EarnedAt  time.Time `db:"earned_at" json:"earnedAt"`
}

var (
	ErrInsufficientQuantity = errors.New("quantity exceeds remaining amount")
	ErrStaleStatus          = errors.New("listing status changed concurrently")
	ErrDuplicateEmail       = errors.New("email already registered")
)

package app

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/GDIPSA-Team2/ecoplate/internal/gamification"
	"github.com/GDIPSA-Team2/ecoplate/internal/logging"
	"github.com/GDIPSA-Team2/ecoplate/internal/store"
	"github.com/GDIPSA-Team2/ecoplate/internal/util"
)

type ProductInput struct {
	Name           string  `json:"name" validate:"required,max=120"`
	Category       string  `json:"category" validate:"required,oneof=produce dairy meat seafood bakery grains beverages prepared eggs other"`
	Quantity       float64 `json:"quantity" validate:"gt=0"`
	Unit           string  `json:"unit" validate:"required,oneof=kg g l ml pcs"`
	UnitPriceCents int64   `json:"unitPriceCents" validate:"gte=0"`
	PurchasedOn    string  `json:"purchasedOn"`
	ExpiresOn      string  `json:"expiresOn"`
	Notes          string  `json:"notes" validate:"max=1000"`
}

func (in *ProductInput) normalise() {
	in.Name = strings.TrimSpace(in.Name)
	in.Category = strings.ToLower(strings.TrimSpace(in.Category))
	in.Unit = strings.ToLower(strings.TrimSpace(in.Unit))
	in.Notes = strings.TrimSpace(in.Notes)
}

// parseDate accepts YYYY-MM-DD; empty input is nil.
func parseDate(field, raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return nil, invalidInput(field+" must be a YYYY-MM-DD date", map[string]string{"field": field})
	}
	return &t, nil
}

func (in ProductInput) toProduct() (store.Product, error) {
	purchased, err := parseDate("purchasedOn", in.PurchasedOn)
	if err != nil {
		return store.Product{}, err
	}
	expires, err := parseDate("expiresOn", in.ExpiresOn)
	if err != nil {
		return store.Product{}, err
	}
	if purchased != nil && expires != nil && expires.Before(*purchased) {
		return store.Product{}, invalidInput("expiresOn cannot be before purchasedOn", nil)
	}
	return store.Product{
		Name:           in.Name,
		Category:       in.Category,
		Quantity:       in.Quantity,
		Unit:           in.Unit,
		UnitPriceCents: in.UnitPriceCents,
		PurchasedOn:    purchased,
		ExpiresOn:      expires,
		Notes:          in.Notes,
	}, nil
}

func (s *Service) CreateProduct(ctx context.Context, sess Session, in ProductInput) (store.Product, error) {
	in.normalise()
	if err := validate(in); err != nil {
		return store.Product{}, err
	}
	p, err := in.toProduct()
	if err != nil {
		return store.Product{}, err
	}
	p.ID = util.NewID("prd")
	p.OwnerID = sess.UserID
	if p.PurchasedOn == nil {
		today := s.today()
		p.PurchasedOn = &today
	}
	return s.store.CreateProduct(ctx, p)
}

// ownedProduct hides products of other users behind a 404.
func (s *Service) ownedProduct(ctx context.Context, sess Session, id string) (store.Product, error) {
	p, err := s.store.GetProduct(ctx, id)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && p.OwnerID != sess.UserID) {
		return store.Product{}, notFound("Product")
	}
	return p, err
}

func (s *Service) GetProduct(ctx context.Context, sess Session, id string) (store.Product, error) {
	return s.ownedProduct(ctx, sess, id)
}

// ListProducts returns the caller's pantry, soonest expiry first.
// expiringWithinDays, when set, keeps only products expiring by then.
func (s *Service) ListProducts(ctx context.Context, sess Session, expiringWithinDays *int, includeEmpty bool) ([]store.Product, error) {
	if expiringWithinDays != nil && *expiringWithinDays < 0 {
		return nil, invalidInput("expiringWithinDays must not be negative", nil)
	}
	return s.store.ListProducts(ctx, sess.UserID, store.ProductFilter{
		ExpiringWithinDays: expiringWithinDays,
		IncludeEmpty:       includeEmpty,
		Now:                s.today(),
	})
}

func (s *Service) UpdateProduct(ctx context.Context, sess Session, id string, in ProductInput) (store.Product, error) {
	in.normalise()
	if err := validate(in); err != nil {
		return store.Product{}, err
	}
	existing, err := s.ownedProduct(ctx, sess, id)
	if err != nil {
		return store.Product{}, err
	}
	p, err := in.toProduct()
	if err != nil {
		return store.Product{}, err
	}
	p.ID = existing.ID
	p.OwnerID = existing.OwnerID
	if p.PurchasedOn == nil {
		p.PurchasedOn = existing.PurchasedOn
	}
	return s.store.UpdateProduct(ctx, p)
}

func (s *Service) DeleteProduct(ctx context.Context, sess Session, id string) error {
	err := s.store.DeleteProduct(ctx, sess.UserID, id)
	if errors.Is(err, sql.ErrNoRows) {
		return notFound("Product")
	}
	return err
}

type InteractionInput struct {
	Type     string  `json:"type" validate:"required,oneof=consumed wasted shared sold"`
	Quantity float64 `json:"quantity" validate:"gt=0"`
}

type InteractionResult struct {
	Product      store.Product            `json:"product"`
	Interaction  store.ProductInteraction `json:"interaction"`
	Gamification GamificationDelta        `json:"gamification"`
}

// RecordInteraction consumes part of a product and scores the action.
func (s *Service) RecordInteraction(ctx context.Context, sess Session, productID string, in InteractionInput) (InteractionResult, error) {
	in.Type = strings.ToLower(strings.TrimSpace(in.Type))
	if err := validate(in); err != nil {
		return InteractionResult{}, err
	}
	action, err := gamification.ParseAction(in.Type)
	if err != nil {
		return InteractionResult{}, invalidInput(err.Error(), nil)
	}

	product, recorded, err := s.store.RecordInteraction(ctx, store.ProductInteraction{
		ID:        util.NewID("int"),
		ProductID: productID,
		UserID:    sess.UserID,
		Type:      in.Type,
		Quantity:  in.Quantity,
	})
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return InteractionResult{}, notFound("Product")
	case errors.Is(err, store.ErrInsufficientQuantity):
		return InteractionResult{}, domainError(http.StatusUnprocessableEntity, "INSUFFICIENT_QUANTITY",
			"Quantity exceeds what is left of this product", nil)
	case err != nil:
		return InteractionResult{}, err
	}

	// The interaction is committed at this point; scoring failures are logged only.
	result := InteractionResult{Product: product, Interaction: recorded, Gamification: deltaOf(gamification.Outcome{})}
	if out, err := s.award(ctx, sess.UserID, action, recorded.ID); err != nil {
		logging.Ctx(ctx).Error().Err(err).Str("interaction_id", recorded.ID).Msg("interaction award failed")
	} else {
		result.Gamification = deltaOf(out)
	}
	return result, nil
}

func (s *Service) ListInteractions(ctx context.Context, sess Session, since time.Time) ([]store.ProductInteraction, error) {
	return s.store.ListInteractions(ctx, sess.UserID, since)
}

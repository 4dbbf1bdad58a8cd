package app

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/GDIPSA-Team2/ecoplate/internal/authpw"
	"github.com/GDIPSA-Team2/ecoplate/internal/geo"
	"github.com/GDIPSA-Team2/ecoplate/internal/logging"
	"github.com/GDIPSA-Team2/ecoplate/internal/store"
)

type SignUpInput struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"displayName"`
}

type SignUpResult struct {
	UserID string
	// VerificationToken is only returned when email delivery is off.
	VerificationToken string
}

func (s *Service) SignUp(ctx context.Context, in SignUpInput) (SignUpResult, error) {
	resp, err := s.passwords.SignUp(ctx, authpw.SignUpRequest{
		Email:       in.Email,
		Password:    in.Password,
		DisplayName: in.DisplayName,
	})
	switch {
	case errors.Is(err, authpw.ErrEmailExists):
		return SignUpResult{}, domainError(http.StatusConflict, "EMAIL_EXISTS", "Email already registered", nil)
	case errors.Is(err, authpw.ErrMissingFields), errors.Is(err, authpw.ErrInvalidEmail), errors.Is(err, authpw.ErrWeakPassword):
		return SignUpResult{}, invalidInput(err.Error(), nil)
	case err != nil:
		return SignUpResult{}, err
	}

	result := SignUpResult{UserID: resp.User.ID}
	if !s.SMTPConfigured() {
		result.VerificationToken = resp.VerificationToken
		return result, nil
	}
	link := s.appURL("/verify-email", resp.VerificationToken)
	if err := s.mail.SendVerificationEmail(resp.User.Email, resp.User.DisplayName, link); err != nil {
		logging.Ctx(ctx).Error().Err(err).Str("user_id", resp.User.ID).Msg("send verification email")
	}
	return result, nil
}

func (s *Service) SignIn(ctx context.Context, emailAddr, password string) (Session, error) {
	resp, err := s.passwords.SignIn(ctx, authpw.SignInRequest{Email: emailAddr, Password: password})
	if errors.Is(err, authpw.ErrInvalidCredentials) {
		return Session{}, domainError(http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil)
	}
	if err != nil {
		return Session{}, err
	}
	if resp.RequiresVerify {
		return Session{}, domainError(http.StatusForbidden, "EMAIL_NOT_VERIFIED", "Please verify your email before signing in", nil)
	}
	return s.issueSession(ctx, resp.User)
}

func (s *Service) VerifyEmail(ctx context.Context, token string) error {
	err := s.passwords.VerifyEmail(ctx, token)
	if errors.Is(err, authpw.ErrInvalidToken) {
		return domainError(http.StatusBadRequest, "VERIFICATION_FAILED", err.Error(), nil)
	}
	return err
}

// RequestPasswordReset never reveals whether the email exists. The returned
// token is only non-empty when email delivery is off.
func (s *Service) RequestPasswordReset(ctx context.Context, emailAddr string) (string, error) {
	token, user, err := s.passwords.RequestPasswordReset(ctx, emailAddr)
	if err != nil {
		return "", err
	}
	if token == "" {
		return "", nil
	}
	if !s.SMTPConfigured() {
		return token, nil
	}
	if err := s.mail.SendPasswordResetEmail(user.Email, user.DisplayName, s.appURL("/reset-password", token)); err != nil {
		logging.Ctx(ctx).Error().Err(err).Str("user_id", user.ID).Msg("send password reset email")
	}
	return "", nil
}

func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	err := s.passwords.ResetPassword(ctx, authpw.ResetPasswordRequest{Token: token, NewPassword: newPassword})
	switch {
	case errors.Is(err, authpw.ErrInvalidToken):
		return domainError(http.StatusBadRequest, "RESET_FAILED", err.Error(), nil)
	case errors.Is(err, authpw.ErrWeakPassword):
		return invalidInput(err.Error(), nil)
	}
	return err
}

func (s *Service) appURL(path, token string) string {
	base := strings.TrimRight(s.cfg.PublicBaseURL, "/")
	return base + path + "?token=" + url.QueryEscape(token)
}

func (s *Service) Me(ctx context.Context, sess Session) (store.User, error) {
	return s.store.GetUserByID(ctx, sess.UserID)
}

type ProfileInput struct {
	DisplayName *string  `json:"displayName" validate:"omitempty,min=1,max=80"`
	AvatarURL   *string  `json:"avatarUrl" validate:"omitempty,url,max=500"`
	HomeLat     *float64 `json:"homeLat" validate:"omitempty,latitude"`
	HomeLng     *float64 `json:"homeLng" validate:"omitempty,longitude"`
	// ClearHome removes the saved home location.
	ClearHome bool `json:"clearHome"`
}

func (s *Service) UpdateMe(ctx context.Context, sess Session, in ProfileInput) (store.User, error) {
	if in.DisplayName != nil {
		trimmed := strings.TrimSpace(*in.DisplayName)
		in.DisplayName = &trimmed
	}
	if err := validate(in); err != nil {
		return store.User{}, err
	}
	if (in.HomeLat == nil) != (in.HomeLng == nil) {
		return store.User{}, invalidInput("homeLat and homeLng must be set together", nil)
	}
	if in.HomeLat != nil && !(geo.Point{Lat: *in.HomeLat, Lng: *in.HomeLng}).Valid() {
		return store.User{}, invalidInput("Home location is out of range", nil)
	}

	user, err := s.store.GetUserByID(ctx, sess.UserID)
	if err != nil {
		return store.User{}, err
	}
	if in.DisplayName != nil {
		user.DisplayName = *in.DisplayName
	}
	if in.AvatarURL != nil {
		user.AvatarURL = strings.TrimSpace(*in.AvatarURL)
	}
	if in.ClearHome {
		user.HomeLat, user.HomeLng = nil, nil
	} else if in.HomeLat != nil {
		user.HomeLat, user.HomeLng = in.HomeLat, in.HomeLng
	}
	return s.store.UpdateUserProfile(ctx, user)
}

package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/smartwords/api/internal/apperr"
	"github.com/smartwords/api/internal/auth"
	"github.com/smartwords/api/internal/logger"
	"github.com/smartwords/api/internal/model"
	"gorm.io/gorm"
)

// Mailer delivers password recovery tokens.
type Mailer interface {
	SendRecovery(ctx context.Context, email, token string) error
}

// LogMailer writes recovery links to the log instead of sending mail.
type LogMailer struct {
	log     *logger.Logger
	baseURL string
}

func NewLogMailer(baseLog *logger.Logger, frontendURL string) *LogMailer {
	return &LogMailer{log: baseLog.With("component", "mailer"), baseURL: strings.TrimRight(frontendURL, "/")}
}

func (m *LogMailer) SendRecovery(_ context.Context, email, token string) error {
	m.log.Info("recovery email", "email", email, "link", m.baseURL+"/reset-password#token="+token)
	return nil
}

type SignupCommand struct {
	Email    string      `json:"email" binding:"required,email,max=255"`
	Password string      `json:"password" binding:"required,max=255"`
	Data     *SignupData `json:"data"`
}

type SignupData struct {
	Timezone string `json:"timezone" binding:"omitempty,max=64"`
}

type LoginCommand struct {
	Email    string `json:"email" binding:"required,email,max=255"`
	Password string `json:"password" binding:"required,max=255"`
}

type LogoutCommand struct {
	RefreshToken string `json:"refresh_token" binding:"omitempty,max=255"`
}

type RecoverCommand struct {
	Email string `json:"email" binding:"required,email,max=255"`
}

type ExchangeCommand struct {
	RefreshToken string `json:"refresh_token" binding:"required,max=255"`
}

type ResetPasswordCommand struct {
	Password string `json:"password" binding:"required,max=255"`
}

type AuthUser struct {
	ID    uuid.UUID `json:"id"`
	Email string    `json:"email"`
}

type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
}

type AuthSession struct {
	User    AuthUser  `json:"user"`
	Session TokenPair `json:"session"`
}

type Message struct {
	Message string `json:"message"`
}

type AuthService struct {
	db        *gorm.DB
	jwtSecret string
	mailer    Mailer
	log       *logger.Logger
	now       func() time.Time
}

func NewAuthService(db *gorm.DB, jwtSecret string, mailer Mailer, baseLog *logger.Logger) *AuthService {
	return &AuthService{db: db, jwtSecret: jwtSecret, mailer: mailer, log: baseLog.With("service", "auth"), now: time.Now}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *AuthService) Signup(ctx context.Context, cmd SignupCommand) (*AuthSession, error) {
	if len(cmd.Password) < auth.MinPasswordLength {
		return nil, apperr.Validation(apperr.CodeWeakPassword, fmt.Sprintf("Password must be at least %d characters", auth.MinPasswordLength))
	}
	hash, err := auth.HashPassword(cmd.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	email := normalizeEmail(cmd.Email)
	timezone := "UTC"
	if cmd.Data != nil && cmd.Data.Timezone != "" {
		timezone = cmd.Data.Timezone
	}

	var out *AuthSession
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		user := model.User{Provider: model.ProviderPassword, ProviderID: email, Email: email, PasswordHash: hash}
		if err := tx.Create(&user).Error; err != nil {
			if isDuplicate(err) {
				return apperr.Conflict(apperr.CodeEmailAlreadyRegistered, "This email is already registered")
			}
			return fmt.Errorf("insert user: %w", err)
		}
		if err := tx.Create(&model.Profile{UserID: user.ID, Timezone: timezone}).Error; err != nil {
			return fmt.Errorf("insert profile: %w", err)
		}
		out, err = s.issue(tx, &user)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *AuthService) Login(ctx context.Context, cmd LoginCommand) (*AuthSession, error) {
	db := s.db.WithContext(ctx)
	var user model.User
	err := db.Where("email = ?", normalizeEmail(cmd.Email)).Take(&user).Error
	if err != nil && !isNotFound(err) {
		return nil, fmt.Errorf("load user: %w", err)
	}
	if err != nil || !auth.CheckPassword(user.PasswordHash, cmd.Password) {
		return nil, apperr.Unauthorized(apperr.CodeInvalidCredentials, "Invalid email or password")
	}
	return s.issue(db, &user)
}

func (s *AuthService) Logout(ctx context.Context, cmd LogoutCommand) (*Message, error) {
	if cmd.RefreshToken != "" {
		err := s.db.WithContext(ctx).Model(&model.RefreshToken{}).
			Where("token_hash = ?", auth.HashToken(cmd.RefreshToken)).
			Update("revoked", true).Error
		if err != nil {
			return nil, fmt.Errorf("revoke token: %w", err)
		}
	}
	return &Message{Message: "LOGGED_OUT"}, nil
}

// Recover always succeeds so callers cannot learn which emails exist.
func (s *AuthService) Recover(ctx context.Context, cmd RecoverCommand) (*Message, error) {
	out := &Message{Message: "RESET_EMAIL_SENT"}
	db := s.db.WithContext(ctx)

	var user model.User
	if err := db.Where("email = ?", normalizeEmail(cmd.Email)).Take(&user).Error; err != nil {
		if isNotFound(err) {
			return out, nil
		}
		return nil, fmt.Errorf("load user: %w", err)
	}

	token, hash, err := auth.GenerateRefreshToken()
	if err != nil {
		return nil, fmt.Errorf("generate recovery token: %w", err)
	}
	row := model.RefreshToken{
		UserID:    user.ID,
		TokenHash: hash,
		Kind:      model.TokenKindRecovery,
		ExpiresAt: clock(s.now).Add(auth.RecoveryTokenExpiry),
	}
	if err := db.Create(&row).Error; err != nil {
		return nil, fmt.Errorf("store recovery token: %w", err)
	}
	if err := s.mailer.SendRecovery(ctx, user.Email, token); err != nil {
		s.log.Error("failed to send recovery email", "user_id", user.ID.String(), "error", err)
	}
	return out, nil
}

// Exchange trades a refresh or recovery token for a fresh session. The
// presented token is revoked.
func (s *AuthService) Exchange(ctx context.Context, cmd ExchangeCommand) (*AuthSession, error) {
	invalid := apperr.Unauthorized(apperr.CodeRecoveryTokenInvalid, "Token is invalid or expired")
	var out *AuthSession

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row model.RefreshToken
		err := tx.Where("token_hash = ? AND revoked = ? AND expires_at > ?", auth.HashToken(cmd.RefreshToken), false, clock(s.now)).
			Take(&row).Error
		if isNotFound(err) {
			return invalid
		}
		if err != nil {
			return fmt.Errorf("load token: %w", err)
		}

		res := tx.Model(&model.RefreshToken{}).Where("id = ? AND revoked = ?", row.ID, false).Update("revoked", true)
		if res.Error != nil {
			return fmt.Errorf("revoke token: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return invalid
		}

		var user model.User
		if err := tx.Where("id = ?", row.UserID).Take(&user).Error; err != nil {
			if isNotFound(err) {
				return invalid
			}
			return fmt.Errorf("load user: %w", err)
		}
		out, err = s.issue(tx, &user)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *AuthService) ResetPassword(ctx context.Context, id auth.Identity, cmd ResetPasswordCommand) (*Message, error) {
	if len(cmd.Password) < auth.MinPasswordLength {
		return nil, apperr.Validation(apperr.CodeWeakPassword, fmt.Sprintf("Password must be at least %d characters", auth.MinPasswordLength))
	}
	hash, err := auth.HashPassword(cmd.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.User{}).Where("id = ?", id.UserID).Update("password_hash", hash)
		if res.Error != nil {
			return fmt.Errorf("update password: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return apperr.Unauthorized(apperr.CodeUnauthorized, "User no longer exists")
		}
		if err := tx.Model(&model.RefreshToken{}).Where("user_id = ?", id.UserID).Update("revoked", true).Error; err != nil {
			return fmt.Errorf("revoke tokens: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &Message{Message: "PASSWORD_UPDATED"}, nil
}

// GoogleLogin finds or creates the user behind a verified Google profile.
// An existing account with the same email is reused.
func (s *AuthService) GoogleLogin(ctx context.Context, info *auth.GoogleUserInfo) (*AuthSession, error) {
	email := normalizeEmail(info.Email)
	var out *AuthSession

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user model.User
		err := tx.Where("provider = ? AND provider_id = ?", model.ProviderGoogle, info.ID).Take(&user).Error
		if isNotFound(err) {
			err = tx.Where("email = ?", email).Take(&user).Error
		}
		switch {
		case isNotFound(err):
			user = model.User{Provider: model.ProviderGoogle, ProviderID: info.ID, Email: email}
			if err := tx.Create(&user).Error; err != nil {
				return fmt.Errorf("insert user: %w", err)
			}
			if err := tx.Create(&model.Profile{UserID: user.ID, Timezone: "UTC"}).Error; err != nil {
				return fmt.Errorf("insert profile: %w", err)
			}
		case err != nil:
			return fmt.Errorf("load user: %w", err)
		case user.Provider == model.ProviderGoogle && user.Email != email:
			if err := tx.Model(&user).Update("email", email).Error; err != nil {
				return fmt.Errorf("update email: %w", err)
			}
		}
		out, err = s.issue(tx, &user)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *AuthService) issue(tx *gorm.DB, user *model.User) (*AuthSession, error) {
	now := clock(s.now)
	access, err := auth.GenerateAccessToken(auth.Identity{UserID: user.ID, Email: user.Email}, s.jwtSecret, now)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}
	refresh, hash, err := auth.GenerateRefreshToken()
	if err != nil {
		return nil, fmt.Errorf("generate refresh token: %w", err)
	}
	row := model.RefreshToken{
		UserID:    user.ID,
		TokenHash: hash,
		Kind:      model.TokenKindRefresh,
		ExpiresAt: now.Add(auth.RefreshTokenExpiry),
	}
	if err := tx.Create(&row).Error; err != nil {
		return nil, fmt.Errorf("store refresh token: %w", err)
	}
	return &AuthSession{
		User: AuthUser{ID: user.ID, Email: user.Email},
		Session: TokenPair{
			AccessToken:  access,
			RefreshToken: refresh,
			ExpiresIn:    int(auth.AccessTokenExpiry.Seconds()),
		},
	}, nil
}

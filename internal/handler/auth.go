package handler

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"
	"github.com/smartwords/api/internal/auth"
	"github.com/smartwords/api/internal/logger"
	"github.com/smartwords/api/internal/response"
	"github.com/smartwords/api/internal/service"
	"golang.org/x/oauth2"
)

const oauthStateCookie = "oauth_state"

// GoogleProvider is the slice of the OAuth flow the callback needs.
type GoogleProvider interface {
	AuthCodeURL(state string, opts ...oauth2.AuthCodeOption) string
	Exchange(ctx context.Context, code string, opts ...oauth2.AuthCodeOption) (*oauth2.Token, error)
}

// UserInfoFunc fetches the Google profile behind a token.
type UserInfoFunc func(ctx context.Context, token *oauth2.Token) (*auth.GoogleUserInfo, error)

type AuthHandler struct {
	auth        *service.AuthService
	google      GoogleProvider
	userInfo    UserInfoFunc
	frontendURL string
	log         *logger.Logger
}

// NewAuthHandler builds the auth endpoints. google may be nil, which
// disables the OAuth routes.
func NewAuthHandler(authService *service.AuthService, google *oauth2.Config, frontendURL string, baseLog *logger.Logger) *AuthHandler {
	h := &AuthHandler{
		auth:        authService,
		frontendURL: frontendURL,
		log:         baseLog.With("handler", "auth"),
	}
	if google != nil {
		h.google = google
		h.userInfo = func(ctx context.Context, token *oauth2.Token) (*auth.GoogleUserInfo, error) {
			return auth.GetGoogleUserInfo(ctx, google, token)
		}
	}
	return h
}

func (h *AuthHandler) GoogleEnabled() bool {
	return h.google != nil
}

func (h *AuthHandler) Signup(c *gin.Context) {
	var req service.SignupCommand
	if !bindJSON(c, &req) {
		return
	}
	session, err := h.auth.Signup(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, session)
}

func (h *AuthHandler) Login(c *gin.Context) {
	var req service.LoginCommand
	if !bindJSON(c, &req) {
		return
	}
	session, err := h.auth.Login(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, session)
}

func (h *AuthHandler) Logout(c *gin.Context) {
	var req service.LogoutCommand
	if !bindOptionalJSON(c, &req) {
		return
	}
	msg, err := h.auth.Logout(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, msg)
}

func (h *AuthHandler) Recover(c *gin.Context) {
	var req service.RecoverCommand
	if !bindJSON(c, &req) {
		return
	}
	msg, err := h.auth.Recover(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, msg)
}

func (h *AuthHandler) Exchange(c *gin.Context) {
	var req service.ExchangeCommand
	if !bindJSON(c, &req) {
		return
	}
	session, err := h.auth.Exchange(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, session)
}

func (h *AuthHandler) ResetPassword(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	var req service.ResetPasswordCommand
	if !bindJSON(c, &req) {
		return
	}
	msg, err := h.auth.ResetPassword(c.Request.Context(), id, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, msg)
}

// GoogleAuth redirects to the Google consent screen.
func (h *AuthHandler) GoogleAuth(c *gin.Context) {
	state, err := generateState()
	if err != nil {
		response.Error(c, err)
		return
	}
	// Checked on callback for CSRF protection.
	c.SetCookie(oauthStateCookie, state, 600, "/", "", false, true)
	c.Redirect(http.StatusTemporaryRedirect, h.google.AuthCodeURL(state, oauth2.AccessTypeOffline))
}

// GoogleCallback finishes the OAuth flow and hands the session to the
// frontend in the URL fragment.
func (h *AuthHandler) GoogleCallback(c *gin.Context) {
	state := c.Query("state")
	savedState, err := c.Cookie(oauthStateCookie)
	if err != nil || state == "" || state != savedState {
		h.fail(c, "invalid_state")
		return
	}
	c.SetCookie(oauthStateCookie, "", -1, "/", "", false, true)

	code := c.Query("code")
	if code == "" {
		h.fail(c, "no_code")
		return
	}

	ctx := c.Request.Context()
	token, err := h.google.Exchange(ctx, code)
	if err != nil {
		h.log.Warn("google code exchange failed", "error", err)
		h.fail(c, "exchange_failed")
		return
	}
	info, err := h.userInfo(ctx, token)
	if err != nil {
		h.log.Warn("google userinfo failed", "error", err)
		h.fail(c, "user_info_failed")
		return
	}

	session, err := h.auth.GoogleLogin(ctx, info)
	if err != nil {
		h.log.Error("google login failed", "error", err)
		h.fail(c, "login_failed")
		return
	}

	fragment := url.Values{}
	fragment.Set("access_token", session.Session.AccessToken)
	fragment.Set("refresh_token", session.Session.RefreshToken)
	c.Redirect(http.StatusTemporaryRedirect, h.frontendURL+"/auth/callback#"+fragment.Encode())
}

func (h *AuthHandler) fail(c *gin.Context, reason string) {
	c.Redirect(http.StatusTemporaryRedirect, h.frontendURL+"/login?error="+url.QueryEscape(reason))
}

func generateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

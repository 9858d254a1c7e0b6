package auth

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/reelworks/kino/internal/respond"
)

const refreshCookieName = "refreshToken"

const userinfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"

// SignInGoogle handles GET /signin/oauth2/google. The optional "next"
// query parameter rides along as the OAuth state and becomes the
// post-sign-in frontend location.
func (s *Service) SignInGoogle(w http.ResponseWriter, r *http.Request) {
	next := r.URL.Query().Get("next")
	if next == "" {
		next = "/"
	}
	http.Redirect(w, r, s.oauth.AuthCodeURL(next), http.StatusTemporaryRedirect)
}

// GoogleRedirect handles GET /oauth2/google/redirect: exchanges the
// code, fetches the Google profile, upserts the user, issues the
// refresh cookie and bounces back to the frontend.
func (s *Service) GoogleRedirect(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	if code == "" {
		respond.Error(w, http.StatusBadRequest, "Missing authorization code")
		return
	}

	tok, err := s.oauth.Exchange(r.Context(), code)
	if err != nil {
		s.log.Warn("oauth code exchange failed", "err", err)
		respond.Error(w, http.StatusUnauthorized, "Sign-in failed")
		return
	}

	resp, err := s.oauth.Client(r.Context(), tok).Get(userinfoURL)
	if err != nil {
		s.log.Error("userinfo fetch failed", "err", err)
		respond.Internal(w)
		return
	}
	defer resp.Body.Close()

	var profile struct {
		ID      string `json:"id"`
		Email   string `json:"email"`
		Name    string `json:"name"`
		Picture string `json:"picture"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil || profile.ID == "" {
		s.log.Error("userinfo decode failed", "err", err)
		respond.Internal(w)
		return
	}

	user, err := s.upsertUser(r.Context(), User{
		Provider:       "google",
		ProviderUserID: profile.ID,
		Email:          profile.Email,
		Name:           profile.Name,
		AvatarURL:      profile.Picture,
	})
	if err != nil {
		s.log.Error("user upsert failed", "err", err)
		respond.Internal(w)
		return
	}

	if err := s.issueRefreshCookie(w, r, user); err != nil {
		s.log.Error("refresh token issue failed", "err", err)
		respond.Internal(w)
		return
	}

	next := r.URL.Query().Get("state")
	if next == "" {
		next = "/"
	}
	http.Redirect(w, r, s.frontendURL+next, http.StatusTemporaryRedirect)
}

// Token handles GET /token: trades a valid refresh cookie for a fresh
// access token.
func (s *Service) Token(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(refreshCookieName)
	if err != nil {
		respond.Error(w, http.StatusUnauthorized, "Not signed in")
		return
	}

	userID, role, err := s.lookupRefreshToken(r.Context(), cookie.Value)
	if err != nil {
		s.clearRefreshCookie(w)
		respond.Error(w, http.StatusUnauthorized, "Not signed in")
		return
	}

	access, err := s.GenerateAccessToken(userID, role)
	if err != nil {
		s.log.Error("access token mint failed", "err", err)
		respond.Internal(w)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	respond.JSON(w, http.StatusOK, map[string]string{"accessToken": access})
}

// SignOut handles GET /signout: revokes the refresh token and clears
// the cookie.
func (s *Service) SignOut(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(refreshCookieName)
	if err != nil {
		respond.Error(w, http.StatusUnauthorized, "Not signed in")
		return
	}

	if err := s.deleteRefreshToken(r.Context(), cookie.Value); err != nil && err != errTokenNotFound {
		s.log.Error("refresh token delete failed", "err", err)
		respond.Internal(w)
		return
	}

	s.clearRefreshCookie(w)
	respond.JSON(w, http.StatusOK, map[string]string{"message": "Signed out"})
}

func (s *Service) issueRefreshCookie(w http.ResponseWriter, r *http.Request, user User) error {
	raw, hash, err := generateRefreshToken()
	if err != nil {
		return err
	}
	expires := time.Now().Add(refreshTokenTTL)
	if err := s.saveRefreshToken(r.Context(), hash, user.ID, expires); err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    raw,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteNoneMode,
	})
	return nil
}

func (s *Service) clearRefreshCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteNoneMode,
	})
}

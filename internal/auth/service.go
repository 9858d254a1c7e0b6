package auth

import (
	"database/sql"
	"log/slog"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// Service bundles everything the auth endpoints and middleware need:
// the user database, the OAuth client and the signing secrets.
type Service struct {
	db           *sql.DB
	log          *slog.Logger
	oauth        *oauth2.Config
	accessSecret []byte
	frontendURL  string
}

// Config carries the auth-relevant subset of application config.
type Config struct {
	AccessSecret      string
	OAuthClientID     string
	OAuthClientSecret string
	OAuthRedirectURI  string
	FrontendURL       string
}

// NewService wires an auth Service against db.
func NewService(db *sql.DB, log *slog.Logger, cfg Config) *Service {
	return &Service{
		db:  db,
		log: log,
		oauth: &oauth2.Config{
			ClientID:     cfg.OAuthClientID,
			ClientSecret: cfg.OAuthClientSecret,
			RedirectURL:  cfg.OAuthRedirectURI,
			Scopes: []string{
				"https://www.googleapis.com/auth/userinfo.email",
				"https://www.googleapis.com/auth/userinfo.profile",
			},
			Endpoint: google.Endpoint,
		},
		accessSecret: []byte(cfg.AccessSecret),
		frontendURL:  cfg.FrontendURL,
	}
}

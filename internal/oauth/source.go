package oauth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/teemow/eventrelay/internal/instrumentation"
	"github.com/teemow/eventrelay/internal/logging"
)

// Twitch identity endpoints.
const (
	AuthURL  = "https://id.twitch.tv/oauth2/authorize"
	TokenURL = "https://id.twitch.tv/oauth2/token"
)

const (
	grantRefreshToken = "refresh_token"

	// maxErrorBody caps how much of a token endpoint error body is kept.
	maxErrorBody = 512
)

// SourceConfig configures a Source.
type SourceConfig struct {
	ClientID     string
	ClientSecret string

	// RedirectURL is the authorize callback registered with Twitch.
	RedirectURL string
	Scopes      []string

	// AuthURL and TokenURL override the Twitch endpoints.
	AuthURL  string
	TokenURL string

	// HTTPClient is used for token requests when set.
	HTTPClient *http.Client

	Metrics *instrumentation.Metrics
	Logger  *slog.Logger
}

// Source exchanges authorization codes and client credentials for tokens
// and refreshes user credentials.
type Source struct {
	user       *oauth2.Config
	app        *clientcredentials.Config
	httpClient *http.Client
	metrics    *instrumentation.Metrics
	logger     *slog.Logger
}

// NewSource creates a Source for the given Twitch application.
func NewSource(cfg SourceConfig) *Source {
	authURL := cfg.AuthURL
	if authURL == "" {
		authURL = AuthURL
	}
	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		tokenURL = TokenURL
	}

	return &Source{
		user: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   authURL,
				TokenURL:  tokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		app: &clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     tokenURL,
			AuthStyle:    oauth2.AuthStyleInParams,
		},
		httpClient: cfg.HTTPClient,
		metrics:    cfg.Metrics,
		logger:     logging.WithComponent(cfg.Logger, "oauth"),
	}
}

// ClientID returns the Twitch application client id.
func (s *Source) ClientID() string {
	return s.user.ClientID
}

// AuthCodeURL returns the Twitch authorize URL for the given state.
func (s *Source) AuthCodeURL(state string) string {
	return s.user.AuthCodeURL(state)
}

// Acquire exchanges code for a user credential. An empty code yields the
// application credential through the client-credentials grant.
func (s *Source) Acquire(ctx context.Context, code string) (*Credential, error) {
	ctx = s.withHTTPClient(ctx)

	var (
		tok   *oauth2.Token
		err   error
		grant string
	)
	if code == "" {
		grant = instrumentation.GrantClientCredentials
		tok, err = s.app.Token(ctx)
	} else {
		grant = instrumentation.GrantAuthorizationCode
		tok, err = s.user.Exchange(ctx, code)
	}

	if err != nil {
		s.metrics.RecordOAuthAuth(ctx, grant, instrumentation.OAuthResultFailure)
		exErr := newExchangeError(grant, err)
		s.logger.Error("token exchange failed",
			"grant", grant,
			"status_code", exErr.StatusCode,
			"body", exErr.Body)
		return nil, exErr
	}

	s.metrics.RecordOAuthAuth(ctx, grant, instrumentation.OAuthResultSuccess)
	s.logger.Debug("token exchange succeeded",
		"grant", grant,
		"token", logging.SanitizeToken(tok.AccessToken),
		"expires_at", tok.Expiry)

	return NewCredential(tok), nil
}

// Refresh runs one refresh_token grant and updates cred in place.
// There is no retry.
func (s *Source) Refresh(ctx context.Context, cred *Credential) error {
	refreshToken := cred.RefreshToken()
	if refreshToken == "" {
		s.metrics.RecordOAuthTokenRefresh(ctx, instrumentation.OAuthResultFailure)
		return ErrNoRefreshToken
	}

	ctx = s.withHTTPClient(ctx)

	// A token with only a refresh token is never valid, so the source always
	// hits the token endpoint.
	tok, err := s.user.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		s.metrics.RecordOAuthTokenRefresh(ctx, instrumentation.OAuthResultFailure)
		exErr := newExchangeError(grantRefreshToken, err)
		s.logger.Warn("token refresh failed",
			"status_code", exErr.StatusCode,
			"body", exErr.Body)
		return exErr
	}

	cred.Update(tok)
	s.metrics.RecordOAuthTokenRefresh(ctx, instrumentation.OAuthResultSuccess)
	s.logger.Debug("token refreshed", "expires_at", tok.Expiry)

	return nil
}

func (s *Source) withHTTPClient(ctx context.Context) context.Context {
	if s.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, s.httpClient)
	}
	return ctx
}

func newExchangeError(grant string, err error) *AuthExchangeError {
	exErr := &AuthExchangeError{Grant: grant, Err: err}

	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil {
		exErr.StatusCode = re.Response.StatusCode
		exErr.Body = logging.Truncate(string(re.Body), maxErrorBody)
	}
	return exErr
}

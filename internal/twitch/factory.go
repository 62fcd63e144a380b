package twitch

import (
	"net/http"

	"golang.org/x/sync/singleflight"

	"github.com/teemow/eventrelay/internal/logging"
	"github.com/teemow/eventrelay/internal/oauth"
)

// Factory creates Clients that share one HTTP client and one refresh group.
type Factory struct {
	clientID string
	source   CredentialSource
	opts     Options
	refresh  *singleflight.Group
	app      *Client
}

// NewFactory creates a Factory. appCred is the client-credentials token used
// for subscription management.
func NewFactory(clientID string, source CredentialSource, appCred *oauth.Credential, opts Options) *Factory {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: defaultTimeout}
	}
	if opts.BaseURL == "" {
		opts.BaseURL = HelixURL
	}
	if opts.ValidateURL == "" {
		opts.ValidateURL = ValidateURL
	}
	opts.Logger = logging.WithComponent(opts.Logger, "twitch")

	f := &Factory{
		clientID: clientID,
		source:   source,
		opts:     opts,
		refresh:  &singleflight.Group{},
	}
	f.app = f.newClient(appCred, true)
	return f
}

// ForCredential returns a Client acting as the owner of cred.
func (f *Factory) ForCredential(cred *oauth.Credential) *Client {
	return f.newClient(cred, false)
}

// App returns the Client acting with the application credential.
func (f *Factory) App() *Client {
	return f.app
}

func (f *Factory) newClient(cred *oauth.Credential, app bool) *Client {
	return &Client{
		httpClient:  f.opts.HTTPClient,
		clientID:    f.clientID,
		baseURL:     f.opts.BaseURL,
		validateURL: f.opts.ValidateURL,
		source:      f.source,
		cred:        cred,
		app:         app,
		refresh:     f.refresh,
		metrics:     f.opts.Metrics,
		logger:      f.opts.Logger,
	}
}

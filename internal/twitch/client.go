package twitch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/teemow/eventrelay/internal/instrumentation"
	"github.com/teemow/eventrelay/internal/logging"
	"github.com/teemow/eventrelay/internal/oauth"
)

// Twitch API endpoints.
const (
	HelixURL    = "https://api.twitch.tv/helix"
	ValidateURL = "https://id.twitch.tv/oauth2/validate"
)

const (
	defaultTimeout = 15 * time.Second

	// maxResponseBody caps how much of a Helix response is read.
	maxResponseBody = 4 << 20

	// maxLoggedBody caps how much of an error body is logged.
	maxLoggedBody = 512

	// renewTimeout bounds a shared credential renewal.
	renewTimeout = 15 * time.Second
)

// CredentialSource renews credentials. *oauth.Source implements it.
type CredentialSource interface {
	Acquire(ctx context.Context, code string) (*oauth.Credential, error)
	Refresh(ctx context.Context, cred *oauth.Credential) error
}

// Options configures clients created by a Factory.
type Options struct {
	HTTPClient *http.Client

	// BaseURL and ValidateURL override the Twitch endpoints.
	BaseURL     string
	ValidateURL string

	Metrics *instrumentation.Metrics
	Logger  *slog.Logger
}

// Client calls the Helix API with one credential. Every call validates the
// token first and refreshes it once if Twitch rejects it.
type Client struct {
	httpClient  *http.Client
	clientID    string
	baseURL     string
	validateURL string

	source CredentialSource
	cred   *oauth.Credential

	// app clients renew through the client-credentials grant
	app     bool
	refresh *singleflight.Group

	metrics *instrumentation.Metrics
	logger  *slog.Logger
}

// Credential returns the credential the client authenticates with.
func (c *Client) Credential() *oauth.Credential {
	return c.cred
}

// do runs one traced and measured Helix call.
func (c *Client) do(ctx context.Context, op, method, path string, body, out any) error {
	start := time.Now()
	ctx, span := instrumentation.StartProviderSpan(ctx, op)
	defer span.End()

	err := c.call(ctx, op, method, path, body, out)

	status := instrumentation.StatusSuccess
	if err != nil {
		status = instrumentation.StatusError
		instrumentation.SetSpanError(span, err)
	} else {
		instrumentation.SetSpanSuccess(span)
	}
	c.metrics.RecordProviderOperation(ctx, op, status, time.Since(start))

	return err
}

func (c *Client) call(ctx context.Context, op, method, path string, body, out any) error {
	if err := c.ensureValid(ctx); err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("twitch: failed to encode %s request: %w", op, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("twitch: failed to build %s request: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cred.AccessToken())
	req.Header.Set("Client-Id", c.clientID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("twitch: %s request failed: %w", op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return fmt.Errorf("twitch: failed to read %s response: %w", op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		truncated := logging.Truncate(string(data), maxLoggedBody)
		c.logger.Warn("twitch API call failed",
			logging.Operation(op),
			"status_code", resp.StatusCode,
			"body", truncated)
		return &UpstreamError{Op: op, StatusCode: resp.StatusCode, Body: truncated}
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("twitch: failed to decode %s response: %w", op, err)
		}
	}
	return nil
}

// ensureValid validates the token and renews it once when Twitch rejects it.
func (c *Client) ensureValid(ctx context.Context) error {
	ok, err := c.validate(ctx)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}

	// Concurrent callers sharing the credential wait for a single renewal,
	// which must outlive the request that happened to start it.
	_, err, _ = c.refresh.Do(fmt.Sprintf("%p", c.cred), func() (any, error) {
		renewCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), renewTimeout)
		defer cancel()
		return nil, c.renew(renewCtx)
	})
	if err != nil {
		c.logger.Warn("credential renewal failed", logging.Err(err))
		return fmt.Errorf("%w: %w", ErrAuthorization, err)
	}
	return nil
}

func (c *Client) validate(ctx context.Context) (bool, error) {
	ctx, span := instrumentation.StartProviderSpan(ctx, instrumentation.OperationValidate)
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.validateURL, nil)
	if err != nil {
		return false, fmt.Errorf("twitch: failed to build validate request: %w", err)
	}
	req.Header.Set("Authorization", "OAuth "+c.cred.AccessToken())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		instrumentation.SetSpanError(span, err)
		return false, fmt.Errorf("twitch: validate request failed: %w", err)
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxLoggedBody))
	_ = resp.Body.Close()

	return resp.StatusCode == http.StatusOK, nil
}

func (c *Client) renew(ctx context.Context) error {
	if c.app && c.cred.RefreshToken() == "" {
		fresh, err := c.source.Acquire(ctx, "")
		if err != nil {
			return err
		}
		c.cred.Update(fresh.Token())
		c.logger.Info("app credential reacquired")
		return nil
	}
	return c.source.Refresh(ctx, c.cred)
}

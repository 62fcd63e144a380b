package twitch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/teemow/eventrelay/internal/instrumentation"
	"github.com/teemow/eventrelay/internal/logging"
)

const subscriptionsPath = "/eventsub/subscriptions"

// IdentifyCurrentUser returns the user that owns the client's credential.
func (c *Client) IdentifyCurrentUser(ctx context.Context) (*User, error) {
	var resp usersResponse
	if err := c.do(ctx, instrumentation.OperationIdentifyUser, http.MethodGet, "/users", nil, &resp); err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("%w: users response was empty", ErrNoResult)
	}
	return &resp.Data[0], nil
}

// ListSubscriptions returns one page of EventSub subscriptions starting at
// cursor. An empty cursor requests the first page.
func (c *Client) ListSubscriptions(ctx context.Context, filter ListFilter, cursor string) (*SubscriptionPage, error) {
	query := url.Values{}
	if filter.UserID != "" {
		query.Set("user_id", filter.UserID)
	}
	if filter.Status != "" {
		query.Set("status", filter.Status)
	}
	if filter.Type != "" {
		query.Set("type", filter.Type)
	}
	if cursor != "" {
		query.Set("after", cursor)
	}

	path := subscriptionsPath
	if len(query) > 0 {
		path += "?" + query.Encode()
	}

	var resp subscriptionsResponse
	if err := c.do(ctx, instrumentation.OperationListSubscriptions, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}

	return &SubscriptionPage{
		Subscriptions: resp.Data,
		Total:         resp.Total,
		TotalCost:     resp.TotalCost,
		MaxTotalCost:  resp.MaxTotalCost,
		Cursor:        resp.Pagination.Cursor,
	}, nil
}

// CreateSubscription creates a version 1 webhook subscription of subType for
// the broadcaster userID and returns its id.
func (c *Client) CreateSubscription(ctx context.Context, subType, userID, callbackURL, secret string) (string, error) {
	body := createSubscriptionRequest{
		Type:      subType,
		Version:   "1",
		Condition: Condition{BroadcasterUserID: userID},
		Transport: Transport{
			Method:   TransportWebhook,
			Callback: callbackURL,
			Secret:   secret,
		},
	}

	var resp subscriptionsResponse
	if err := c.do(ctx, instrumentation.OperationCreateSubscription, http.MethodPost, subscriptionsPath, body, &resp); err != nil {
		return "", err
	}
	if len(resp.Data) == 0 || resp.Data[0].ID == "" {
		return "", fmt.Errorf("%w: create %s returned no subscription", ErrNoResult, subType)
	}

	c.metrics.RecordSubscription(ctx, subType, instrumentation.SubscriptionCreated)
	return resp.Data[0].ID, nil
}

// DeleteSubscription deletes the subscription with the given id.
func (c *Client) DeleteSubscription(ctx context.Context, id string) error {
	if id == "" {
		return errors.New("twitch: subscription id is required")
	}
	path := subscriptionsPath + "?" + url.Values{"id": {id}}.Encode()
	if err := c.do(ctx, instrumentation.OperationDeleteSubscription, http.MethodDelete, path, nil, nil); err != nil {
		return err
	}
	c.metrics.RecordSubscription(ctx, "", instrumentation.SubscriptionDeleted)
	return nil
}

// ForEachSubscription calls fn for every subscription matching filter,
// following pagination to the end. Iteration stops at the first error.
func (c *Client) ForEachSubscription(ctx context.Context, filter ListFilter, fn func(Subscription) error) error {
	cursor := ""
	for {
		page, err := c.ListSubscriptions(ctx, filter, cursor)
		if err != nil {
			return err
		}
		for _, sub := range page.Subscriptions {
			if err := fn(sub); err != nil {
				return err
			}
		}
		if page.Cursor == "" || page.Cursor == cursor {
			return nil
		}
		cursor = page.Cursor
	}
}

// DeleteAllSubscriptions lists every subscription matching filter and then
// deletes them one by one. Failed deletions are logged and skipped; they are
// returned joined together with the number of subscriptions deleted.
func (c *Client) DeleteAllSubscriptions(ctx context.Context, filter ListFilter) (int, error) {
	var ids []string
	err := c.ForEachSubscription(ctx, filter, func(sub Subscription) error {
		ids = append(ids, sub.ID)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to list subscriptions: %w", err)
	}

	deleted := 0
	var errs []error
	for _, id := range ids {
		if err := c.DeleteSubscription(ctx, id); err != nil {
			c.logger.Warn("failed to delete subscription", logging.Subscription(id), logging.Err(err))
			errs = append(errs, fmt.Errorf("delete %s: %w", id, err))
			continue
		}
		deleted++
	}

	c.logger.Debug("deleted subscriptions", "count", deleted, "failed", len(errs))
	return deleted, errors.Join(errs...)
}

// Package crm wraps the third-party messaging/CRM API this core consumes.
// The reconciler only depends on the Client interface; the HTTP
// implementation here is one provider, and tests substitute fakes.
package crm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/mesikahq/clinic-sync/internal/normalize"
)

var ErrUnavailable = errors.New("crm api unavailable")

// Contact is a read-only CRM contact as exposed to the matcher.
type Contact struct {
	ID          string
	FirstName   string
	LastName    string
	Phone       string
	Email       string
	DateOfBirth *time.Time
}

// Client is the collaborator contract consumed by the reconciliation core.
// Matching degrades gracefully (not fatally) when either call fails.
type Client interface {
	TestConnection(ctx context.Context) bool
	GetContacts(ctx context.Context) ([]Contact, error)
	SendMessage(ctx context.Context, destination, body string) error
}

type httpClient struct {
	rest   *resty.Client
	logger *zap.Logger
}

// NewClient builds an HTTP CRM client against the provider's REST API.
func NewClient(baseURL, apiKey string, logger *zap.Logger) Client {
	rest := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(30 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(1 * time.Second).
		SetRetryMaxWaitTime(5 * time.Second).
		SetHeader("Accept", "application/json").
		SetAuthToken(apiKey)

	return &httpClient{rest: rest, logger: logger}
}

type contactPayload struct {
	ID          string `json:"id"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	Phone       string `json:"phone"`
	Email       string `json:"email"`
	DateOfBirth string `json:"date_of_birth"`
}

type contactsResponse struct {
	Contacts []contactPayload `json:"contacts"`
}

func (c *httpClient) TestConnection(ctx context.Context) bool {
	resp, err := c.rest.R().SetContext(ctx).Get("/v1/ping")
	if err != nil {
		c.logger.Warn("crm connection test failed", zap.Error(err))
		return false
	}
	return resp.IsSuccess()
}

func (c *httpClient) GetContacts(ctx context.Context) ([]Contact, error) {
	var payload contactsResponse
	resp, err := c.rest.R().
		SetContext(ctx).
		SetResult(&payload).
		Get("/v1/contacts")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode())
	}

	contacts := make([]Contact, 0, len(payload.Contacts))
	for _, p := range payload.Contacts {
		contacts = append(contacts, Contact{
			ID:          p.ID,
			FirstName:   p.FirstName,
			LastName:    p.LastName,
			Phone:       p.Phone,
			Email:       p.Email,
			DateOfBirth: normalize.ParseDate(p.DateOfBirth),
		})
	}
	c.logger.Info("fetched crm contacts", zap.Int("count", len(contacts)))
	return contacts, nil
}

type messageRequest struct {
	To   string `json:"to"`
	Body string `json:"body"`
}

func (c *httpClient) SendMessage(ctx context.Context, destination, body string) error {
	resp, err := c.rest.R().
		SetContext(ctx).
		SetBody(messageRequest{To: destination, Body: body}).
		Post("/v1/messages")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if resp.IsError() {
		return fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode())
	}
	return nil
}

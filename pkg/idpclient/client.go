// Package idpclient creates login credentials for new users in the identity provider.
// Calls go through the auth service, authenticated with an OAuth2 client-credentials token
// when a client id is configured.
package idpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const registerPath = "/api/auth/register/users"

// Account is the credential record created in the identity provider.
type Account struct {
	Username  string `json:"username"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	EmailID   string `json:"emailId"`
	Password  string `json:"password"`
}

// Config holds connection settings for the identity provider.
type Config struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	TokenURL     string
	Scopes       []string
	Timeout      time.Duration
}

// StatusError is returned when the identity provider answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("identity provider returned status %d: %s", e.StatusCode, e.Body)
}

// Client talks to the identity provider over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client. Without a client id requests are sent unauthenticated.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	base := &http.Client{Timeout: timeout}

	httpClient := base
	if cfg.ClientID != "" {
		cc := clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			Scopes:       cfg.Scopes,
		}
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
		httpClient = cc.Client(ctx)
		httpClient.Timeout = timeout
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: httpClient,
	}
}

// CreateAccount registers account with the identity provider. It is not safe to retry blindly:
// a timed out call may still have created the account.
func (c *Client) CreateAccount(ctx context.Context, account Account) error {
	body, err := json.Marshal(account)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+registerPath, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("create identity provider account: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

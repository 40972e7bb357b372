// Package catalog reads listings and user profiles from the catalog and identity services.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/matheusmosca/marketplace-sales/internal/domain"
)

// Config configures the client and its lookup cache.
type Config struct {
	BaseURL   string
	Timeout   time.Duration
	Retries   int
	CacheSize int
	CacheTTL  time.Duration
}

// Client is a resty based catalog client. Successful lookups are cached per key
// ("listing:<id>", "user:<id>") for CacheTTL; not-found answers are never cached.
type Client struct {
	http     *resty.Client
	listings *expirable.LRU[string, domain.Listing]
	users    *expirable.LRU[string, domain.User]
}

// NewClient cria o cliente do catálogo com cache LRU com TTL
func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("catalog client: base url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 1024
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = time.Minute
	}

	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetRetryCount(max(cfg.Retries, 0)).
		SetRetryWaitTime(100 * time.Millisecond).
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			return err != nil || (resp != nil && resp.StatusCode() >= http.StatusInternalServerError)
		})

	return &Client{
		http:     httpClient,
		listings: expirable.NewLRU[string, domain.Listing](cfg.CacheSize, nil, cfg.CacheTTL),
		users:    expirable.NewLRU[string, domain.User](cfg.CacheSize, nil, cfg.CacheTTL),
	}, nil
}

// GetListing returns the listing or an error wrapping domain.ErrNotFound.
func (c *Client) GetListing(ctx context.Context, listingID int64) (domain.Listing, error) {
	key := listingKey(listingID)
	if listing, ok := c.listings.Get(key); ok {
		return listing, nil
	}
	var listing domain.Listing
	if err := c.get(ctx, "/listings/{id}", listingID, &listing); err != nil {
		return domain.Listing{}, fmt.Errorf("get listing %d: %w", listingID, err)
	}
	c.listings.Add(key, listing)
	return listing, nil
}

// GetUser returns the public profile or an error wrapping domain.ErrNotFound.
func (c *Client) GetUser(ctx context.Context, userID int64) (domain.User, error) {
	key := userKey(userID)
	if user, ok := c.users.Get(key); ok {
		return user, nil
	}
	var user domain.User
	if err := c.get(ctx, "/users/{id}", userID, &user); err != nil {
		return domain.User{}, fmt.Errorf("get user %d: %w", userID, err)
	}
	c.users.Add(key, user)
	return user, nil
}

// InvalidateListing drops a cached listing.
func (c *Client) InvalidateListing(listingID int64) {
	c.listings.Remove(listingKey(listingID))
}

func (c *Client) get(ctx context.Context, path string, id int64, out any) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("id", strconv.FormatInt(id, 10)).
		SetResult(out).
		Get(path)
	if err != nil {
		return err
	}
	switch {
	case resp.StatusCode() == http.StatusNotFound:
		return domain.ErrNotFound
	case resp.IsError():
		return fmt.Errorf("catalog: status %d: %s", resp.StatusCode(), strings.TrimSpace(resp.String()))
	}
	return nil
}

func listingKey(id int64) string { return "listing:" + strconv.FormatInt(id, 10) }

func userKey(id int64) string { return "user:" + strconv.FormatInt(id, 10) }

package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/dualcart-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/dualcart-backend/pkg/errors"
)

const (
	defaultTimeout              = 2 * time.Second
	responseBodyReadLimit int64 = 1024
)

var (
	errCatalogURLRequired   = errors.New("catalog base url is required")
	errInventoryURLRequired = errors.New("inventory base url is required")

	// ErrProductNotFound is returned when the catalog has no record of the product.
	ErrProductNotFound = pkgerrors.New(pkgerrors.CodeNotFound, "product not found")
)

// ProductInfo is the catalog view of a product used to decorate cart lines.
type ProductInfo struct {
	ProductID uuid.UUID
	Name      string
	ImageURL  string
	Active    bool
}

// Client talks to the read-only catalog and inventory services.
type Client struct {
	httpClient   *http.Client
	catalogURL   string
	inventoryURL string
	timeout      time.Duration
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// NewClient builds the catalog client from configuration. Every call is bounded by
// cfg.Timeout regardless of the caller's deadline.
func NewClient(cfg config.CatalogConfig, opts ...Option) (*Client, error) {
	catalogURL := strings.TrimRight(strings.TrimSpace(cfg.CatalogBaseURL), "/")
	if catalogURL == "" {
		return nil, errCatalogURLRequired
	}
	inventoryURL := strings.TrimRight(strings.TrimSpace(cfg.InventoryBaseURL), "/")
	if inventoryURL == "" {
		return nil, errInventoryURLRequired
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.MaxIdleConns > 0 {
		transport.MaxIdleConns = cfg.MaxIdleConns
		transport.MaxIdleConnsPerHost = cfg.MaxIdleConns
	}

	client := &Client{
		httpClient:   &http.Client{Timeout: timeout, Transport: transport},
		catalogURL:   catalogURL,
		inventoryURL: inventoryURL,
		timeout:      timeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client, nil
}

// ProductInfo loads name, image and active flag for productID.
func (c *Client) ProductInfo(ctx context.Context, productID uuid.UUID) (*ProductInfo, error) {
	if productID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "product id is required")
	}

	var body struct {
		Name     string `json:"name"`
		ImageURL string `json:"image_url"`
		IsActive bool   `json:"is_active"`
	}
	endpoint := fmt.Sprintf("%s/products/%s", c.catalogURL, url.PathEscape(productID.String()))
	if err := c.getJSON(ctx, endpoint, "product info", &body); err != nil {
		return nil, err
	}

	return &ProductInfo{
		ProductID: productID,
		Name:      body.Name,
		ImageURL:  body.ImageURL,
		Active:    body.IsActive,
	}, nil
}

// CheckStock reports whether quantity units of the identity can be sold right now.
func (c *Client) CheckStock(ctx context.Context, productID uuid.UUID, variantID string, quantity int) (bool, error) {
	if quantity <= 0 {
		return false, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
	}

	query := url.Values{}
	query.Set("quantity", strconv.Itoa(quantity))
	if variantID != "" {
		query.Set("variant_id", variantID)
	}

	var body struct {
		Available bool `json:"available"`
	}
	endpoint := fmt.Sprintf("%s/stock/%s/availability?%s", c.inventoryURL, url.PathEscape(productID.String()), query.Encode())
	if err := c.getJSON(ctx, endpoint, "stock check", &body); err != nil {
		return false, err
	}
	return body.Available, nil
}

// CurrentPrice returns the live unit price. An invalid NullDecimal means the
// inventory service has no sellable price for the identity.
func (c *Client) CurrentPrice(ctx context.Context, productID uuid.UUID, variantID string) (decimal.NullDecimal, error) {
	endpoint := fmt.Sprintf("%s/prices/%s", c.inventoryURL, url.PathEscape(productID.String()))
	if variantID != "" {
		endpoint += "?variant_id=" + url.QueryEscape(variantID)
	}

	var body struct {
		Price decimal.NullDecimal `json:"price"`
	}
	if err := c.getJSON(ctx, endpoint, "price lookup", &body); err != nil {
		return decimal.NullDecimal{}, err
	}
	return body.Price, nil
}

func (c *Client) getJSON(ctx context.Context, endpoint, op string, out any) error {
	if c == nil {
		return pkgerrors.New(pkgerrors.CodeDependency, "catalog client not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build "+op+" request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "execute "+op+" request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return ErrProductNotFound
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
		return pkgerrors.Wrap(pkgerrors.CodeDependency, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))), op+" request failed")
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode "+op+" response")
	}
	return nil
}

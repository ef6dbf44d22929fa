// Package catalog reads product snapshots and vendor commission rates from the
// catalog service.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ProductID string `json:"product_id"`
	VendorID  string `json:"vendor_id"`
	Name      string `json:"name"`
	Price     int64  `json:"price"`
	Available bool   `json:"available"`
}

type VendorRate struct {
	VendorID       string          `json:"vendor_id"`
	CommissionRate decimal.Decimal `json:"commission_rate"`
}

type Client struct {
	baseURL string
	client  *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// Products returns the current snapshot of each requested product keyed by id.
// Unknown ids are absent from the map.
func (c *Client) Products(ctx context.Context, productIDs []string) (map[string]Product, error) {
	var resp struct {
		Products []Product `json:"products"`
	}
	if err := c.getJSON(ctx, "/products", productIDs, &resp); err != nil {
		return nil, err
	}
	out := make(map[string]Product, len(resp.Products))
	for _, p := range resp.Products {
		out[p.ProductID] = p
	}
	return out, nil
}

// CommissionRates returns each vendor's current commission rate as a fraction.
func (c *Client) CommissionRates(ctx context.Context, vendorIDs []string) (map[string]decimal.Decimal, error) {
	var resp struct {
		Vendors []VendorRate `json:"vendors"`
	}
	if err := c.getJSON(ctx, "/vendors/commission-rates", vendorIDs, &resp); err != nil {
		return nil, err
	}
	out := make(map[string]decimal.Decimal, len(resp.Vendors))
	for _, v := range resp.Vendors {
		out[v.VendorID] = v.CommissionRate
	}
	return out, nil
}

func (c *Client) getJSON(ctx context.Context, path string, ids []string, out any) error {
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return err
	}
	values := url.Values{}
	values.Set("ids", strings.Join(ids, ","))
	u.RawQuery = values.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		msg := strings.TrimSpace(string(body))
		if msg != "" {
			return fmt.Errorf("catalog http status %d: %s", resp.StatusCode, msg)
		}
		return fmt.Errorf("catalog http status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/akylbek/payment-system/bill-reconciler/internal/models"
)

const (
	sandboxSnapURL    = "https://app.sandbox.midtrans.com/snap/v1"
	productionSnapURL = "https://app.midtrans.com/snap/v1"
	sandboxAPIURL     = "https://api.sandbox.midtrans.com/v2"
	productionAPIURL  = "https://api.midtrans.com/v2"
)

var enabledPayments = []string{
	"qris", "gopay", "shopeepay", "other_qris",
	"bca_va", "bni_va", "bri_va", "mandiri_va", "permata_va", "other_va",
	"indomaret", "alfamart",
}

// ErrOrderNotFound is returned when the gateway has no transaction for an order id.
var ErrOrderNotFound = errors.New("gateway: order not found")

// Client is a minimal Midtrans Snap and Core API client.
type Client struct {
	serverKey string
	snapURL   string
	apiURL    string
	client    *http.Client
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithBaseURLs points the client at other Snap and Core API roots (tests, proxies).
func WithBaseURLs(snapURL, apiURL string) ClientOption {
	return func(c *Client) {
		c.snapURL = strings.TrimRight(snapURL, "/")
		c.apiURL = strings.TrimRight(apiURL, "/")
	}
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		if client != nil {
			c.client = client
		}
	}
}

// NewClient constructs a gateway client.
func NewClient(serverKey string, production bool, opts ...ClientOption) (*Client, error) {
	if serverKey == "" {
		return nil, errors.New("gateway: empty server key")
	}
	c := &Client{
		serverKey: serverKey,
		snapURL:   sandboxSnapURL,
		apiURL:    sandboxAPIURL,
		client:    &http.Client{Timeout: 10 * time.Second},
	}
	if production {
		c.snapURL = productionSnapURL
		c.apiURL = productionAPIURL
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type snapRequest struct {
	TransactionDetails struct {
		OrderID     string `json:"order_id"`
		GrossAmount int64  `json:"gross_amount"`
	} `json:"transaction_details"`
	CustomerDetails struct {
		FirstName string `json:"first_name"`
		Email     string `json:"email,omitempty"`
		Phone     string `json:"phone,omitempty"`
	} `json:"customer_details"`
	ItemDetails     []snapItem `json:"item_details"`
	EnabledPayments []string   `json:"enabled_payments"`
}

type snapItem struct {
	ID       string `json:"id"`
	Price    int64  `json:"price"`
	Quantity int    `json:"quantity"`
	Name     string `json:"name"`
	Category string `json:"category"`
}

type snapResponse struct {
	Token       string `json:"token"`
	RedirectURL string `json:"redirect_url"`
}

type statusResponse struct {
	StatusCode        string `json:"status_code"`
	StatusMessage     string `json:"status_message"`
	TransactionStatus string `json:"transaction_status"`
	FraudStatus       string `json:"fraud_status"`
	GrossAmount       string `json:"gross_amount"`
}

// CreateCheckout opens a Snap payment page for order.
func (c *Client) CreateCheckout(ctx context.Context, order models.CheckoutOrder) (models.CheckoutSession, error) {
	var req snapRequest
	req.TransactionDetails.OrderID = order.OrderID
	req.TransactionDetails.GrossAmount = order.Amount.Int64()
	req.CustomerDetails.FirstName = order.CustomerName
	req.CustomerDetails.Email = order.CustomerEmail
	req.CustomerDetails.Phone = order.CustomerPhone
	req.ItemDetails = []snapItem{{
		ID:       order.ItemID,
		Price:    order.Amount.Int64(),
		Quantity: 1,
		Name:     order.ItemDescription,
		Category: "Education",
	}}
	req.EnabledPayments = enabledPayments

	var resp snapResponse
	if err := c.doJSON(ctx, http.MethodPost, c.snapURL+"/transactions", req, &resp); err != nil {
		return models.CheckoutSession{}, err
	}
	if resp.Token == "" {
		return models.CheckoutSession{}, errors.New("gateway: empty snap token")
	}
	return models.CheckoutSession{Token: resp.Token, RedirectURL: resp.RedirectURL}, nil
}

// QueryStatus fetches the gateway's current state and amount for orderID.
func (c *Client) QueryStatus(ctx context.Context, orderID string) (models.GatewayStatus, error) {
	if orderID == "" {
		return models.GatewayStatus{}, errors.New("gateway: empty order id")
	}
	var resp statusResponse
	if err := c.doJSON(ctx, http.MethodGet, c.apiURL+"/"+orderID+"/status", nil, &resp); err != nil {
		return models.GatewayStatus{}, err
	}
	// Core API reports missing orders with HTTP 200 and status_code 404.
	if resp.StatusCode == "404" {
		return models.GatewayStatus{}, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	status := models.GatewayStatus{State: NormalizeState(resp.TransactionStatus, resp.FraudStatus)}
	if resp.GrossAmount != "" {
		amount, err := models.ParseMoney(resp.GrossAmount)
		if err != nil {
			return models.GatewayStatus{}, fmt.Errorf("gateway: status %s: %w", orderID, err)
		}
		status.Amount = amount
	}
	return status, nil
}

func (c *Client) doJSON(ctx context.Context, method, url string, body any, out any) error {
	var reqBody io.Reader = http.NoBody
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.serverKey, "")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrOrderNotFound
	}
	if resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("gateway: http %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

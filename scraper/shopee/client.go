package shopee

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"promo-bot/models"

	"github.com/tidwall/gjson"
)

const productOfferQuery = `query productOfferV2($page: Int!, $limit: Int!, $sortType: Int) {
  productOfferV2(page: $page, limit: $limit, sortType: $sortType) {
    nodes {
      itemId
      productName
      productLink
      offerLink
      imageUrl
      commissionRate
      priceMin
      priceMax
      sales
      priceDiscountRate
      shopName
      ratingStar
    }
  }
}`

// Sort types accepted by productOfferV2
const (
	SortRelevance       = 0
	SortLargestDiscount = 4
)

var (
	// ErrMalformedResponse is returned when the body has neither data nor errors
	ErrMalformedResponse = errors.New("malformed affiliate API response")
)

// APIError describes a failed affiliate API call
type APIError struct {
	Status    int    // HTTP status, 0 for transport or payload errors
	Message   string // body excerpt or GraphQL error messages
	Transient bool   // worth retrying (network, 5xx, 429)
}

func (e *APIError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("affiliate API status %d: %s", e.Status, e.Message)
	}
	return "affiliate API: " + e.Message
}

// IsTransient reports whether err is an APIError worth retrying
func IsTransient(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Transient
}

// Client talks to the signed affiliate GraphQL and REST endpoints
type Client struct {
	appID     string
	secret    string
	endpoint  string
	restBase  string
	userAgent string
	http      *http.Client
	now       func() time.Time
}

// NewClient creates a Client. endpoint is the GraphQL URL.
func NewClient(appID, secret, endpoint string, timeout time.Duration) *Client {
	restBase := strings.TrimSuffix(endpoint, "/graphql") + "/api/v2"
	return &Client{
		appID:     appID,
		secret:    secret,
		endpoint:  endpoint,
		restBase:  restBase,
		userAgent: "Mozilla/5.0",
		http:      &http.Client{Timeout: timeout},
		now:       time.Now,
	}
}

type graphQLRequest struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables"`
}

// ProductOffers fetches one page of productOfferV2 nodes
func (c *Client) ProductOffers(ctx context.Context, page, limit, sortType int) ([]models.Offer, error) {
	body, err := json.Marshal(graphQLRequest{
		Query: productOfferQuery,
		Variables: map[string]interface{}{
			"page":     page,
			"limit":    limit,
			"sortType": sortType,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	data, err := c.postGraphQL(ctx, body)
	if err != nil {
		return nil, err
	}

	nodes := data.Get("productOfferV2.nodes")
	offers := make([]models.Offer, 0, len(nodes.Array()))
	for _, n := range nodes.Array() {
		offers = append(offers, parseOffer(n))
	}
	return offers, nil
}

// postGraphQL signs and sends body, returning the "data" member
func (c *Client) postGraphQL(ctx context.Context, body []byte) (gjson.Result, error) {
	ts := c.now().Unix()
	sig := Sign(c.appID, c.secret, ts, body)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return gjson.Result{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", AuthorizationHeader(c.appID, ts, sig))
	req.Header.Set("User-Agent", c.userAgent)

	raw, err := c.do(req)
	if err != nil {
		return gjson.Result{}, err
	}

	if !gjson.ValidBytes(raw) {
		return gjson.Result{}, fmt.Errorf("%w: invalid JSON", ErrMalformedResponse)
	}
	if errs := gjson.GetBytes(raw, "errors"); errs.Exists() {
		var msgs []string
		for _, e := range errs.Array() {
			if m := e.Get("message").String(); m != "" {
				msgs = append(msgs, m)
			}
		}
		if len(msgs) == 0 {
			msgs = append(msgs, errs.Raw)
		}
		return gjson.Result{}, &APIError{Message: strings.Join(msgs, "; ")}
	}
	data := gjson.GetBytes(raw, "data")
	if !data.Exists() || data.Type == gjson.Null {
		return gjson.Result{}, ErrMalformedResponse
	}
	return data, nil
}

// do executes req and classifies transport and status failures
func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		if req.Context().Err() != nil {
			return nil, req.Context().Err()
		}
		return nil, &APIError{Message: err.Error(), Transient: true}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, &APIError{Status: resp.StatusCode, Message: "read body: " + err.Error(), Transient: true}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{
			Status:    resp.StatusCode,
			Message:   excerpt(raw),
			Transient: resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests,
		}
	}
	return raw, nil
}

// MarketplaceCategory is an entry of the open-platform category tree
type MarketplaceCategory struct {
	ID          int64  `json:"category_id"`
	ParentID    int64  `json:"parent_category_id"`
	Name        string `json:"original_category_name"`
	DisplayName string `json:"display_category_name"`
	HasChildren bool   `json:"has_children"`
}

// Categories lists the marketplace category tree through the REST API
func (c *Client) Categories(ctx context.Context, language string) ([]MarketplaceCategory, error) {
	const path = "/product/get_category"
	ts := c.now().Unix()

	q := url.Values{}
	q.Set("language", language)
	q.Set("partner_id", c.appID)
	q.Set("timestamp", fmt.Sprint(ts))
	q.Set("sign", SignREST(c.appID, path, ts, c.secret))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.restBase+path+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	raw, err := c.do(req)
	if err != nil {
		return nil, err
	}
	if e := gjson.GetBytes(raw, "error").String(); e != "" {
		return nil, &APIError{Message: e + ": " + gjson.GetBytes(raw, "message").String()}
	}
	list := gjson.GetBytes(raw, "response.category_list")
	if !list.Exists() {
		return nil, ErrMalformedResponse
	}
	var out []MarketplaceCategory
	if err := json.Unmarshal([]byte(list.Raw), &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return out, nil
}

func parseOffer(n gjson.Result) models.Offer {
	return models.Offer{
		ItemID:            n.Get("itemId").String(),
		ProductName:       n.Get("productName").String(),
		ProductLink:       n.Get("productLink").String(),
		OfferLink:         n.Get("offerLink").String(),
		ImageURL:          n.Get("imageUrl").String(),
		PriceMin:          n.Get("priceMin").String(),
		PriceMax:          n.Get("priceMax").String(),
		RatingStar:        n.Get("ratingStar").String(),
		CommissionRate:    n.Get("commissionRate").String(),
		Sales:             int(n.Get("sales").Int()),
		PriceDiscountRate: int(n.Get("priceDiscountRate").Int()),
		ShopName:          n.Get("shopName").String(),
	}
}

func excerpt(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}

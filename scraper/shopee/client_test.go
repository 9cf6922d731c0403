package shopee

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/tidwall/gjson"
)

func TestSign(t *testing.T) {
	got := Sign("123", "secret", 1700000000, []byte(`{"a":1}`))
	want := "7f29087478082f8beb5f78a3fbbd4ff6d71d2d60ca49e36624619033654d1527"
	if got != want {
		t.Errorf("Sign = %s, want %s", got, want)
	}
}

func TestSignREST(t *testing.T) {
	got := SignREST("123", "/product/get_category", 1700000000, "secret")
	want := "07be4dcda1d5ffa195f43f309759fdbb4090b0bf774f513a85e020b11a6c7352"
	if got != want {
		t.Errorf("SignREST = %s, want %s", got, want)
	}
}

func TestAuthorizationHeader(t *testing.T) {
	got := AuthorizationHeader("123", 1700000000, "abc")
	want := "SHA256 Credential=123, Timestamp=1700000000, Signature=abc"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func newTestClient(url string) *Client {
	c := NewClient("app", "secret", url, 5*time.Second)
	c.now = func() time.Time { return time.Unix(1700000000, 0) }
	return c
}

func TestProductOffersSignsExactBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		want := AuthorizationHeader("app", 1700000000, Sign("app", "secret", 1700000000, body))
		if got := r.Header.Get("Authorization"); got != want {
			t.Errorf("Authorization = %q, want %q", got, want)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q", ct)
		}
		if p := gjson.GetBytes(body, "variables.page").Int(); p != 2 {
			t.Errorf("page variable = %d, want 2", p)
		}
		if s := gjson.GetBytes(body, "variables.sortType").Int(); s != SortLargestDiscount {
			t.Errorf("sortType = %d", s)
		}
		fmt.Fprint(w, `{"data":{"productOfferV2":{"nodes":[
			{"itemId":22334455667,"productName":"Coleira","priceMin":"12.90","priceMax":"25.80",
			 "sales":1500,"priceDiscountRate":50,"ratingStar":"4.8","commissionRate":"0.07",
			 "offerLink":"https://s.shopee.com.br/x","imageUrl":"https://img/x.jpg","shopName":"Loja"}]}}}`)
	}))
	defer srv.Close()

	offers, err := newTestClient(srv.URL).ProductOffers(context.Background(), 2, 50, SortLargestDiscount)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(offers) != 1 {
		t.Fatalf("expected 1 offer, got %d", len(offers))
	}
	o := offers[0]
	if o.ItemID != "22334455667" || o.PriceMin != "12.90" || o.Sales != 1500 || o.PriceDiscountRate != 50 {
		t.Errorf("unexpected offer: %+v", o)
	}
}

func TestProductOffersErrorShapes(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		transient bool
		malformed bool
	}{
		{"graphql errors", 200, `{"errors":[{"message":"invalid signature"}]}`, false, false},
		{"missing data", 200, `{"something":"else"}`, false, true},
		{"server error", 502, `bad gateway`, true, false},
		{"rate limited", 429, `slow down`, true, false},
		{"forbidden", 403, `nope`, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			}))
			defer srv.Close()

			_, err := newTestClient(srv.URL).ProductOffers(context.Background(), 1, 50, 4)
			if err == nil {
				t.Fatal("expected error")
			}
			if IsTransient(err) != tt.transient {
				t.Errorf("IsTransient = %v, want %v (%v)", IsTransient(err), tt.transient, err)
			}
			if errors.Is(err, ErrMalformedResponse) != tt.malformed {
				t.Errorf("malformed = %v, want %v", errors.Is(err, ErrMalformedResponse), tt.malformed)
			}
		})
	}
}

func TestCategories(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/api/v2/product/get_category") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("sign") != SignREST("app", "/product/get_category", 1700000000, "secret") {
			t.Errorf("bad sign %q", q.Get("sign"))
		}
		fmt.Fprint(w, `{"error":"","response":{"category_list":[
			{"category_id":1,"parent_category_id":0,"original_category_name":"Pets","display_category_name":"Pets","has_children":true}]}}`)
	}))
	defer srv.Close()

	cats, err := newTestClient(srv.URL+"/graphql").Categories(context.Background(), "pt-br")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cats) != 1 || cats[0].DisplayName != "Pets" || !cats[0].HasChildren {
		t.Errorf("unexpected categories: %+v", cats)
	}
}

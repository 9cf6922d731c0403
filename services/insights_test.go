package services

import (
	"bytes"
	"strings"
	"testing"

	"promo-bot/models"
	"promo-bot/utils"
)

func TestInsightsGenerate(t *testing.T) {
	products := []models.Product{
		{ID: "1", Discount: 40, Commission: "7%", Shop: "Loja A", Category: "Pet"},
		{ID: "2", Discount: 75, Commission: "12%", Shop: "Loja B", Category: "Pet"},
		{ID: "3", Discount: 50, Commission: "3%", Shop: "Loja B", Category: "Beleza"},
	}
	in := NewInsightService(utils.Discard()).Generate(products)
	if in.Total != 3 || in.MaxDiscount != 75 || in.MaxCommission != "12%" {
		t.Errorf("unexpected insights %+v", in)
	}
	if in.TopShop != "Loja B" || in.TopShopCount != 2 {
		t.Errorf("top shop = %s (%d)", in.TopShop, in.TopShopCount)
	}
	if in.ByCategory["Pet"] != 2 || in.ByCategory["Beleza"] != 1 {
		t.Errorf("by category = %v", in.ByCategory)
	}
}

func TestPrintCollectReport(t *testing.T) {
	var buf bytes.Buffer
	PrintCollectReport(&buf, &models.CollectReport{
		RunID: "abc", Inserted: 3, Partial: true, Error: "status 503",
		Insights: &models.CollectionInsights{Total: 3, MaxDiscount: 75, ByCategory: map[string]int{"Pet": 2}},
	})
	out := buf.String()
	for _, want := range []string{"COLLECTION SUMMARY", "abc", "Partial Run", "75%", "Pet:"} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q:\n%s", want, out)
		}
	}
}

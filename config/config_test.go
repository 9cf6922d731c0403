package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("DATA_DIR", "")
	t.Setenv("MIN_SALES", "")
	t.Setenv("KAFKA_BROKERS", "")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MinDiscount != 30 || cfg.MinSales != 1 || cfg.PageSize != 50 || cfg.MaxPages != 20 || cfg.SortType != 4 {
		t.Errorf("unexpected collection defaults: %+v", cfg)
	}
	if cfg.DatabaseURL != "data/promo.db" || cfg.PendingDir != "data/pending" {
		t.Errorf("unexpected paths: %s, %s", cfg.DatabaseURL, cfg.PendingDir)
	}
	if cfg.SendInterval != 30*time.Second || cfg.ShortLocate != 20*time.Second || cfg.LongLocate != time.Minute {
		t.Errorf("unexpected delivery timings: %v %v %v", cfg.SendInterval, cfg.ShortLocate, cfg.LongLocate)
	}
	if cfg.KafkaBrokers != nil {
		t.Errorf("brokers = %v, want none", cfg.KafkaBrokers)
	}
	if cfg.CategoryTable[0].Name != "Pet" {
		t.Errorf("first category = %s", cfg.CategoryTable[0].Name)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("MIN_DISCOUNT", "45")
	t.Setenv("HEADLESS", "true")
	t.Setenv("KAFKA_BROKERS", " k1:9092 , ,k2:9092")
	t.Setenv("SEND_INTERVAL_MS", "1500")
	t.Setenv("MAX_PAGES", "not-a-number")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MinDiscount != 45 || !cfg.Headless || cfg.SendInterval != 1500*time.Millisecond {
		t.Errorf("env not applied: %+v", cfg)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "k2:9092" {
		t.Errorf("brokers = %v", cfg.KafkaBrokers)
	}
	if cfg.MaxPages != 20 {
		t.Errorf("invalid int must fall back to default, got %d", cfg.MaxPages)
	}
}

func TestLoadYAMLOverlayKeepsTableOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "promo.yaml")
	yaml := `strategy: sales
categories: [Pet, Beleza]
quantity: 12
group_name: Ofertas
category_table:
  - name: Beleza
    keywords: [batom]
  - name: Pet
    keywords: [coleira]
`
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_FILE", path)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Strategy != "sales" || cfg.RenderQuantity != 12 || cfg.GroupName != "Ofertas" {
		t.Errorf("overlay not applied: %+v", cfg)
	}
	if len(cfg.Categories) != 2 {
		t.Errorf("categories = %v", cfg.Categories)
	}
	if len(cfg.CategoryTable) != 2 || cfg.CategoryTable[0].Name != "Beleza" || cfg.CategoryTable[1].Name != "Pet" {
		t.Errorf("table order lost: %+v", cfg.CategoryTable)
	}
}

func TestLoadBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	os.WriteFile(path, []byte("category_table: [oops"), 0644)
	t.Setenv("CONFIG_FILE", path)
	if _, err := Load(); err == nil {
		t.Error("expected parse error")
	}
}

func TestValidateAPI(t *testing.T) {
	cfg := &Config{AppID: "1"}
	if cfg.ValidateAPI() == nil {
		t.Error("missing secret must fail")
	}
	cfg.AppSecret = "s"
	if err := cfg.ValidateAPI(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

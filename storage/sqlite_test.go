package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"promo-bot/models"
	"promo-bot/utils"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "promo.db"), utils.Discard())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func product(id string, sales int, category string) models.Product {
	return models.Product{
		ID:         id,
		Name:       "Produto " + id,
		Link:       "https://s.shopee.com.br/" + id,
		Price:      "R$10.00",
		Discount:   40,
		Sales:      "10+ vendas",
		SalesCount: sales,
		Rating:     "4.5",
		Category:   category,
	}
}

func ids(products []models.Product) []string {
	out := make([]string, len(products))
	for i, p := range products {
		out[i] = p.ID
	}
	return out
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestInsertIfAbsentIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ok, err := s.InsertIfAbsent(ctx, product("1", 5, "Pet"))
	if err != nil || !ok {
		t.Fatalf("first insert: ok=%v err=%v", ok, err)
	}
	changed := product("1", 999, "Beleza")
	changed.Name = "Outro nome"
	ok, err = s.InsertIfAbsent(ctx, changed)
	if err != nil || ok {
		t.Fatalf("duplicate insert: ok=%v err=%v", ok, err)
	}

	got, _ := s.SelectPending(ctx, models.SelectQuery{})
	if len(got) != 1 || got[0].Name != "Produto 1" || got[0].Category != "Pet" {
		t.Errorf("existing row was modified: %+v", got)
	}
}

func TestInsertBatchReturnsNewIDs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	s.InsertIfAbsent(ctx, product("a", 1, ""))

	inserted, err := s.InsertBatch(ctx, []models.Product{product("a", 1, ""), product("b", 1, ""), product("c", 1, "")})
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if !equal(inserted, []string{"b", "c"}) {
		t.Errorf("inserted = %v", inserted)
	}
	c, _ := s.Counts(ctx)
	if c.Total != 3 || c.Pending != 3 {
		t.Errorf("counts = %+v", c)
	}
}

func TestInsertBatchRollsBackOnError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.db.Exec(`CREATE TRIGGER reject_bad BEFORE INSERT ON products
		WHEN NEW.id = 'bad' BEGIN SELECT RAISE(ABORT, 'rejected'); END`)
	if err != nil {
		t.Fatalf("create trigger: %v", err)
	}

	_, err = s.InsertBatch(ctx, []models.Product{product("x", 1, ""), product("bad", 1, ""), product("y", 1, "")})
	if err == nil {
		t.Fatal("expected error")
	}
	c, _ := s.Counts(ctx)
	if c.Total != 0 {
		t.Errorf("batch was partially committed: %+v", c)
	}
}

func TestSelectPendingOrdering(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for _, p := range []models.Product{product("p10", 10, ""), product("p500", 500, ""), product("p50", 50, ""), product("q500", 500, "")} {
		if _, err := s.InsertIfAbsent(ctx, p); err != nil {
			t.Fatal(err)
		}
	}

	bySales, err := s.SelectPending(ctx, models.SelectQuery{OrderBy: models.OrderSalesDesc})
	if err != nil {
		t.Fatal(err)
	}
	if want := []string{"p500", "q500", "p50", "p10"}; !equal(ids(bySales), want) {
		t.Errorf("sales order = %v, want %v", ids(bySales), want)
	}

	byDefault, _ := s.SelectPending(ctx, models.SelectQuery{Limit: 3})
	if want := []string{"p10", "p500", "p50"}; !equal(ids(byDefault), want) {
		t.Errorf("default order = %v, want %v", ids(byDefault), want)
	}
}

func TestSelectPendingCategoryFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	s.InsertBatch(ctx, []models.Product{product("1", 1, "Pet"), product("2", 1, "Beleza"), product("3", 1, ""), product("4", 1, "Esporte")})

	got, _ := s.SelectPending(ctx, models.SelectQuery{Categories: []string{"Pet", "Other"}})
	if want := []string{"1", "3"}; !equal(ids(got), want) {
		t.Errorf("filtered = %v, want %v", ids(got), want)
	}
	if got[1].Category != models.DefaultCategory {
		t.Errorf("empty category stored as %q", got[1].Category)
	}
}

func TestMarkDelivered(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return at }
	s.InsertBatch(ctx, []models.Product{product("1", 1, ""), product("2", 1, ""), product("3", 1, "")})

	n, err := s.MarkDelivered(ctx, []string{"1", "2", "missing"})
	if err != nil || n != 2 {
		t.Fatalf("mark: n=%d err=%v", n, err)
	}
	// already delivered rows do not change again
	n, _ = s.MarkDelivered(ctx, []string{"1"})
	if n != 0 {
		t.Errorf("re-mark changed %d rows", n)
	}

	pending, _ := s.SelectPending(ctx, models.SelectQuery{})
	if !equal(ids(pending), []string{"3"}) {
		t.Errorf("pending = %v", ids(pending))
	}
	c, _ := s.Counts(ctx)
	if c != (models.Counts{Total: 3, Delivered: 2, Pending: 1}) {
		t.Errorf("counts = %+v", c)
	}
}

func TestCountsByCategory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	s.InsertBatch(ctx, []models.Product{product("1", 1, "Pet"), product("2", 1, "Pet"), product("3", 1, "Beleza")})
	s.MarkDelivered(ctx, []string{"2"})

	got, err := s.CountsByCategory(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got["Pet"] != (models.Counts{Total: 2, Delivered: 1, Pending: 1}) {
		t.Errorf("Pet = %+v", got["Pet"])
	}
	if got["Beleza"].Pending != 1 {
		t.Errorf("Beleza = %+v", got["Beleza"])
	}
}

func TestMigrationAddsColumnsToOldTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "old.db")
	old, err := NewSQLiteStore(path, utils.Discard())
	if err != nil {
		t.Fatal(err)
	}
	// recreate the table with only the original columns
	if _, err := old.db.Exec(`DROP TABLE products`); err != nil {
		t.Fatal(err)
	}
	if _, err := old.db.Exec(`CREATE TABLE products (id TEXT PRIMARY KEY, name TEXT NOT NULL, link TEXT,
		image_url TEXT, price TEXT, discount INTEGER, sales TEXT, created_at DATETIME DEFAULT CURRENT_TIMESTAMP)`); err != nil {
		t.Fatal(err)
	}
	if _, err := old.db.Exec(`INSERT INTO products (id, name, link, image_url, price, discount, sales)
		VALUES ('legacy', 'Antigo', 'l', '', 'R$1.00', 50, '1+ vendas')`); err != nil {
		t.Fatal(err)
	}
	old.Close()

	s, err := NewSQLiteStore(path, utils.Discard())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()

	got, err := s.SelectPending(context.Background(), models.SelectQuery{})
	if err != nil {
		t.Fatalf("select after migration: %v", err)
	}
	if len(got) != 1 || got[0].ID != "legacy" || got[0].Category != models.DefaultCategory || got[0].Delivered {
		t.Errorf("legacy row after migration: %+v", got)
	}
}

func TestOpenPicksBackend(t *testing.T) {
	s, err := Open("sqlite://"+filepath.Join(t.TempDir(), "x.db"), utils.Discard())
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if s.Backend() != "SQLite" {
		t.Errorf("backend = %s", s.Backend())
	}
}

package responder

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"promo-bot/config"
	"promo-bot/delivery"
	"promo-bot/models"
	"promo-bot/scraper/shopee"
	"promo-bot/services"
	"promo-bot/utils"
)

type sent struct {
	caption string
	image   string
	existed bool
}

type fakeChat struct {
	inbox   []Incoming
	openErr error
	replies []sent
	reject  bool
	started bool
	closed  bool
}

func (f *fakeChat) Start(context.Context) error { f.started = true; return nil }
func (f *fakeChat) Close() error                { f.closed = true; return nil }
func (f *fakeChat) LocateConversation(context.Context, string, time.Duration) error {
	return nil
}

func (f *fakeChat) OpenUnread(context.Context) (Incoming, bool, error) {
	if f.openErr != nil {
		return Incoming{}, false, f.openErr
	}
	if len(f.inbox) == 0 {
		return Incoming{}, false, nil
	}
	in := f.inbox[0]
	f.inbox = f.inbox[1:]
	return in, true, nil
}

func (f *fakeChat) outcome() (delivery.Outcome, error) {
	if f.reject {
		return delivery.Rejected, nil
	}
	return delivery.Confirmed, nil
}

func (f *fakeChat) SendMedia(_ context.Context, caption, imagePath string) (delivery.Outcome, error) {
	_, err := os.Stat(imagePath)
	f.replies = append(f.replies, sent{caption: caption, image: imagePath, existed: err == nil})
	return f.outcome()
}

func (f *fakeChat) SendText(_ context.Context, caption string) (delivery.Outcome, error) {
	f.replies = append(f.replies, sent{caption: caption})
	return f.outcome()
}

type fakeSearcher struct {
	offers []models.Offer
	err    error
	terms  []string
}

func (f *fakeSearcher) Search(_ context.Context, term string, limit int, _ shopee.CollectOptions) ([]models.Offer, error) {
	f.terms = append(f.terms, term)
	if len(f.offers) > limit {
		return f.offers[:limit], f.err
	}
	return f.offers, f.err
}

type fakeImages struct {
	err error
}

func (f fakeImages) Download(_ context.Context, _, dest string) error {
	if f.err != nil {
		return f.err
	}
	return os.WriteFile(dest, []byte("jpg"), 0644)
}

func fone() models.Offer {
	return models.Offer{
		ItemID:            "77",
		ProductName:       "Fone Bluetooth TWS",
		OfferLink:         "https://s.shopee.com.br/fone",
		ImageURL:          "https://img/fone.jpg",
		PriceMin:          "49.90",
		PriceMax:          "99.80",
		RatingStar:        "4.7",
		Sales:             1200,
		PriceDiscountRate: 50,
	}
}

func newResponder(t *testing.T, chat *fakeChat, searcher *fakeSearcher, images ImageFetcher) *Responder {
	t.Helper()
	formatter := services.NewFormatter(services.NewCategorizer(config.DefaultCategoryTable()), utils.Discard())
	return New(chat, searcher, images, formatter, Options{TempDir: t.TempDir(), MaxPerPoll: 5}, utils.Discard())
}

func TestReplySendsOfferWithImage(t *testing.T) {
	chat := &fakeChat{}
	searcher := &fakeSearcher{offers: []models.Offer{fone()}}
	r := newResponder(t, chat, searcher, fakeImages{})

	if err := r.Reply(context.Background(), Incoming{Chat: "Ana", Text: "  fone bluetooth "}); err != nil {
		t.Fatal(err)
	}
	if len(searcher.terms) != 1 || searcher.terms[0] != "fone bluetooth" {
		t.Errorf("search terms = %v", searcher.terms)
	}
	if len(chat.replies) != 1 {
		t.Fatalf("replies = %+v", chat.replies)
	}
	got := chat.replies[0]
	if !got.existed || !strings.Contains(got.caption, "🛍️ Fone Bluetooth TWS") || !strings.Contains(got.caption, "https://s.shopee.com.br/fone") {
		t.Errorf("reply = %+v", got)
	}
	if _, err := os.Stat(got.image); !os.IsNotExist(err) {
		t.Errorf("temporary image not removed: %v", err)
	}
}

func TestReplyWithoutImageFallsBackToText(t *testing.T) {
	chat := &fakeChat{}
	r := newResponder(t, chat, &fakeSearcher{offers: []models.Offer{fone()}}, fakeImages{err: errors.New("status 404")})

	if err := r.Reply(context.Background(), Incoming{Text: "fone"}); err != nil {
		t.Fatal(err)
	}
	if len(chat.replies) != 1 || chat.replies[0].image != "" || !strings.Contains(chat.replies[0].caption, "Fone Bluetooth") {
		t.Errorf("replies = %+v", chat.replies)
	}
}

func TestReplyNoMatch(t *testing.T) {
	unparseable := fone()
	unparseable.PriceMin = ""
	tests := []struct {
		name     string
		searcher *fakeSearcher
	}{
		{"no offers", &fakeSearcher{}},
		{"search failed", &fakeSearcher{err: &shopee.APIError{Status: 502}}},
		{"nothing formats", &fakeSearcher{offers: []models.Offer{unparseable}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chat := &fakeChat{}
			if err := newResponder(t, chat, tt.searcher, fakeImages{}).Reply(context.Background(), Incoming{Text: "xyz"}); err != nil {
				t.Fatal(err)
			}
			if len(chat.replies) != 1 || chat.replies[0].caption != NoMatchText {
				t.Errorf("replies = %+v", chat.replies)
			}
		})
	}
}

func TestReplyIgnoresEmptyMessages(t *testing.T) {
	chat := &fakeChat{}
	searcher := &fakeSearcher{}
	if err := newResponder(t, chat, searcher, fakeImages{}).Reply(context.Background(), Incoming{Text: "  "}); err != nil {
		t.Fatal(err)
	}
	if len(chat.replies) != 0 || len(searcher.terms) != 0 {
		t.Errorf("replies %v, searches %v", chat.replies, searcher.terms)
	}
}

func TestReplyNotAcknowledged(t *testing.T) {
	chat := &fakeChat{reject: true}
	if err := newResponder(t, chat, &fakeSearcher{}, nil).Reply(context.Background(), Incoming{Text: "x"}); err == nil {
		t.Error("expected error for an unacknowledged reply")
	}
}

func TestPollAnswersUnreadChats(t *testing.T) {
	chat := &fakeChat{inbox: []Incoming{{Chat: "a", Text: "fone"}, {Chat: "b", Text: "coleira"}, {Chat: "c", Text: ""}}}
	r := newResponder(t, chat, &fakeSearcher{offers: []models.Offer{fone()}}, nil)

	n, err := r.Poll(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 || len(chat.replies) != 2 {
		t.Errorf("handled %d, replies %d", n, len(chat.replies))
	}
}

func TestPollStopsAtMaxPerPoll(t *testing.T) {
	var inbox []Incoming
	for i := 0; i < 8; i++ {
		inbox = append(inbox, Incoming{Text: "fone"})
	}
	chat := &fakeChat{inbox: inbox}
	r := newResponder(t, chat, &fakeSearcher{}, nil)

	n, _ := r.Poll(context.Background())
	if n != 5 || len(chat.inbox) != 3 {
		t.Errorf("handled %d, left %d", n, len(chat.inbox))
	}
}

func TestPollReturnsOpenError(t *testing.T) {
	chat := &fakeChat{openErr: errors.New("chat list not loaded")}
	if _, err := newResponder(t, chat, &fakeSearcher{}, nil).Poll(context.Background()); err == nil {
		t.Error("expected error")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	chat := &fakeChat{inbox: []Incoming{{Text: "fone"}, {Text: "coleira"}}}
	formatter := services.NewFormatter(services.NewCategorizer(config.DefaultCategoryTable()), utils.Discard())
	tmp := filepath.Join(t.TempDir(), "temp")
	r := New(chat, &fakeSearcher{}, nil, formatter, Options{TempDir: tmp, PollInterval: time.Hour}, utils.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := r.Run(ctx); err != nil {
		t.Fatal(err)
	}
	// the chat already opened is answered, then the run ends
	if len(chat.replies) != 1 || len(chat.inbox) != 1 {
		t.Errorf("replies %d, left %d", len(chat.replies), len(chat.inbox))
	}
	if !chat.started || !chat.closed {
		t.Error("transport not started and closed")
	}
	if _, err := os.Stat(tmp); err != nil {
		t.Errorf("temp dir not created: %v", err)
	}
}

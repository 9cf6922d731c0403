package delivery

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"promo-bot/models"
	"promo-bot/queue"
	"promo-bot/storage"
	"promo-bot/utils"
)

type fakeTransport struct {
	locateFailures int
	locateCalls    []time.Duration
	reject         map[string]bool
	sendErr        map[string]error
	media          []string
	texts          []string
	started        bool
	closed         bool
}

func (f *fakeTransport) Start(context.Context) error { f.started = true; return nil }

func (f *fakeTransport) LocateConversation(_ context.Context, _ string, timeout time.Duration) error {
	f.locateCalls = append(f.locateCalls, timeout)
	if len(f.locateCalls) <= f.locateFailures {
		return errors.New("timeout")
	}
	return nil
}

func (f *fakeTransport) outcome(caption string) (Outcome, error) {
	id := strings.TrimPrefix(caption, "msg ")
	if err := f.sendErr[id]; err != nil {
		return Rejected, err
	}
	if f.reject[id] {
		return Rejected, nil
	}
	return Confirmed, nil
}

func (f *fakeTransport) SendMedia(_ context.Context, caption, imagePath string) (Outcome, error) {
	f.media = append(f.media, caption)
	return f.outcome(caption)
}

func (f *fakeTransport) SendText(_ context.Context, caption string) (Outcome, error) {
	f.texts = append(f.texts, caption)
	return f.outcome(caption)
}

func (f *fakeTransport) Close() error { f.closed = true; return nil }

type fixture struct {
	store *storage.SQLiteStore
	queue *queue.FileQueue
}

// newFixture stores n products "1".."n" and queues one unit for each;
// units with odd index get an image.
func newFixture(t *testing.T, n int) *fixture {
	t.Helper()
	dir := t.TempDir()
	st, err := storage.NewSQLiteStore(filepath.Join(dir, "promo.db"), utils.Discard())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })
	q, err := queue.New(filepath.Join(dir, "pending"), filepath.Join(dir, "sent"))
	if err != nil {
		t.Fatal(err)
	}
	for i := 1; i <= n; i++ {
		id := fmt.Sprint(i)
		if _, err := st.InsertIfAbsent(context.Background(), models.Product{ID: id, Name: "P" + id}); err != nil {
			t.Fatal(err)
		}
		u, err := q.Enqueue(i, id, "msg "+id)
		if err != nil {
			t.Fatal(err)
		}
		if i%2 == 1 {
			os.WriteFile(q.ImagePath(u), []byte("jpg"), 0644)
		}
	}
	return &fixture{store: st, queue: q}
}

func (f *fixture) loop(tr MessageTransport, opts Options) *Loop {
	if opts.Order == "" {
		opts.Order = "listing"
	}
	return NewLoop(tr, f.queue, f.store, nil, opts, utils.Discard())
}

func TestRunMarksOnlyConfirmedUnits(t *testing.T) {
	f := newFixture(t, 5)
	tr := &fakeTransport{reject: map[string]bool{"3": true}}

	report, err := f.loop(tr, Options{GroupName: "g"}).Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.Confirmed != 4 || report.Marked != 4 {
		t.Errorf("report = %+v", report)
	}
	if report.Attempted != 5 || report.Rejected != 1 || report.StoppedBy != StopExhausted {
		t.Errorf("each unit must be attempted once, got %+v", report)
	}

	c, _ := f.store.Counts(context.Background())
	if c.Delivered != 4 || c.Pending != 1 {
		t.Errorf("counts = %+v", c)
	}
	pending, _ := f.queue.ListPending()
	if len(pending) != 1 || pending[0].ItemID != "3" || !pending[0].HasImage() {
		t.Errorf("pending units = %+v", pending)
	}
	sent, _ := os.ReadDir(f.queue.SentDir)
	if len(sent) != 6 { // 4 texts + images for units 1 and 5
		t.Errorf("expected 6 archived files, got %d", len(sent))
	}
	if !tr.started || !tr.closed {
		t.Error("transport not started and closed")
	}
	if len(tr.media) != 3 || len(tr.texts) != 2 {
		t.Errorf("media sends %v, text sends %v", tr.media, tr.texts)
	}
}

func TestRunDoesNotResendRejectedUnits(t *testing.T) {
	f := newFixture(t, 2)
	tr := &fakeTransport{reject: map[string]bool{"1": true, "2": true}}

	report, err := f.loop(tr, Options{}).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if report.Attempted != 2 || report.Rejected != 2 || report.Confirmed != 0 || report.StoppedBy != StopExhausted {
		t.Errorf("report = %+v", report)
	}
	// a timed-out send may already be in the chat, so it is not submitted again
	if len(tr.media) != 1 || len(tr.texts) != 1 {
		t.Errorf("media sends %v, text sends %v", tr.media, tr.texts)
	}
	if pending, _ := f.queue.ListPending(); len(pending) != 2 {
		t.Errorf("rejected units must stay pending, got %d", len(pending))
	}

	// the next run picks them up again
	tr.reject = nil
	report, err = f.loop(tr, Options{}).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if report.Confirmed != 2 {
		t.Errorf("second run report = %+v", report)
	}
}

func TestRunTransportErrorsAreRejections(t *testing.T) {
	f := newFixture(t, 2)
	tr := &fakeTransport{sendErr: map[string]error{"2": errors.New("element not found")}}

	report, err := f.loop(tr, Options{}).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if report.Confirmed != 1 || report.Rejected != 1 {
		t.Errorf("report = %+v", report)
	}
}

func TestRunHonoursCap(t *testing.T) {
	f := newFixture(t, 5)
	tr := &fakeTransport{}

	report, err := f.loop(tr, Options{MaxSends: 2}).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if report.Confirmed != 2 || report.StoppedBy != StopCap {
		t.Errorf("report = %+v", report)
	}
	pending, _ := f.queue.ListPending()
	if len(pending) != 3 {
		t.Errorf("expected 3 units left, got %d", len(pending))
	}
}

func TestRunNothingPendingDoesNotStartTransport(t *testing.T) {
	f := newFixture(t, 0)
	tr := &fakeTransport{}

	report, err := f.loop(tr, Options{}).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if report.StoppedBy != StopNothing || tr.started {
		t.Errorf("report = %+v, started = %v", report, tr.started)
	}
}

func TestRunLocateFallsBackToLongTimeout(t *testing.T) {
	f := newFixture(t, 1)
	tr := &fakeTransport{locateFailures: 1}

	report, err := f.loop(tr, Options{ShortLocate: time.Second, LongLocate: time.Minute}).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if report.Confirmed != 1 {
		t.Errorf("report = %+v", report)
	}
	if len(tr.locateCalls) != 2 || tr.locateCalls[0] != time.Second || tr.locateCalls[1] != time.Minute {
		t.Errorf("locate calls = %v", tr.locateCalls)
	}
}

func TestRunConversationNotFound(t *testing.T) {
	f := newFixture(t, 1)
	tr := &fakeTransport{locateFailures: 2}

	_, err := f.loop(tr, Options{GroupName: "g"}).Run(context.Background())
	if !errors.Is(err, ErrConversationNotFound) {
		t.Fatalf("expected ErrConversationNotFound, got %v", err)
	}
	if !tr.closed {
		t.Error("transport not closed")
	}
	if c, _ := f.store.Counts(context.Background()); c.Delivered != 0 {
		t.Errorf("nothing should be delivered: %+v", c)
	}
}

func TestRunRequireImageSkipsTextOnlyUnits(t *testing.T) {
	f := newFixture(t, 4)
	tr := &fakeTransport{}

	report, err := f.loop(tr, Options{RequireImage: true}).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if report.Pending != 2 || report.Confirmed != 2 || len(tr.texts) != 0 {
		t.Errorf("report = %+v, texts = %v", report, tr.texts)
	}
}

// failingMarker fails the store update, simulating a crash between send and record
type failingMarker struct{}

func (failingMarker) MarkDelivered(context.Context, []string) (int, error) {
	return 0, errors.New("database is locked")
}

func TestRunResumesAfterStoreFailure(t *testing.T) {
	f := newFixture(t, 1)

	crashed := NewLoop(&fakeTransport{}, f.queue, failingMarker{}, nil, Options{Order: "listing"}, utils.Discard())
	if _, err := crashed.Run(context.Background()); err == nil {
		t.Fatal("expected store failure to be returned")
	}
	pending, _ := f.queue.ListPending()
	if len(pending) != 1 {
		t.Fatalf("unit must stay pending after a failed record, got %d", len(pending))
	}

	tr := &fakeTransport{}
	report, err := f.loop(tr, Options{}).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	// at-least-once: the unit is sent again
	if report.Confirmed != 1 || len(tr.media) != 1 {
		t.Errorf("report = %+v", report)
	}
	if pending, _ := f.queue.ListPending(); len(pending) != 0 {
		t.Errorf("unit still pending after resume")
	}
	if c, _ := f.store.Counts(context.Background()); c.Delivered != 1 || c.Pending != 0 {
		t.Errorf("counts after resume = %+v", c)
	}
	again, err := f.store.SelectPending(context.Background(), models.SelectQuery{})
	if err != nil {
		t.Fatal(err)
	}
	if len(again) != 0 {
		t.Errorf("delivered item selected again: %+v", again)
	}
}

func TestStateString(t *testing.T) {
	if GroupLocating.String() != "group-locating" || State(99).String() != "unknown" {
		t.Error("unexpected state names")
	}
	if Confirmed.String() != "confirmed" || Rejected.String() != "rejected" {
		t.Error("unexpected outcome names")
	}
}

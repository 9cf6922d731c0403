package delivery

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"promo-bot/events"
	"promo-bot/models"
	"promo-bot/queue"
	"promo-bot/utils"
)

// Reasons a run stopped, as reported in DeliveryReport.StoppedBy
const (
	StopNothing   = "nothing"
	StopExhausted = "exhausted"
	StopCap       = "cap"
	StopBreaker   = "breaker"
	StopCancelled = "cancelled"
)

// Marker records confirmed deliveries
type Marker interface {
	MarkDelivered(ctx context.Context, ids []string) (int, error)
}

// Units is the pending side of the work queue
type Units interface {
	ListPending() ([]queue.Unit, error)
	Archive(u queue.Unit, at time.Time) error
}

// Options tunes a run
type Options struct {
	GroupName    string
	ShortLocate  time.Duration
	LongLocate   time.Duration
	SendInterval time.Duration
	MaxSends     int    // confirmed sends per run, 0 = unlimited
	Order        string // "random" (default) or "listing"
	RequireImage bool   // skip units without an image instead of sending text
	RunID        string
}

// Loop drives the transport over the pending units
type Loop struct {
	transport MessageTransport
	units     Units
	store     Marker
	publisher events.Publisher
	opts      Options
	logger    *utils.Logger

	state   State
	now     func() time.Time
	shuffle func([]queue.Unit)
}

// NewLoop creates a delivery Loop
func NewLoop(transport MessageTransport, units Units, store Marker, publisher events.Publisher, opts Options, logger *utils.Logger) *Loop {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	return &Loop{
		transport: transport,
		units:     units,
		store:     store,
		publisher: publisher,
		opts:      opts,
		logger:    logger.With("delivery"),
		now:       time.Now,
		shuffle: func(u []queue.Unit) {
			rng.Shuffle(len(u), func(i, j int) { u[i], u[j] = u[j], u[i] })
		},
	}
}

// State returns the current state
func (l *Loop) State() State { return l.state }

func (l *Loop) setState(s State) {
	if s != l.state {
		l.logger.Debug("%s -> %s", l.state, s)
	}
	l.state = s
}

// Run attempts each pending unit once, stopping early when the cap is
// reached, the rejection breaker trips, or ctx is cancelled. A rejected unit
// keeps its files in the pending dir and waits for the next run.
// Errors are returned only for terminal conditions: transport start failure,
// ErrConversationNotFound, or a store failure while recording a delivery.
func (l *Loop) Run(ctx context.Context) (*models.DeliveryReport, error) {
	report := &models.DeliveryReport{RunID: l.opts.RunID}
	l.state = Idle
	defer l.setState(Done)

	units, err := l.units.ListPending()
	if err != nil {
		return report, fmt.Errorf("list pending: %w", err)
	}
	if l.opts.RequireImage {
		units = withImages(units, l.logger)
	}
	report.Pending = len(units)
	if len(units) == 0 {
		l.logger.Info("Nothing to deliver")
		report.StoppedBy = StopNothing
		return report, nil
	}
	if l.opts.Order != "listing" {
		l.shuffle(units)
	}

	l.setState(BrowserStarting)
	if err := l.transport.Start(ctx); err != nil {
		return report, fmt.Errorf("start transport: %w", err)
	}
	defer func() {
		if err := l.transport.Close(); err != nil {
			l.logger.Warn("Closing transport: %v", err)
		}
	}()

	l.setState(GroupLocating)
	if err := l.locate(ctx); err != nil {
		return report, err
	}
	l.setState(Ready)

	if l.opts.MaxSends > 0 {
		l.logger.Info("Delivering up to %d of %d units to %q", l.opts.MaxSends, len(units), l.opts.GroupName)
	} else {
		l.logger.Info("Delivering %d units to %q", len(units), l.opts.GroupName)
	}

	pacer := utils.NewRateLimiterDuration(l.opts.SendInterval)
	breaker := 2 * len(units)

	for _, u := range units {
		if l.opts.MaxSends > 0 && report.Confirmed >= l.opts.MaxSends {
			l.logger.Info("Send cap of %d reached", l.opts.MaxSends)
			report.StoppedBy = StopCap
			return report, nil
		}
		if err := pacer.Wait(ctx); err != nil {
			report.StoppedBy = StopCancelled
			return report, nil
		}

		l.setState(Sending)
		report.Attempted++
		outcome := l.send(ctx, u)
		if outcome != Confirmed && ctx.Err() != nil {
			report.StoppedBy = StopCancelled
			return report, nil
		}

		if outcome != Confirmed {
			l.setState(StateRejected)
			report.Rejected++
			l.logger.Warn("Unit %s rejected (%d rejections so far)", u.Stem, report.Rejected)
			if report.Rejected > breaker {
				l.logger.Error("Too many rejections (%d for %d units), giving up", report.Rejected, len(units))
				report.StoppedBy = StopBreaker
				return report, nil
			}
			l.setState(Ready)
			continue
		}

		l.setState(StateConfirmed)
		report.Confirmed++
		// a message already in the chat is recorded even when the run is being cancelled
		if err := l.confirm(context.WithoutCancel(ctx), u, report); err != nil {
			return report, err
		}
		l.setState(Ready)
	}

	report.StoppedBy = StopExhausted
	l.logger.Info("Run finished: %d confirmed, %d rejected", report.Confirmed, report.Rejected)
	return report, nil
}

// locate tries the short timeout, then the long one (first run needs a manual login)
func (l *Loop) locate(ctx context.Context) error {
	err := l.transport.LocateConversation(ctx, l.opts.GroupName, l.opts.ShortLocate)
	if err == nil {
		return nil
	}
	l.logger.Warn("Conversation %q not found within %v, waiting up to %v (login may be required)",
		l.opts.GroupName, l.opts.ShortLocate, l.opts.LongLocate)
	if err := l.transport.LocateConversation(ctx, l.opts.GroupName, l.opts.LongLocate); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %q: %v", ErrConversationNotFound, l.opts.GroupName, err)
	}
	return nil
}

// send never fails the run: UI errors are rejections
func (l *Loop) send(ctx context.Context, u queue.Unit) Outcome {
	text, err := u.Text()
	if err != nil {
		l.logger.Error("Unit %s unreadable: %v", u.Stem, err)
		return Rejected
	}

	var outcome Outcome
	if u.HasImage() {
		l.logger.Info("Sending %s with image", u.ItemID)
		outcome, err = l.transport.SendMedia(ctx, text, u.ImagePath)
	} else {
		l.logger.Info("Sending %s as text", u.ItemID)
		outcome, err = l.transport.SendText(ctx, text)
	}
	if err != nil {
		l.logger.Warn("Send %s failed: %v", u.ItemID, err)
		return Rejected
	}
	return outcome
}

// confirm marks the unit delivered, then publishes and archives it.
// The store update must happen before the files leave the pending dir.
func (l *Loop) confirm(ctx context.Context, u queue.Unit, report *models.DeliveryReport) error {
	n, err := l.store.MarkDelivered(ctx, []string{u.ItemID})
	if err != nil {
		return fmt.Errorf("mark %s delivered: %w", u.ItemID, err)
	}
	report.Marked += n
	if n == 0 {
		l.logger.Warn("Item %s was not pending in the store", u.ItemID)
	}

	at := l.now()
	if err := l.publisher.Publish(ctx, events.Event{Type: events.TypeDelivered, ItemID: u.ItemID, RunID: l.opts.RunID, At: at.UTC()}); err != nil {
		l.logger.Warn("Publishing delivery of %s: %v", u.ItemID, err)
	}

	if err := l.units.Archive(u, at); err != nil {
		// delivered and recorded; a stale file only risks a duplicate send
		l.logger.Error("Archiving %s: %v", u.Stem, err)
		return nil
	}
	l.logger.Info("Delivered %s", u.ItemID)
	return nil
}

func withImages(units []queue.Unit, logger *utils.Logger) []queue.Unit {
	out := units[:0:0]
	for _, u := range units {
		if u.HasImage() {
			out = append(out, u)
		} else {
			logger.Debug("Skipping %s: no image", u.Stem)
		}
	}
	return out
}

// Package responder answers direct chats: the last message of an unread chat
// is used as a search term and the best matching offer is sent back.
package responder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"promo-bot/delivery"
	"promo-bot/models"
	"promo-bot/render"
	"promo-bot/scraper/shopee"
	"promo-bot/services"
	"promo-bot/utils"
)

// NoMatchText is sent when a search finds nothing usable
const NoMatchText = "❌ Não encontrei nenhum produto com este termo."

// searchLimit is how many matches are fetched; the first one that formats wins
const searchLimit = 3

// Incoming is the last message of a chat opened by OpenUnread
type Incoming struct {
	Chat string
	Text string
}

// Chat is a transport that can also open chats with unread messages.
// Replies go to the chat most recently opened.
type Chat interface {
	delivery.MessageTransport
	OpenUnread(ctx context.Context) (Incoming, bool, error)
}

// Searcher finds offers by name
type Searcher interface {
	Search(ctx context.Context, term string, limit int, opts shopee.CollectOptions) ([]models.Offer, error)
}

// ImageFetcher downloads an image to a local file
type ImageFetcher interface {
	Download(ctx context.Context, url, dest string) error
}

// Options tunes the responder
type Options struct {
	PollInterval time.Duration // pause between inbox checks
	ErrorBackoff time.Duration // pause after a failed check
	ReplyDelay   time.Duration // pause between replies
	MaxPerPoll   int           // replies per check, bounds a badge that never clears
	TempDir      string        // downloaded images, removed after sending
	Search       shopee.CollectOptions
}

// Responder polls the inbox and replies with offers
type Responder struct {
	chat      Chat
	searcher  Searcher
	images    ImageFetcher
	formatter *services.Formatter
	opts      Options
	logger    *utils.Logger
	now       func() time.Time
}

// New creates a Responder
func New(chat Chat, searcher Searcher, images ImageFetcher, formatter *services.Formatter, opts Options, logger *utils.Logger) *Responder {
	if opts.MaxPerPoll <= 0 {
		opts.MaxPerPoll = 10
	}
	return &Responder{
		chat:      chat,
		searcher:  searcher,
		images:    images,
		formatter: formatter,
		opts:      opts,
		logger:    logger.With("responder"),
		now:       time.Now,
	}
}

// Run starts the transport and answers unread chats until ctx is cancelled
func (r *Responder) Run(ctx context.Context) error {
	if err := os.MkdirAll(r.opts.TempDir, 0755); err != nil {
		return fmt.Errorf("create temp dir: %w", err)
	}
	if err := r.chat.Start(ctx); err != nil {
		return fmt.Errorf("start transport: %w", err)
	}
	defer func() {
		if err := r.chat.Close(); err != nil {
			r.logger.Warn("Closing transport: %v", err)
		}
	}()

	r.logger.Info("Waiting for messages (checking every %v)", r.opts.PollInterval)
	for {
		n, err := r.Poll(ctx)
		if ctx.Err() != nil {
			return nil
		}
		wait := r.opts.PollInterval
		if err != nil {
			r.logger.Error("Inbox check failed: %v", err)
			wait = r.opts.ErrorBackoff
		} else if n > 0 {
			r.logger.Info("Answered %d chat(s)", n)
		}
		if err := utils.Sleep(ctx, wait); err != nil {
			return nil
		}
	}
}

// Poll answers chats with unread messages until none are left or MaxPerPoll
// chats were handled. It returns how many chats were handled.
func (r *Responder) Poll(ctx context.Context) (int, error) {
	handled := 0
	for handled < r.opts.MaxPerPoll {
		in, ok, err := r.chat.OpenUnread(ctx)
		if err != nil {
			return handled, err
		}
		if !ok {
			return handled, nil
		}
		handled++
		if err := r.Reply(ctx, in); err != nil {
			r.logger.Warn("Reply to %q failed: %v", in.Chat, err)
		}
		if err := utils.Sleep(ctx, r.opts.ReplyDelay); err != nil {
			return handled, err
		}
	}
	return handled, nil
}

// Reply answers in with the best offer for its text, or NoMatchText.
// Empty messages (media, stickers) get no reply.
func (r *Responder) Reply(ctx context.Context, in Incoming) error {
	term := strings.TrimSpace(in.Text)
	if term == "" {
		return nil
	}
	r.logger.Info("Message from %q: %q", in.Chat, term)

	product, found := r.lookup(ctx, term)
	if !found {
		return acknowledged(r.chat.SendText(ctx, NoMatchText))
	}

	caption := render.Message(product)
	image := r.fetchImage(ctx, product)
	if image == "" {
		return acknowledged(r.chat.SendText(ctx, caption))
	}
	defer os.Remove(image)
	return acknowledged(r.chat.SendMedia(ctx, caption, image))
}

func (r *Responder) lookup(ctx context.Context, term string) (models.Product, bool) {
	offers, err := r.searcher.Search(ctx, term, searchLimit, r.opts.Search)
	if err != nil {
		r.logger.Warn("Search %q: %v", term, err)
	}
	for _, o := range offers {
		p, err := r.formatter.Format(o)
		if err != nil {
			r.logger.Debug("Skipping %s: %v", o.ItemID, err)
			continue
		}
		return p, true
	}
	return models.Product{}, false
}

// fetchImage returns the downloaded image path, or "" to reply with text only
func (r *Responder) fetchImage(ctx context.Context, p models.Product) string {
	if p.ImageURL == "" || r.images == nil {
		return ""
	}
	dest := filepath.Join(r.opts.TempDir, fmt.Sprintf("reply_%s_%d.jpg", p.ID, r.now().Unix()))
	if err := r.images.Download(ctx, p.ImageURL, dest); err != nil {
		r.logger.Warn("Image for %s not downloaded, replying with text: %v", p.ID, err)
		return ""
	}
	return dest
}

func acknowledged(outcome delivery.Outcome, err error) error {
	if err != nil {
		return err
	}
	if outcome != delivery.Confirmed {
		return errors.New("reply not acknowledged")
	}
	return nil
}

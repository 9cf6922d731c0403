// Package whatsapp drives WhatsApp Web through a Chrome profile with chromedp.
package whatsapp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"promo-bot/delivery"
	"promo-bot/responder"
	"promo-bot/utils"

	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
)

// Selectors of the WhatsApp Web UI (pt-BR)
const (
	selApp        = `#app`
	selCompose    = `footer div[contenteditable="true"]`
	selAttach     = `span[data-icon="plus-rounded"], span[data-icon="plus"], span[data-icon="attach-menu-plus"]`
	selImageInput = `input[type="file"][accept*="image"]`
	selCaption    = `div[aria-label="Adicione uma legenda"], div[aria-label="Add a caption"]`
	selMediaSend  = `span[data-icon="wds-ic-send-filled"], span[data-icon="send"]`
	selCloseMedia = `span[data-icon="x-alt"], span[data-icon="x"]`
	selUnread     = `span[data-testid="icon-unread-count"], span[aria-label*="não lida"], span[aria-label*="unread message"]`
	selChatRow    = `div[role="listitem"], div[role="row"], div[data-testid="cell-frame-container"]`
	selIncoming   = `div.message-in span.selectable-text, div.message-in span[dir="ltr"]`
)

// minPreviewSize is the rendered width and height, in px, the image preview
// must reach before the media is considered attached.
const minPreviewSize = 100

// Config for the transport
type Config struct {
	URL            string
	ProfileDir     string
	Headless       bool
	ConfirmTimeout time.Duration
	LoadTimeout    time.Duration
}

// Transport implements delivery.MessageTransport and responder.Chat
type Transport struct {
	cfg    Config
	logger *utils.Logger

	ctx    context.Context // browser tab, lives from Start to Close
	cancel context.CancelFunc
}

var _ responder.Chat = (*Transport)(nil)

// New creates a Transport; the browser starts on Start
func New(cfg Config, logger *utils.Logger) *Transport {
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = 20 * time.Second
	}
	if cfg.LoadTimeout <= 0 {
		cfg.LoadTimeout = 60 * time.Second
	}
	return &Transport{cfg: cfg, logger: logger.With("whatsapp")}
}

// allocatorOptions keeps the session in a persistent profile so the QR login survives restarts
func (t *Transport) allocatorOptions() ([]chromedp.ExecAllocatorOption, error) {
	profile, err := filepath.Abs(t.cfg.ProfileDir)
	if err != nil {
		return nil, fmt.Errorf("profile dir: %w", err)
	}
	if err := os.MkdirAll(profile, 0700); err != nil {
		return nil, fmt.Errorf("create profile dir: %w", err)
	}
	return append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", t.cfg.Headless),
		chromedp.UserDataDir(profile),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-infobars", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("log-level", "3"), // suppress Chrome logs
		chromedp.UserAgent("Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"),
		chromedp.WindowSize(1280, 900),
	), nil
}

// Start launches Chrome and opens WhatsApp Web
func (t *Transport) Start(ctx context.Context) error {
	opts, err := t.allocatorOptions()
	if err != nil {
		return err
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), opts...)
	tabCtx, cancelTab := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(string, ...interface{}) {}))
	t.ctx = tabCtx
	t.cancel = func() {
		cancelTab()
		cancelAlloc()
	}

	t.logger.Info("Opening %s", t.cfg.URL)
	err = t.run(ctx, t.cfg.LoadTimeout,
		chromedp.Navigate(t.cfg.URL),
		chromedp.WaitReady(selApp, chromedp.ByQuery),
	)
	if err != nil {
		t.Close()
		return fmt.Errorf("load WhatsApp Web: %w", err)
	}
	return nil
}

// LocateConversation opens the chat whose title is name
func (t *Transport) LocateConversation(ctx context.Context, name string, timeout time.Duration) error {
	if t.ctx == nil {
		return errors.New("transport not started")
	}
	sel := fmt.Sprintf(`span[title=%s]`, cssString(name))
	t.logger.Info("Looking for conversation %q (up to %v)", name, timeout)
	err := t.run(ctx, timeout,
		chromedp.WaitVisible(sel, chromedp.ByQuery),
		chromedp.Click(sel, chromedp.ByQuery),
		chromedp.WaitVisible(selCompose, chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("locate %q: %w", name, err)
	}
	t.logger.Info("Conversation %q open", name)
	return nil
}

// SendMedia attaches imagePath, pastes caption and sends
func (t *Transport) SendMedia(ctx context.Context, caption, imagePath string) (delivery.Outcome, error) {
	abs, err := filepath.Abs(imagePath)
	if err != nil {
		return delivery.Rejected, err
	}
	if _, err := os.Stat(abs); err != nil {
		return delivery.Rejected, fmt.Errorf("image: %w", err)
	}

	err = t.run(ctx, t.cfg.ConfirmTimeout,
		chromedp.Click(selAttach, chromedp.ByQuery),
		chromedp.SetUploadFiles(selImageInput, []string{abs}, chromedp.ByQuery),
		chromedp.WaitVisible(selCaption, chromedp.ByQuery),
	)
	if err != nil {
		t.clearDraft(ctx)
		return delivery.Rejected, fmt.Errorf("attach image: %w", err)
	}

	if ok := t.waitFor(ctx, previewReadyJS(), t.cfg.ConfirmTimeout); !ok {
		t.logger.Warn("Image preview never reached %dpx", minPreviewSize)
		t.clearDraft(ctx)
		return delivery.Rejected, nil
	}

	if err := t.paste(ctx, selCaption, caption); err != nil {
		t.clearDraft(ctx)
		return delivery.Rejected, err
	}

	if err := t.run(ctx, t.cfg.ConfirmTimeout, chromedp.Click(selMediaSend, chromedp.ByQuery)); err != nil {
		t.clearDraft(ctx)
		return delivery.Rejected, fmt.Errorf("send: %w", err)
	}

	// the media editor closes once WhatsApp accepts the message
	if ok := t.waitFor(ctx, goneJS(selCaption), t.cfg.ConfirmTimeout); !ok {
		t.logger.Warn("No acknowledgement within %v", t.cfg.ConfirmTimeout)
		t.clearDraft(ctx)
		return delivery.Rejected, nil
	}
	return delivery.Confirmed, nil
}

// SendText pastes caption into the compose box and sends it
func (t *Transport) SendText(ctx context.Context, caption string) (delivery.Outcome, error) {
	if err := t.paste(ctx, selCompose, caption); err != nil {
		t.clearDraft(ctx)
		return delivery.Rejected, err
	}
	if err := t.run(ctx, t.cfg.ConfirmTimeout, chromedp.SendKeys(selCompose, kb.Enter, chromedp.ByQuery)); err != nil {
		t.clearDraft(ctx)
		return delivery.Rejected, fmt.Errorf("send: %w", err)
	}
	if ok := t.waitFor(ctx, emptyJS(selCompose), t.cfg.ConfirmTimeout); !ok {
		t.logger.Warn("Compose box not cleared within %v", t.cfg.ConfirmTimeout)
		t.clearDraft(ctx)
		return delivery.Rejected, nil
	}
	return delivery.Confirmed, nil
}

// OpenUnread opens the first chat showing an unread badge and returns its
// last incoming message. ok is false when no chat has unread messages.
func (t *Transport) OpenUnread(ctx context.Context) (responder.Incoming, bool, error) {
	var chat string
	if err := t.run(ctx, t.cfg.ConfirmTimeout, chromedp.Evaluate(openUnreadJS(), &chat)); err != nil {
		return responder.Incoming{}, false, fmt.Errorf("scan unread chats: %w", err)
	}
	if chat == "" {
		return responder.Incoming{}, false, nil
	}
	if err := t.run(ctx, t.cfg.ConfirmTimeout, chromedp.WaitVisible(selCompose, chromedp.ByQuery)); err != nil {
		return responder.Incoming{}, false, fmt.Errorf("open chat %q: %w", chat, err)
	}

	// messages render shortly after the chat opens; media-only chats stay empty
	in := responder.Incoming{Chat: chat}
	deadline := time.Now().Add(5 * time.Second)
	for in.Text == "" && time.Now().Before(deadline) {
		if err := t.run(ctx, 5*time.Second, chromedp.Evaluate(lastIncomingJS(), &in.Text)); err != nil {
			return in, true, fmt.Errorf("read last message: %w", err)
		}
		if in.Text == "" {
			if err := utils.Sleep(ctx, 500*time.Millisecond); err != nil {
				return in, true, err
			}
		}
	}
	return in, true, nil
}

// Close shuts the browser down
func (t *Transport) Close() error {
	if t.cancel == nil {
		return nil
	}
	err := chromedp.Cancel(t.ctx)
	t.cancel()
	t.cancel = nil
	t.ctx = nil
	return err
}

// run executes actions on the tab, bounded by timeout and by the caller's ctx
func (t *Transport) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	if t.ctx == nil {
		return errors.New("transport not started")
	}
	runCtx, cancel := context.WithTimeout(t.ctx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(runCtx, actions...)
}

// waitFor polls a boolean JS check until it holds or timeout passes
func (t *Transport) waitFor(ctx context.Context, check string, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		var ok bool
		if err := t.run(ctx, 5*time.Second, chromedp.Evaluate(check, &ok)); err == nil && ok {
			return true
		}
		if time.Now().After(deadline) || ctx.Err() != nil {
			return false
		}
		if err := utils.Sleep(ctx, 500*time.Millisecond); err != nil {
			return false
		}
	}
}

// paste fires a synthetic paste so line breaks survive (typing Enter would send)
func (t *Transport) paste(ctx context.Context, sel, text string) error {
	var ok bool
	err := t.run(ctx, t.cfg.ConfirmTimeout,
		chromedp.WaitVisible(sel, chromedp.ByQuery),
		chromedp.Click(sel, chromedp.ByQuery),
		chromedp.Evaluate(pasteJS(sel, text), &ok),
	)
	if err != nil {
		return fmt.Errorf("paste: %w", err)
	}
	if !ok {
		return errors.New("paste: input not found")
	}
	return nil
}

// clearDraft closes the media editor and empties the compose box so the next unit starts clean
func (t *Transport) clearDraft(ctx context.Context) {
	var ignored bool
	err := t.run(ctx, 5*time.Second,
		chromedp.Evaluate(clearJS(), &ignored),
	)
	if err != nil {
		t.logger.Debug("Clearing draft: %v", err)
	}
}

// cssString quotes s for use inside a CSS attribute selector
func cssString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func previewReadyJS() string {
	return fmt.Sprintf(`
		(function() {
			var imgs = document.querySelectorAll('img[src^="blob:"]');
			for (var i = 0; i < imgs.length; i++) {
				var r = imgs[i].getBoundingClientRect();
				if (r.width >= %d && r.height >= %d) return true;
			}
			return false;
		})()
	`, minPreviewSize, minPreviewSize)
}

func goneJS(sel string) string {
	return fmt.Sprintf(`document.querySelector(%s) === null`, jsString(sel))
}

func emptyJS(sel string) string {
	return fmt.Sprintf(`
		(function() {
			var el = document.querySelector(%s);
			return !!el && el.innerText.trim() === '';
		})()
	`, jsString(sel))
}

func pasteJS(sel, text string) string {
	return fmt.Sprintf(`
		(function() {
			var el = document.querySelector(%s);
			if (!el) return false;
			el.focus();
			var dt = new DataTransfer();
			dt.setData('text/plain', %s);
			el.dispatchEvent(new ClipboardEvent('paste', {clipboardData: dt, bubbles: true, cancelable: true}));
			return true;
		})()
	`, jsString(sel), jsString(text))
}

func clearJS() string {
	return fmt.Sprintf(`
		(function() {
			var close = document.querySelector(%s);
			if (close) close.click();
			var box = document.querySelector(%s);
			if (box) {
				box.focus();
				document.execCommand('selectAll', false, null);
				document.execCommand('delete', false, null);
			}
			return true;
		})()
	`, jsString(selCloseMedia), jsString(selCompose))
}

// openUnreadJS clicks the first chat row with an unread badge and returns its title
func openUnreadJS() string {
	return fmt.Sprintf(`
		(function() {
			var badge = document.querySelector(%s);
			if (!badge) return "";
			var row = badge.closest(%s);
			if (!row) return "";
			var title = row.querySelector('span[title]');
			var name = title ? title.getAttribute('title') : '';
			row.dispatchEvent(new MouseEvent('mousedown', {bubbles: true}));
			row.click();
			return name || '(sem nome)';
		})()
	`, jsString(selUnread), jsString(selChatRow))
}

func lastIncomingJS() string {
	return fmt.Sprintf(`
		(function() {
			var els = document.querySelectorAll(%s);
			if (!els.length) return "";
			return els[els.length - 1].innerText.trim();
		})()
	`, jsString(selIncoming))
}

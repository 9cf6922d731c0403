package whatsapp

import (
	"context"
	"strings"
	"testing"

	"promo-bot/delivery"
	"promo-bot/utils"
)

func TestCSSString(t *testing.T) {
	got := cssString(`LoJai - "Promoções" do dia`)
	want := `"LoJai - \"Promoções\" do dia"`
	if got != want {
		t.Errorf("cssString = %s, want %s", got, want)
	}
}

func TestPasteJSEscapesMessage(t *testing.T) {
	js := pasteJS(selCompose, "linha 1\nlinha 2 \"aspas\" 'x'")
	if !strings.Contains(js, `"linha 1\nlinha 2 \"aspas\" 'x'"`) {
		t.Errorf("message not embedded as a JS string literal:\n%s", js)
	}
}

func TestOperationsBeforeStartAreRejected(t *testing.T) {
	tr := New(Config{}, utils.Discard())
	if err := tr.LocateConversation(context.Background(), "g", 0); err == nil {
		t.Error("expected error before Start")
	}
	out, err := tr.SendText(context.Background(), "hi")
	if err == nil || out != delivery.Rejected {
		t.Errorf("SendText before Start = %v, %v", out, err)
	}
	if err := tr.Close(); err != nil {
		t.Errorf("Close before Start: %v", err)
	}
}

func TestOpenUnreadBeforeStart(t *testing.T) {
	tr := New(Config{}, utils.Discard())
	if _, ok, err := tr.OpenUnread(context.Background()); err == nil || ok {
		t.Errorf("OpenUnread before Start = %v, %v", ok, err)
	}
}

func TestInboxScriptsEmbedSelectors(t *testing.T) {
	if js := openUnreadJS(); !strings.Contains(js, jsString(selUnread)) || !strings.Contains(js, jsString(selChatRow)) {
		t.Errorf("unread script missing selectors:\n%s", js)
	}
	if js := lastIncomingJS(); !strings.Contains(js, jsString(selIncoming)) {
		t.Errorf("last message script missing selector:\n%s", js)
	}
}

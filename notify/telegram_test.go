package notify

import "testing"

func TestNewWithoutTokenReturnsNilNotifier(t *testing.T) {
	n, err := New("", "")
	if err != nil {
		t.Fatalf("expected no error when token is unset, got %v", err)
	}
	if n != nil {
		t.Fatalf("expected a nil *Telegram when TELEGRAM_BOT_TOKEN is unset")
	}
}

func TestNewRejectsInvalidChatID(t *testing.T) {
	_, err := New("fake-token", "not-a-number")
	if err == nil {
		t.Fatalf("expected an error for a non-numeric chat id")
	}
}

func TestNilTelegramAlertIsNoop(t *testing.T) {
	var tg *Telegram
	// Must not panic even though the receiver is nil and api is unset.
	tg.Alert("test_kind", "test detail")
}

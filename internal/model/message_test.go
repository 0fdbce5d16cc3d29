package model

import "testing"

func TestStatusNeverRegresses(t *testing.T) {
	forward := []MessageStatus{StatusQueued, StatusSent, StatusDelivered, StatusRead}

	for i, from := range forward {
		for j, to := range forward {
			got := CanTransition(from, to)
			want := j > i
			if got != want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestAnyStateToFailed(t *testing.T) {
	for _, from := range []MessageStatus{StatusQueued, StatusSent, StatusDelivered, StatusRead} {
		if !CanTransition(from, StatusFailed) {
			t.Errorf("CanTransition(%s, failed) = false, want true", from)
		}
	}
}

func TestFailedIsTerminal(t *testing.T) {
	for _, to := range []MessageStatus{StatusQueued, StatusSent, StatusDelivered, StatusRead, StatusFailed} {
		if CanTransition(StatusFailed, to) {
			t.Errorf("CanTransition(failed, %s) = true, want false", to)
		}
	}
}

func TestEventPayloadMatchesKind(t *testing.T) {
	tests := []struct {
		name string
		evt  CanonicalEvent
		want bool
	}{
		{"message with payload", CanonicalEvent{Kind: MessageReceived, Message: &CanonicalMessage{ID: "m1"}}, true},
		{"message without payload", CanonicalEvent{Kind: MessageReceived}, false},
		{"status change with message payload", CanonicalEvent{Kind: MessageStatusChanged, Message: &CanonicalMessage{}}, false},
		{"status change", CanonicalEvent{Kind: MessageStatusChanged, StatusChange: &StatusChangePayload{MessageID: "m1", Status: StatusRead}}, true},
		{"connection status", CanonicalEvent{Kind: ConnectionStatusChanged, Connection: &ConnectionStatusPayload{Status: ConnConnected}}, true},
		{"qr", CanonicalEvent{Kind: QrCodeUpdated, QR: &QRPayload{Code: "abc"}}, true},
		{"error", CanonicalEvent{Kind: EventError, Err: &ErrorPayload{Code: "x"}}, true},
		{"unknown kind", CanonicalEvent{Kind: "bogus"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.evt.Valid(); got != tt.want {
				t.Errorf("Valid() = %v, want %v", got, tt.want)
			}
		})
	}
}

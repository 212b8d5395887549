package model

import (
	"testing"
	"time"
)

func TestNormalizeAddress(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"0xABCdef0123456789ABCdef0123456789ABCdef01", "0xabcdef0123456789abcdef0123456789abcdef01"},
		{"  0xAbC  ", "0xabc"},
		{"", ""},
		{"   ", ""},
	}
	for _, tt := range tests {
		if got := NormalizeAddress(tt.in); got != tt.want {
			t.Fatalf("NormalizeAddress(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSocialLinksMergeFillsGapsOnly(t *testing.T) {
	base := SocialLinks{Website: "https://example.org", Twitter: "@base"}
	other := SocialLinks{Website: "https://other.org", Telegram: "t.me/other"}

	merged := base.Merge(other)

	if merged.Website != "https://example.org" {
		t.Fatalf("existing website overwritten: %q", merged.Website)
	}
	if merged.Twitter != "@base" {
		t.Fatalf("existing twitter overwritten: %q", merged.Twitter)
	}
	if merged.Telegram != "t.me/other" {
		t.Fatalf("telegram gap not filled: %q", merged.Telegram)
	}
}

func TestSocialLinksEmpty(t *testing.T) {
	if !(SocialLinks{}).Empty() {
		t.Fatalf("zero value should be empty")
	}
	if (SocialLinks{Discord: "x"}).Empty() {
		t.Fatalf("non-zero value should not be empty")
	}
}

func TestEventRecordTagsPayload(t *testing.T) {
	event := BatchCompleted{Source: "poll", BatchID: "poll-1"}
	record := NewEventRecord(event, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	if record.EventType != EventBatchCompleted {
		t.Fatalf("event type = %q, want %q", record.EventType, EventBatchCompleted)
	}
	if _, ok := record.Payload.(BatchCompleted); !ok {
		t.Fatalf("payload type = %T", record.Payload)
	}
}

package policy

import "testing"

func TestShouldHandle(t *testing.T) {
	p := NewChannelPolicy("bot-1", []string{"42", " 77 "})

	cases := []struct {
		name      string
		authorID  string
		channelID string
		want      bool
	}{
		{"allowed channel", "user-9", "42", true},
		{"trimmed allow-list entry", "user-9", "77", true},
		{"channel outside allow-list", "user-9", "99", false},
		{"own message on allowed channel", "bot-1", "42", false},
		{"empty channel", "user-9", "", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := p.ShouldHandle(tc.authorID, tc.channelID); got != tc.want {
				t.Fatalf("ShouldHandle(%q, %q) = %v, want %v", tc.authorID, tc.channelID, got, tc.want)
			}
		})
	}
}

func TestAllowAllChannelsStillDropsOwnMessages(t *testing.T) {
	p := NewChannelPolicy("bot-1", nil).AllowAllChannels()

	if !p.ShouldHandle("user-9", "anything") {
		t.Fatalf("ShouldHandle() = false for arbitrary channel with allow-all, want true")
	}
	if p.ShouldHandle("bot-1", "anything") {
		t.Fatalf("ShouldHandle() = true for the bot's own message, want false")
	}
}

func TestEmptyAllowListRejectsEverything(t *testing.T) {
	p := NewChannelPolicy("bot-1", nil)
	if p.ShouldHandle("user-9", "42") {
		t.Fatalf("ShouldHandle() = true with empty allow-list, want false")
	}
}

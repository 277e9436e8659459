package telegram

import (
	"testing"

	"wagrambridge/database"
)

func TestReactionSenderSelection(t *testing.T) {
	own := "me@s.whatsapp.net"

	cases := []struct {
		name   string
		target database.MessageMap
		want   string
	}{
		{
			name: "contact sent it, direct chat",
			target: database.MessageMap{
				ContactID: "friend@s.whatsapp.net",
				SenderJID: "friend@s.whatsapp.net",
				Direction: database.DirectionWAToTelegram,
			},
			want: "friend@s.whatsapp.net",
		},
		{
			name: "group member sent it, key on the member not the chat",
			target: database.MessageMap{
				ContactID: "group@g.us",
				SenderJID: "member@s.whatsapp.net",
				Direction: database.DirectionWAToTelegram,
			},
			want: "member@s.whatsapp.net",
		},
		{
			name: "old row without a stored sender falls back to the chat",
			target: database.MessageMap{
				ContactID: "friend@s.whatsapp.net",
				Direction: database.DirectionWAToTelegram,
			},
			want: "friend@s.whatsapp.net",
		},
		{
			name: "we sent it, key on our own address",
			target: database.MessageMap{
				ContactID: "friend@s.whatsapp.net",
				SenderJID: own,
				Direction: database.DirectionTelegramToWA,
			},
			want: own,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := reactionSender(&tc.target, own); got != tc.want {
				t.Fatalf("got %q, want %q", got, tc.want)
			}
		})
	}
}

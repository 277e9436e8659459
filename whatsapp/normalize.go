package whatsapp

import (
	"fmt"
	"strings"

	"github.com/emersion/go-vcard"
	waE2E "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
)

// normalizeMessage flattens a raw whatsmeow message event into a
// MessageEvent. Reaction and revoke payloads are handled separately by the
// dispatcher; this covers content-bearing messages.
func normalizeMessage(v *events.Message) MessageEvent {
	evt := MessageEvent{
		ID:        string(v.Info.ID),
		ChatJID:   v.Info.Chat.String(),
		SenderJID: v.Info.MessageSource.Sender.ToNonAD().String(),
		PushName:  v.Info.PushName,
		IsGroup:   v.Info.IsGroup,
		IsFromMe:  v.Info.IsFromMe,
		Timestamp: v.Info.Timestamp,
		Kind:      KindText,
	}

	msg := v.Message
	switch {
	case msg.GetConversation() != "":
		evt.Text = msg.GetConversation()

	case msg.ExtendedTextMessage != nil:
		evt.Text = msg.ExtendedTextMessage.GetText()
		evt.QuotedID = msg.ExtendedTextMessage.GetContextInfo().GetStanzaID()

	case msg.ImageMessage != nil:
		img := msg.ImageMessage
		evt.Kind = KindImage
		evt.Text = img.GetCaption()
		evt.Media = &MediaRef{
			MimeType: img.GetMimetype(),
			Size:     img.GetFileLength(),
			raw:      img,
		}

	case msg.VideoMessage != nil:
		vid := msg.VideoMessage
		evt.Kind = KindVideo
		if vid.GetGifPlayback() {
			evt.Kind = KindGif
		}
		evt.Text = vid.GetCaption()
		evt.Media = &MediaRef{
			MimeType: vid.GetMimetype(),
			Size:     vid.GetFileLength(),
			raw:      vid,
		}

	case msg.AudioMessage != nil:
		aud := msg.AudioMessage
		evt.Kind = KindAudio
		if aud.GetPTT() {
			evt.Kind = KindVoice
		}
		evt.Media = &MediaRef{
			MimeType: aud.GetMimetype(),
			Size:     aud.GetFileLength(),
			raw:      aud,
		}

	case msg.DocumentMessage != nil:
		doc := msg.DocumentMessage
		evt.Kind = KindDocument
		evt.Text = doc.GetCaption()
		evt.Media = &MediaRef{
			MimeType: doc.GetMimetype(),
			FileName: doc.GetFileName(),
			Size:     doc.GetFileLength(),
			raw:      doc,
		}

	case msg.StickerMessage != nil:
		stk := msg.StickerMessage
		evt.Kind = KindSticker
		evt.Media = &MediaRef{
			MimeType: stk.GetMimetype(),
			Size:     stk.GetFileLength(),
			raw:      stk,
		}

	case msg.ContactMessage != nil:
		evt.Kind = KindContact
		evt.Text = contactCardSummary(msg.ContactMessage)

	case msg.LocationMessage != nil:
		loc := msg.LocationMessage
		evt.Kind = KindLocation
		evt.Latitude = loc.GetDegreesLatitude()
		evt.Longitude = loc.GetDegreesLongitude()
		evt.Text = loc.GetName()

	case msg.ProtocolMessage != nil &&
		msg.ProtocolMessage.GetType() == waE2E.ProtocolMessage_MESSAGE_EDIT:
		pm := msg.ProtocolMessage
		evt.IsEdit = true
		evt.EditTargetID = pm.GetKey().GetID()
		evt.Text = pm.GetEditedMessage().GetConversation()
		if evt.Text == "" {
			evt.Text = pm.GetEditedMessage().GetExtendedTextMessage().GetText()
		}

	default:
		evt.Kind = KindUnknown
	}

	return evt
}

// contactCardSummary renders a shared contact card as readable text. Falls
// back to the display name when the vCard does not parse.
func contactCardSummary(cm *waE2E.ContactMessage) string {
	name := cm.GetDisplayName()

	card, err := vcard.NewDecoder(strings.NewReader(cm.GetVcard())).Decode()
	if err != nil {
		return name
	}

	if name == "" {
		name = card.PreferredValue(vcard.FieldFormattedName)
	}

	var lines []string
	if name != "" {
		lines = append(lines, name)
	}
	for _, field := range card[vcard.FieldTelephone] {
		number := strings.TrimSpace(field.Value)
		if number != "" {
			lines = append(lines, fmt.Sprintf("📞 %s", number))
		}
	}
	if len(lines) == 0 {
		return "Contact card"
	}
	return strings.Join(lines, "\n")
}

func normalizeReceiptType(r events.Receipt) AckType {
	switch r.Type {
	case types.ReceiptTypeRead, types.ReceiptTypeReadSelf:
		return AckRead
	case types.ReceiptTypePlayed, types.ReceiptTypePlayedSelf:
		return AckPlayed
	default:
		return AckDelivered
	}
}

// Package bridge is the WhatsApp-to-Telegram direction: it consumes the
// normalized session events and materializes them as messages in the forum
// topics, keeping the id mapping current along the way.
package bridge

import (
	"context"
	"fmt"
	"html"
	"strconv"

	"go.uber.org/zap"

	"wagrambridge/database"
	"wagrambridge/mapper"
	"wagrambridge/media"
	"wagrambridge/telegram"
	"wagrambridge/whatsapp"
)

const systemTopicKey = "system_topic_id"

type Bridge struct {
	tg       *telegram.Client
	wa       *whatsapp.Client
	contacts *mapper.ContactMapper
	messages *mapper.MessageMapper
	db       *database.Database
	files    *media.Store
	logger   *zap.Logger

	bridgeOwnMessages bool
}

func New(tg *telegram.Client, wa *whatsapp.Client, contacts *mapper.ContactMapper,
	messages *mapper.MessageMapper, db *database.Database, files *media.Store,
	bridgeOwnMessages bool, logger *zap.Logger) *Bridge {
	return &Bridge{
		tg:                tg,
		wa:                wa,
		contacts:          contacts,
		messages:          messages,
		db:                db,
		files:             files,
		logger:            logger,
		bridgeOwnMessages: bridgeOwnMessages,
	}
}

// systemThreadID returns the topic for operator notices, creating and
// caching it on first use.
func (br *Bridge) systemThreadID() int64 {
	if value, ok, err := br.db.AppStateGet(systemTopicKey); err == nil && ok {
		if id, err := strconv.ParseInt(value, 10, 64); err == nil {
			return id
		}
	}

	threadID, err := br.tg.CreateTopic("🌉 Bridge Status")
	if err != nil {
		br.logger.Error("could not create status topic, using general", zap.Error(err))
		return 0
	}
	if err := br.db.AppStateSet(systemTopicKey, strconv.FormatInt(threadID, 10)); err != nil {
		br.logger.Error("could not cache status topic id", zap.Error(err))
	}
	return threadID
}

func (br *Bridge) notice(text string) {
	if _, err := br.tg.SendText(br.systemThreadID(), text, false); err != nil {
		br.logger.Error("failed to post bridge notice", zap.Error(err))
	}
}

func (br *Bridge) hintsFor(evt whatsapp.MessageEvent) database.ContactHints {
	hints := database.ContactHints{IsGroup: evt.IsGroup}
	if evt.IsGroup {
		// Push name belongs to the sender, not the group.
	} else if !evt.IsFromMe {
		hints.PlatformName = evt.PushName
	}
	return hints
}

// header renders the 🧑/👥 attribution line prefixed to every bridged
// message.
func (br *Bridge) header(evt whatsapp.MessageEvent, contact *database.Contact) string {
	if evt.IsFromMe {
		return "🧑‍💻 <b>You</b>"
	}
	if evt.IsGroup {
		sender := evt.PushName
		if sender == "" {
			sender = evt.SenderJID
		}
		return fmt.Sprintf("👥 <b>%s</b>\n🧑 %s",
			html.EscapeString(br.contacts.DisplayName(contact)),
			html.EscapeString(sender))
	}
	return fmt.Sprintf("🧑 <b>%s</b>", html.EscapeString(br.contacts.DisplayName(contact)))
}

func (br *Bridge) OnMessage(evt whatsapp.MessageEvent) {
	if evt.IsFromMe && !br.bridgeOwnMessages {
		return
	}

	// A mapping that already routes somewhere means this event was
	// processed before; deliveries can replay across reconnects.
	if existing, err := br.messages.ByWaID(evt.ID); err == nil && existing != nil && existing.SecondaryMsgID != 0 {
		return
	}

	contact, err := br.contacts.Resolve(evt.ChatJID, br.hintsFor(evt))
	if err != nil {
		br.logger.Error("failed to resolve contact", zap.String("chat", evt.ChatJID), zap.Error(err))
		return
	}
	threadID, err := br.contacts.TopicFor(evt.ChatJID, database.ContactHints{})
	if err != nil {
		br.logger.Error("failed to get topic", zap.String("chat", evt.ChatJID), zap.Error(err))
		return
	}

	if evt.IsEdit {
		br.applyEdit(evt)
		return
	}

	tgMsgID, err := br.deliver(evt, contact, threadID)
	if err != nil {
		br.logger.Error("failed to deliver message",
			zap.String("wa_msg_id", evt.ID),
			zap.String("chat", evt.ChatJID),
			zap.Error(err),
		)
		return
	}

	if err := br.messages.Record(database.MessageMap{
		PrimaryMsgID:    evt.ID,
		SecondaryMsgID:  tgMsgID,
		SecondaryChatID: br.tg.TargetChatID(),
		ThreadID:        threadID,
		ContactID:       evt.ChatJID,
		SenderJID:       evt.SenderJID,
		Direction:       database.DirectionWAToTelegram,
		MessageKind:     string(evt.Kind),
		Content:         evt.Text,
	}); err != nil {
		br.logger.Error("failed to record inbound mapping",
			zap.String("wa_msg_id", evt.ID), zap.Error(err))
	}
}

// deliver posts one normalized message into its topic and returns the new
// Telegram message id.
func (br *Bridge) deliver(evt whatsapp.MessageEvent, contact *database.Contact, threadID int64) (int64, error) {
	header := br.header(evt, contact)
	silent := contact.IsMuted

	if evt.Media != nil {
		data, err := br.wa.DownloadMedia(context.Background(), evt.Media)
		if err != nil {
			// Still bridge the fact that something arrived.
			return br.tg.SendText(threadID,
				header+"\n⚠️ <i>Attachment could not be downloaded</i>", silent)
		}
		if path, err := br.files.Save(data, evt.Media.FileName, evt.Media.MimeType); err != nil {
			br.logger.Warn("failed to keep attachment on disk", zap.Error(err))
		} else {
			br.logger.Debug("attachment saved", zap.String("path", path))
		}

		caption := header
		if evt.Text != "" {
			caption += "\n" + html.EscapeString(evt.Text)
		}

		switch evt.Kind {
		case whatsapp.KindImage, whatsapp.KindSticker:
			return br.tg.SendPhoto(threadID, data, caption, silent)
		case whatsapp.KindVideo, whatsapp.KindGif:
			return br.tg.SendVideo(threadID, data, caption, silent)
		case whatsapp.KindVoice:
			return br.tg.SendAudio(threadID, data, "", true, silent)
		case whatsapp.KindAudio:
			return br.tg.SendAudio(threadID, data, evt.Media.FileName, false, silent)
		default:
			return br.tg.SendDocument(threadID, data, evt.Media.FileName, caption, silent)
		}
	}

	if evt.Kind == whatsapp.KindLocation {
		if _, err := br.tg.SendText(threadID, header, silent); err != nil {
			return 0, err
		}
		return br.tg.SendLocation(threadID, evt.Latitude, evt.Longitude, silent)
	}

	body := evt.Text
	if body == "" {
		body = "<i>Unsupported message</i>"
		return br.tg.SendText(threadID, header+"\n"+body, silent)
	}
	return br.tg.SendText(threadID, header+"\n"+html.EscapeString(body), silent)
}

func (br *Bridge) applyEdit(evt whatsapp.MessageEvent) {
	target, err := br.messages.ByWaID(evt.EditTargetID)
	if err != nil || target == nil {
		br.logger.Debug("edit for an unmapped message", zap.String("target", evt.EditTargetID))
		return
	}

	contact, _ := br.contacts.ByIdentity(target.ContactID)
	header := br.header(evt, contact)
	text := fmt.Sprintf("%s\n%s\n<i>(edited)</i>", header, html.EscapeString(evt.Text))
	if err := br.tg.EditText(target.SecondaryMsgID, text); err != nil {
		br.logger.Warn("failed to apply edit", zap.Error(err))
	}
}

// OnAck turns delivery receipts for messages we sent into reactions: ✅
// once delivered, 👀 once read.
func (br *Bridge) OnAck(evt whatsapp.AckEvent) {
	var emoji string
	switch evt.Type {
	case whatsapp.AckRead, whatsapp.AckPlayed:
		emoji = "👀"
	case whatsapp.AckDelivered:
		emoji = "✅"
	default:
		return
	}

	for _, id := range evt.MessageIDs {
		mapping, err := br.messages.ByWaID(id)
		if err != nil || mapping == nil || mapping.Direction != database.DirectionTelegramToWA {
			continue
		}
		if err := br.tg.SetReaction(mapping.SecondaryMsgID, emoji); err != nil {
			br.logger.Debug("failed to set receipt reaction",
				zap.String("wa_msg_id", id), zap.Error(err))
		}
	}
}

func (br *Bridge) OnReaction(evt whatsapp.ReactionEvent) {
	mapping, err := br.messages.ByWaID(evt.TargetMsgID)
	if err != nil || mapping == nil {
		return
	}

	if evt.Removed {
		if err := br.messages.RemoveReaction(evt.TargetMsgID, evt.ReactorJID); err != nil {
			br.logger.Warn("failed to drop stored reaction", zap.Error(err))
		}
		if err := br.tg.SetReaction(mapping.SecondaryMsgID, ""); err != nil {
			br.logger.Debug("failed to clear reaction", zap.Error(err))
		}
		return
	}

	if err := br.messages.RecordReaction(database.ReactionMap{
		PrimaryMsgID:    evt.TargetMsgID,
		SecondaryMsgID:  mapping.SecondaryMsgID,
		SecondaryChatID: mapping.SecondaryChatID,
		Emoji:           evt.Emoji,
		ReactorIdentity: evt.ReactorJID,
	}); err != nil {
		br.logger.Warn("failed to store reaction", zap.Error(err))
	}

	// Telegram only accepts a fixed emoji set for reactions; fall back to a
	// reply when it refuses this one.
	if err := br.tg.SetReaction(mapping.SecondaryMsgID, evt.Emoji); err != nil {
		contact, _ := br.contacts.ByIdentity(mapping.ContactID)
		silent := contact != nil && contact.IsMuted
		if _, err := br.tg.SendText(mapping.ThreadID,
			fmt.Sprintf("reacted with %s", evt.Emoji), silent); err != nil {
			br.logger.Debug("failed to post reaction fallback", zap.Error(err))
		}
	}
}

func (br *Bridge) OnRevoke(evt whatsapp.RevokeEvent) {
	mapping, err := br.messages.ByWaID(evt.TargetMsgID)
	if err != nil || mapping == nil {
		return
	}

	if err := br.tg.DeleteMessage(mapping.SecondaryMsgID); err != nil {
		// Deletion can be out of the bot's reach; mark the message instead.
		if err := br.tg.EditText(mapping.SecondaryMsgID, "🗑 <i>This message was deleted</i>"); err != nil {
			br.logger.Debug("failed to mark revoked message", zap.Error(err))
		}
	}
}

func (br *Bridge) OnCall(evt whatsapp.CallEvent) {
	if evt.Type != whatsapp.CallOffer {
		return
	}

	contact, err := br.contacts.Resolve(evt.FromJID, database.ContactHints{})
	if err != nil {
		br.logger.Error("failed to resolve caller", zap.Error(err))
		return
	}

	record := &database.CallRecord{
		Identity:  evt.CallID,
		ContactID: evt.FromJID,
		CallType:  "voice",
		Direction: "inbound",
		Timestamp: evt.Timestamp,
	}
	if err := br.db.CallRecordAdd(record); err != nil {
		br.logger.Error("failed to store call record", zap.Error(err))
	}

	threadID, err := br.contacts.TopicFor(evt.FromJID, database.ContactHints{})
	if err != nil {
		threadID = br.systemThreadID()
	}
	msgID, err := br.tg.SendText(threadID,
		fmt.Sprintf("📞 <b>%s</b> is calling on WhatsApp",
			html.EscapeString(br.contacts.DisplayName(contact))),
		contact.IsMuted)
	if err != nil {
		br.logger.Error("failed to announce call", zap.Error(err))
		return
	}
	if err := br.db.CallRecordSetSecondaryMsg(record.ID, msgID); err != nil {
		br.logger.Warn("failed to link call record", zap.Error(err))
	}
}

func (br *Bridge) OnGroupChange(evt whatsapp.GroupChangeEvent) {
	contact, err := br.contacts.Resolve(evt.ChatJID, database.ContactHints{
		IsGroup:   true,
		GroupName: evt.Name,
	})
	if err != nil {
		br.logger.Error("failed to update group name", zap.Error(err))
		return
	}
	if contact.ThreadID != 0 {
		if err := br.tg.RenameTopic(contact.ThreadID, br.contacts.TopicTitle(contact)); err != nil {
			br.logger.Warn("failed to rename group topic", zap.Error(err))
		}
	}
}

func (br *Bridge) OnStateChange(from, to whatsapp.State) {
	switch to {
	case whatsapp.StateReady:
		br.notice("✅ WhatsApp session is ready")
	case whatsapp.StateReconnecting:
		br.notice("⚠️ WhatsApp connection lost, reconnecting")
	case whatsapp.StateLoggedOut:
		br.notice("🚪 Logged out of WhatsApp, use /login to pair again")
	}
}

func (br *Bridge) OnQRCode(code string) {
	if _, err := br.tg.SendQRCode(br.systemThreadID(), code); err != nil {
		br.logger.Error("failed to forward QR code", zap.Error(err))
	}
}

func (br *Bridge) OnHalted(reason string) {
	br.notice("🛑 " + html.EscapeString(reason))
}

package telegram

import (
	"context"
	"fmt"
	"html"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/PaulSonOfLars/gotgbot/v2"
	"github.com/PaulSonOfLars/gotgbot/v2/ext"
	"github.com/PaulSonOfLars/gotgbot/v2/ext/handlers"
	"github.com/PaulSonOfLars/gotgbot/v2/ext/handlers/filters/message"
	"github.com/forPelevin/gomoji"
	"go.uber.org/zap"

	"wagrambridge/config"
	"wagrambridge/database"
	"wagrambridge/mapper"
	"wagrambridge/ratelimit"
	"wagrambridge/scheduler"
	"wagrambridge/whatsapp"
)

// Handlers is the operator command surface plus the topic->WhatsApp relay.
type Handlers struct {
	tg       *Client
	wa       *whatsapp.Client
	contacts *mapper.ContactMapper
	messages *mapper.MessageMapper
	sched    *scheduler.Scheduler
	limiter  *ratelimit.Limiter
	db       *database.Database
	cfg      *config.Config
	logger   *zap.Logger

	startTime time.Time
}

func NewHandlers(tg *Client, wa *whatsapp.Client, contacts *mapper.ContactMapper,
	messages *mapper.MessageMapper, sched *scheduler.Scheduler, limiter *ratelimit.Limiter,
	db *database.Database, cfg *config.Config, logger *zap.Logger) *Handlers {
	return &Handlers{
		tg:        tg,
		wa:        wa,
		contacts:  contacts,
		messages:  messages,
		sched:     sched,
		limiter:   limiter,
		db:        db,
		cfg:       cfg,
		logger:    logger,
		startTime: time.Now().UTC(),
	}
}

func (h *Handlers) Register() {
	d := h.tg.Dispatcher

	d.AddHandler(handlers.NewCommand("start", h.startCommand))
	d.AddHandler(handlers.NewCommand("status", h.statusCommand))
	d.AddHandler(handlers.NewCommand("login", h.loginCommand))
	d.AddHandler(handlers.NewCommand("logout", h.logoutCommand))
	d.AddHandler(handlers.NewCommand("restart", h.restartCommand))
	d.AddHandler(handlers.NewCommand("find", h.findCommand))
	d.AddHandler(handlers.NewCommand("search", h.findCommand))
	d.AddHandler(handlers.NewCommand("alias", h.aliasCommand))
	d.AddHandler(handlers.NewCommand("mute", h.muteCommand(true)))
	d.AddHandler(handlers.NewCommand("unmute", h.muteCommand(false)))
	d.AddHandler(handlers.NewCommand("archive", h.archiveCommand(true)))
	d.AddHandler(handlers.NewCommand("unarchive", h.archiveCommand(false)))
	d.AddHandler(handlers.NewCommand("send", h.sendCommand))
	d.AddHandler(handlers.NewCommand("schedule", h.scheduleCommand))
	d.AddHandler(handlers.NewCommand("scheduled", h.scheduledCommand))
	d.AddHandler(handlers.NewCommand("cancelsched", h.cancelSchedCommand))
	d.AddHandler(handlers.NewCommand("searchmsg", h.searchMsgCommand))
	d.AddHandler(handlers.NewCommand("calls", h.callsCommand))

	d.AddHandler(handlers.NewMessage(message.All, h.topicMessage))
}

// BotCommands is the list published to the Telegram command menu.
func (h *Handlers) BotCommands() []gotgbot.BotCommand {
	return []gotgbot.BotCommand{
		{Command: "status", Description: "Show the WhatsApp session state"},
		{Command: "login", Description: "Request a WhatsApp login QR code"},
		{Command: "logout", Description: "Unlink the WhatsApp device"},
		{Command: "restart", Description: "Force a WhatsApp reconnect"},
		{Command: "find", Description: "Find contacts by name or number"},
		{Command: "alias", Description: "Set an alias for this topic's contact"},
		{Command: "mute", Description: "Stop notifications from this topic's contact"},
		{Command: "unmute", Description: "Resume notifications from this topic's contact"},
		{Command: "archive", Description: "Hide this topic's contact from searches"},
		{Command: "unarchive", Description: "Bring this topic's contact back"},
		{Command: "send", Description: "Send a message to any WhatsApp identity"},
		{Command: "schedule", Description: "Schedule a message for this topic's contact"},
		{Command: "scheduled", Description: "List pending scheduled messages"},
		{Command: "cancelsched", Description: "Cancel a pending scheduled message"},
		{Command: "searchmsg", Description: "Search bridged message history"},
		{Command: "calls", Description: "Show recent WhatsApp calls"},
	}
}

func (h *Handlers) authorized(c *ext.Context) bool {
	return c.EffectiveUser != nil && h.tg.IsOwner(c.EffectiveUser.Id)
}

func (h *Handlers) reply(c *ext.Context, text string) error {
	_, err := c.EffectiveMessage.Reply(h.tg.Bot, text, nil)
	return err
}

// topicContact resolves the contact behind the topic a command was issued
// in. Replies with usage help when the command came from outside a topic.
func (h *Handlers) topicContact(c *ext.Context) (*database.Contact, error) {
	threadID := c.EffectiveMessage.MessageThreadId
	if threadID == 0 {
		return nil, h.reply(c, "This command only works inside a contact's topic")
	}
	contact, err := h.contacts.ByThreadID(threadID)
	if err != nil {
		return nil, err
	}
	if contact == nil {
		return nil, h.reply(c, "This topic is not linked to any WhatsApp chat")
	}
	return contact, nil
}

func (h *Handlers) startCommand(b *gotgbot.Bot, c *ext.Context) error {
	if !h.authorized(c) {
		return nil
	}
	return h.reply(c, fmt.Sprintf("Hoi, the bridge has been up since %s",
		html.EscapeString(h.startTime.Local().Format(h.cfg.TimeFormat))))
}

func (h *Handlers) statusCommand(b *gotgbot.Bot, c *ext.Context) error {
	if !h.authorized(c) {
		return nil
	}

	var sb strings.Builder
	sb.WriteString("<b>Bridge status</b>\n")
	sb.WriteString(fmt.Sprintf("Session: <code>%s</code>\n", h.wa.State()))
	if jid := h.wa.JID(); jid != "" {
		sb.WriteString(fmt.Sprintf("Linked device: <code>%s</code>\n", html.EscapeString(jid)))
	} else {
		sb.WriteString("Linked device: none (use /login)\n")
	}
	if h.wa.Halted() {
		sb.WriteString("⚠️ Retries exhausted, use /login or /restart\n")
	}
	if attempts := h.wa.ReconnectAttempts(); attempts > 0 {
		sb.WriteString(fmt.Sprintf("Reconnect attempts: %d\n", attempts))
	}
	sb.WriteString(fmt.Sprintf("Up since: %s",
		html.EscapeString(h.startTime.Local().Format(h.cfg.TimeFormat))))

	return h.reply(c, sb.String())
}

func (h *Handlers) loginCommand(b *gotgbot.Bot, c *ext.Context) error {
	if !h.authorized(c) {
		return nil
	}

	buffered, err := h.wa.RequestPairing(context.Background())
	if err != nil {
		return h.reply(c, fmt.Sprintf("Could not start pairing: %s", html.EscapeString(err.Error())))
	}
	if buffered != "" {
		_, err = h.tg.SendQRCode(c.EffectiveMessage.MessageThreadId, buffered)
		return err
	}
	return h.reply(c, "Pairing requested, the QR code will arrive shortly")
}

func (h *Handlers) logoutCommand(b *gotgbot.Bot, c *ext.Context) error {
	if !h.authorized(c) {
		return nil
	}

	if err := h.wa.Logout(context.Background()); err != nil {
		return h.reply(c, fmt.Sprintf("Logout failed: %s", html.EscapeString(err.Error())))
	}
	// Message ids from the old session are meaningless now.
	if err := h.messages.Purge(); err != nil {
		h.logger.Error("failed to purge message mappings after logout", zap.Error(err))
	}
	return h.reply(c, "Device unlinked, message history mapping cleared")
}

func (h *Handlers) restartCommand(b *gotgbot.Bot, c *ext.Context) error {
	if !h.authorized(c) {
		return nil
	}

	h.wa.Disconnect()
	if err := h.wa.Connect(context.Background()); err != nil {
		return h.reply(c, fmt.Sprintf("Reconnect failed: %s", html.EscapeString(err.Error())))
	}
	return h.reply(c, "Reconnecting to WhatsApp")
}

func (h *Handlers) findCommand(b *gotgbot.Bot, c *ext.Context) error {
	if !h.authorized(c) {
		return nil
	}

	args := c.Args()
	if len(args) <= 1 {
		return h.reply(c, "Usage: <code>/find name or number</code>")
	}
	query := strings.Join(args[1:], " ")

	results, err := h.contacts.Search(query)
	if err != nil {
		return err
	}
	if len(results) == 0 {
		return h.reply(c, fmt.Sprintf("No contacts matching <code>%s</code>", html.EscapeString(query)))
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Contacts matching <code>%s</code>:\n\n", html.EscapeString(query)))
	for i, contact := range results {
		if i >= 10 {
			sb.WriteString(fmt.Sprintf("… and %d more", len(results)-10))
			break
		}
		icon := "🧑"
		if contact.IsGroup {
			icon = "👥"
		}
		sb.WriteString(fmt.Sprintf("%s <b>%s</b> — <code>%s</code>\n",
			icon,
			html.EscapeString(h.contacts.DisplayName(&contact)),
			html.EscapeString(contact.Identity),
		))
	}
	return h.reply(c, sb.String())
}

func (h *Handlers) aliasCommand(b *gotgbot.Bot, c *ext.Context) error {
	if !h.authorized(c) {
		return nil
	}
	contact, err := h.topicContact(c)
	if err != nil || contact == nil {
		return err
	}

	args := c.Args()
	if len(args) <= 1 {
		return h.reply(c, "Usage: <code>/alias new name</code>")
	}
	alias := strings.Join(args[1:], " ")

	if err := h.contacts.SetAlias(contact.Identity, alias); err != nil {
		return err
	}
	contact.Alias = alias
	if err := h.tg.RenameTopic(contact.ThreadID, h.contacts.TopicTitle(contact)); err != nil {
		h.logger.Warn("failed to rename topic after alias change",
			zap.Int64("thread_id", contact.ThreadID), zap.Error(err))
	}
	return h.reply(c, fmt.Sprintf("Alias set to <b>%s</b>", html.EscapeString(alias)))
}

func (h *Handlers) muteCommand(mute bool) handlers.Response {
	return func(b *gotgbot.Bot, c *ext.Context) error {
		if !h.authorized(c) {
			return nil
		}
		contact, err := h.topicContact(c)
		if err != nil || contact == nil {
			return err
		}
		if err := h.contacts.SetMuted(contact.Identity, mute); err != nil {
			return err
		}
		if mute {
			return h.reply(c, "Muted, messages will arrive silently")
		}
		return h.reply(c, "Unmuted")
	}
}

func (h *Handlers) archiveCommand(archive bool) handlers.Response {
	return func(b *gotgbot.Bot, c *ext.Context) error {
		if !h.authorized(c) {
			return nil
		}
		contact, err := h.topicContact(c)
		if err != nil || contact == nil {
			return err
		}
		if err := h.contacts.SetArchived(contact.Identity, archive); err != nil {
			return err
		}
		if archive {
			return h.reply(c, "Archived, this contact is hidden from /find")
		}
		return h.reply(c, "Unarchived")
	}
}

func (h *Handlers) sendCommand(b *gotgbot.Bot, c *ext.Context) error {
	if !h.authorized(c) {
		return nil
	}

	args := c.Args()
	if len(args) <= 2 {
		return h.reply(c, "Usage: <code>/send 1234567890@s.whatsapp.net message</code>")
	}
	identity := args[1]
	body := strings.Join(args[2:], " ")

	if err := h.validateOutbound(c, identity, body); err != nil {
		return err
	}

	msgID, err := h.wa.SendText(context.Background(), identity, body)
	if err != nil {
		return h.reply(c, fmt.Sprintf("Send failed: %s", html.EscapeString(err.Error())))
	}

	h.recordOutbound(msgID, c.EffectiveMessage, identity, whatsapp.KindText, body)
	return h.reply(c, "Sent ✅")
}

func (h *Handlers) scheduleCommand(b *gotgbot.Bot, c *ext.Context) error {
	if !h.authorized(c) {
		return nil
	}
	contact, err := h.topicContact(c)
	if err != nil || contact == nil {
		return err
	}

	args := c.Args()
	if len(args) <= 2 {
		return h.reply(c, "Usage: <code>/schedule 2h30m message</code> or <code>/schedule 2024-12-31T23:59 message</code>")
	}

	dueAt, err := parseScheduleTime(args[1])
	if err != nil {
		return h.reply(c, fmt.Sprintf("Could not understand the time: %s", html.EscapeString(err.Error())))
	}
	body := strings.Join(args[2:], " ")
	if err := h.validateOutbound(c, contact.Identity, body); err != nil {
		return err
	}

	msg, err := h.sched.Schedule(contact.Identity, h.contacts.DisplayName(contact), body, dueAt)
	if err != nil {
		return h.reply(c, fmt.Sprintf("Could not schedule: %s", html.EscapeString(err.Error())))
	}
	return h.reply(c, fmt.Sprintf("Scheduled as #%d for %s", msg.ID,
		html.EscapeString(msg.DueAt.Local().Format(h.cfg.TimeFormat))))
}

func (h *Handlers) scheduledCommand(b *gotgbot.Bot, c *ext.Context) error {
	if !h.authorized(c) {
		return nil
	}

	upcoming, err := h.sched.Upcoming()
	if err != nil {
		return err
	}
	if len(upcoming) == 0 {
		return h.reply(c, "No pending scheduled messages")
	}

	var sb strings.Builder
	sb.WriteString("<b>Pending scheduled messages</b>\n\n")
	for _, msg := range upcoming {
		sb.WriteString(fmt.Sprintf("#%d → <b>%s</b> at %s\n<i>%s</i>\n\n",
			msg.ID,
			html.EscapeString(msg.TargetDisplay),
			html.EscapeString(msg.DueAt.Local().Format(h.cfg.TimeFormat)),
			html.EscapeString(truncate(msg.Body, 80)),
		))
	}
	return h.reply(c, sb.String())
}

func (h *Handlers) cancelSchedCommand(b *gotgbot.Bot, c *ext.Context) error {
	if !h.authorized(c) {
		return nil
	}

	args := c.Args()
	if len(args) != 2 {
		return h.reply(c, "Usage: <code>/cancelsched id</code>")
	}
	id, err := strconv.ParseUint(args[1], 10, 32)
	if err != nil {
		return h.reply(c, "The id must be a number")
	}

	ok, err := h.sched.Cancel(uint(id))
	if err != nil {
		return err
	}
	if !ok {
		return h.reply(c, fmt.Sprintf("#%d is not pending, nothing to cancel", id))
	}
	return h.reply(c, fmt.Sprintf("Cancelled #%d", id))
}

func (h *Handlers) searchMsgCommand(b *gotgbot.Bot, c *ext.Context) error {
	if !h.authorized(c) {
		return nil
	}

	args := c.Args()
	if len(args) <= 1 {
		return h.reply(c, "Usage: <code>/searchmsg text</code>")
	}
	query := strings.Join(args[1:], " ")

	hits, err := h.messages.SearchContent(query, 10)
	if err != nil {
		return err
	}
	if len(hits) == 0 {
		return h.reply(c, fmt.Sprintf("No messages matching <code>%s</code>", html.EscapeString(query)))
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Messages matching <code>%s</code>:\n\n", html.EscapeString(query)))
	for _, hit := range hits {
		display := hit.ContactID
		if contact, err := h.contacts.ByIdentity(hit.ContactID); err == nil && contact != nil {
			display = h.contacts.DisplayName(contact)
		}
		sb.WriteString(fmt.Sprintf("<b>%s</b> (%s):\n<i>%s</i>\n\n",
			html.EscapeString(display),
			html.EscapeString(hit.CreatedAt.Local().Format(h.cfg.TimeFormat)),
			html.EscapeString(truncate(hit.Content, 120)),
		))
	}
	return h.reply(c, sb.String())
}

func (h *Handlers) callsCommand(b *gotgbot.Bot, c *ext.Context) error {
	if !h.authorized(c) {
		return nil
	}

	records, err := h.db.CallRecordsRecent(10)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return h.reply(c, "No recorded calls")
	}

	var sb strings.Builder
	sb.WriteString("<b>Recent calls</b>\n\n")
	for _, record := range records {
		display := record.Identity
		if contact, err := h.contacts.ByIdentity(record.ContactID); err == nil && contact != nil {
			display = h.contacts.DisplayName(contact)
		}
		sb.WriteString(fmt.Sprintf("📞 <b>%s</b> — %s at %s\n",
			html.EscapeString(display),
			html.EscapeString(record.CallType),
			html.EscapeString(record.Timestamp.Local().Format(h.cfg.TimeFormat)),
		))
	}
	return h.reply(c, sb.String())
}

// topicMessage relays plain messages typed inside a contact topic to the
// contact's WhatsApp chat. Pure-emoji replies to a bridged message become
// reactions instead of text.
func (h *Handlers) topicMessage(b *gotgbot.Bot, c *ext.Context) error {
	msg := c.EffectiveMessage
	if !h.authorized(c) || msg.Chat.Id != h.tg.TargetChatID() {
		return nil
	}
	threadID := msg.MessageThreadId
	if threadID == 0 || strings.HasPrefix(msg.Text, "/") {
		return nil
	}
	// Skip the service message that opens a topic.
	if msg.ForumTopicCreated != nil {
		return nil
	}

	contact, err := h.contacts.ByThreadID(threadID)
	if err != nil {
		return err
	}
	if contact == nil {
		return nil
	}

	if !h.limiter.Allow(fmt.Sprintf("tg:%d", threadID)) {
		return h.reply(c, "Slow down, too many messages this minute")
	}

	if msg.ReplyToMessage != nil && isPureEmoji(msg.Text) {
		return h.relayReaction(c, contact, msg)
	}
	return h.relayMessage(c, contact, msg)
}

func (h *Handlers) relayReaction(c *ext.Context, contact *database.Contact, msg *gotgbot.Message) error {
	target, err := h.messages.ByTelegramID(msg.ReplyToMessage.MessageId, msg.Chat.Id)
	if err != nil {
		return err
	}
	if target == nil {
		return h.reply(c, "That message is not bridged, cannot react to it")
	}

	emojis := gomoji.FindAll(msg.Text)
	if len(emojis) == 0 {
		return nil
	}
	emoji := emojis[0].Character

	sender := reactionSender(target, h.wa.JID())
	err = h.wa.SendReaction(context.Background(), contact.Identity, sender, target.PrimaryMsgID, emoji)
	if err != nil {
		return h.reply(c, fmt.Sprintf("Reaction failed: %s", html.EscapeString(err.Error())))
	}
	return h.messages.RecordReaction(database.ReactionMap{
		PrimaryMsgID:    target.PrimaryMsgID,
		SecondaryMsgID:  msg.MessageId,
		SecondaryChatID: msg.Chat.Id,
		Emoji:           emoji,
		ReactorIdentity: h.wa.JID(),
	})
}

func (h *Handlers) relayMessage(c *ext.Context, contact *database.Contact, msg *gotgbot.Message) error {
	ctx := context.Background()

	kind, data, fileName, mimeType, caption, err := h.extractOutboundMedia(msg)
	if err != nil {
		return h.reply(c, fmt.Sprintf("Could not read the attachment: %s", html.EscapeString(err.Error())))
	}

	var body string
	if data == nil {
		body = msg.Text
		if err := h.validateOutbound(c, contact.Identity, body); err != nil {
			return err
		}
	}

	var waMsgID string
	if data != nil {
		waMsgID, err = h.wa.SendMedia(ctx, contact.Identity, kind, data, mimeType, fileName, caption)
	} else {
		waMsgID, err = h.wa.SendText(ctx, contact.Identity, body)
	}
	if err != nil {
		return h.reply(c, fmt.Sprintf("Send failed: %s", html.EscapeString(err.Error())))
	}

	// Replying to a bridged message also marks the chat read on the phone.
	if msg.ReplyToMessage != nil {
		if target, err := h.messages.ByTelegramID(msg.ReplyToMessage.MessageId, msg.Chat.Id); err == nil && target != nil {
			if err := h.wa.MarkRead(contact.Identity, contact.Identity, []string{target.PrimaryMsgID}); err != nil {
				h.logger.Debug("failed to mark chat read", zap.Error(err))
			}
		}
	}

	content := body
	if content == "" {
		content = caption
	}
	h.recordOutbound(waMsgID, msg, contact.Identity, kind, content)
	return nil
}

// extractOutboundMedia downloads whatever attachment the Telegram message
// carries. Returns nil data for plain text.
func (h *Handlers) extractOutboundMedia(msg *gotgbot.Message) (whatsapp.MessageKind, []byte, string, string, string, error) {
	var (
		kind     whatsapp.MessageKind
		fileID   string
		fileName string
		mimeType string
	)

	switch {
	case len(msg.Photo) > 0:
		kind = whatsapp.KindImage
		fileID = msg.Photo[len(msg.Photo)-1].FileId
		mimeType = "image/jpeg"
	case msg.Video != nil:
		kind = whatsapp.KindVideo
		fileID = msg.Video.FileId
		mimeType = msg.Video.MimeType
	case msg.Voice != nil:
		kind = whatsapp.KindVoice
		fileID = msg.Voice.FileId
		mimeType = "audio/ogg; codecs=opus"
	case msg.Audio != nil:
		kind = whatsapp.KindAudio
		fileID = msg.Audio.FileId
		mimeType = msg.Audio.MimeType
		fileName = msg.Audio.FileName
	case msg.Document != nil:
		kind = whatsapp.KindDocument
		fileID = msg.Document.FileId
		mimeType = msg.Document.MimeType
		fileName = msg.Document.FileName
	default:
		return whatsapp.KindText, nil, "", "", "", nil
	}

	file, err := h.tg.Bot.GetFile(fileID, nil)
	if err != nil {
		return kind, nil, "", "", "", err
	}
	resp, err := http.Get(file.URL(h.tg.Bot, nil))
	if err != nil {
		return kind, nil, "", "", "", err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return kind, nil, "", "", "", err
	}
	return kind, data, fileName, mimeType, msg.Caption, nil
}

func (h *Handlers) validateOutbound(c *ext.Context, identity, body string) error {
	if strings.TrimSpace(body) == "" {
		return h.reply(c, "Refusing to send an empty message")
	}
	if maxLen := h.cfg.Security.MaxMessageLength; maxLen > 0 && len([]rune(body)) > maxLen {
		return h.reply(c, fmt.Sprintf("Message too long, the limit is %d characters", maxLen))
	}
	if !strings.Contains(identity, "@") {
		return h.reply(c, "That does not look like a WhatsApp identity")
	}
	return nil
}

func (h *Handlers) recordOutbound(waMsgID string, tgMsg *gotgbot.Message, identity string, kind whatsapp.MessageKind, content string) {
	err := h.messages.Record(database.MessageMap{
		PrimaryMsgID:    waMsgID,
		SecondaryMsgID:  tgMsg.MessageId,
		SecondaryChatID: tgMsg.Chat.Id,
		ThreadID:        tgMsg.MessageThreadId,
		ContactID:       identity,
		SenderJID:       h.wa.JID(),
		Direction:       database.DirectionTelegramToWA,
		MessageKind:     string(kind),
		Content:         content,
	})
	if err != nil {
		h.logger.Error("failed to record outbound mapping",
			zap.String("wa_msg_id", waMsgID), zap.Error(err))
	}
}

// reactionSender picks the JID the reaction key must name as the target
// message's author. Messages the contact sent key on the stored sender (in
// groups that is the member, not the chat); messages we sent key on our own
// JID so the key carries from-me.
func reactionSender(target *database.MessageMap, ownJID string) string {
	if target.Direction == database.DirectionWAToTelegram {
		if target.SenderJID != "" {
			return target.SenderJID
		}
		return target.ContactID
	}
	return ownJID
}

// isPureEmoji reports whether text is nothing but emoji (and spaces).
func isPureEmoji(text string) bool {
	if strings.TrimSpace(text) == "" {
		return false
	}
	return strings.TrimSpace(gomoji.RemoveEmojis(text)) == ""
}

// parseScheduleTime accepts either a duration from now ("45m", "2h30m") or
// an absolute local time ("2024-12-31T23:59").
func parseScheduleTime(arg string) (time.Time, error) {
	if d, err := time.ParseDuration(arg); err == nil {
		return time.Now().Add(d), nil
	}
	t, err := time.ParseInLocation("2006-01-02T15:04", arg, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("use a duration like 2h30m or a time like 2024-12-31T23:59")
	}
	return t, nil
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-1]) + "…"
}

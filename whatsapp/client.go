// Package whatsapp owns the WhatsApp session: login, reconnection, and the
// translation of whatsmeow events into the normalized surface the bridge
// consumes.
package whatsapp

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5"
	_ "github.com/mattn/go-sqlite3"
	"github.com/mdp/qrterminal/v3"
	"go.mau.fi/whatsmeow"
	waCompanionReg "go.mau.fi/whatsmeow/proto/waCompanionReg"
	waE2E "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"go.uber.org/zap"
	"golang.org/x/exp/slices"
	"google.golang.org/protobuf/proto"

	"wagrambridge/config"
)

type Client struct {
	wm        *whatsmeow.Client
	container *sqlstore.Container
	machine   *Machine
	logger    *zap.Logger

	ignoreChats []string
	skipStatus  bool
	debugQR     bool

	mu             sync.Mutex
	observer       EventObserver
	reconnectTimer *time.Timer
}

func NewClient(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Client, error) {
	store.DeviceProps.Os = proto.String(cfg.WhatsApp.SessionName)
	store.DeviceProps.RequireFullSync = proto.Bool(true)
	store.DeviceProps.PlatformType = waCompanionReg.DeviceProps_DESKTOP.Enum()

	dbLog := waLog.Stdout("WA_Database", "WARN", true)
	container, err := sqlstore.New(ctx, cfg.WhatsApp.LoginDatabase.Type,
		cfg.WhatsApp.LoginDatabase.URL, dbLog)
	if err != nil {
		return nil, fmt.Errorf("could not initialize sqlstore for WhatsApp: %w", err)
	}
	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("could not initialize device store for WhatsApp: %w", err)
	}

	clientLog := waLog.Stdout("WA_Client", "WARN", true)
	c := &Client{
		wm:        whatsmeow.NewClient(deviceStore, clientLog),
		container: container,
		logger:    logger,
		machine: NewMachine(MachineConfig{
			MaxQRAttempts:        cfg.WhatsApp.MaxQRAttempts,
			MaxReconnectAttempts: cfg.WhatsApp.MaxReconnectAttempts,
			ReconnectBaseDelay:   time.Duration(cfg.WhatsApp.ReconnectBaseDelaySecs) * time.Second,
			ReconnectMaxDelay:    time.Duration(cfg.WhatsApp.ReconnectMaxDelaySecs) * time.Second,
		}),
		ignoreChats: cfg.WhatsApp.IgnoreChats,
		skipStatus:  cfg.WhatsApp.SkipStatus,
		debugQR:     cfg.DebugMode,
	}
	// The machine owns the retry schedule; the library's built-in reconnect
	// loop would keep retrying past a halt.
	c.wm.EnableAutoReconnect = false
	c.wm.AddEventHandler(c.handleEvent)
	return c, nil
}

func (c *Client) SetObserver(obs EventObserver) {
	c.mu.Lock()
	c.observer = obs
	c.mu.Unlock()
}

func (c *Client) getObserver() EventObserver {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.observer
}

func (c *Client) State() State           { return c.machine.Current() }
func (c *Client) Halted() bool           { return c.machine.Halted() }
func (c *Client) LoggedIn() bool         { return c.wm.Store.ID != nil }
func (c *Client) ReconnectAttempts() int { return c.machine.ReconnectAttempts() }

// JID returns our own WhatsApp address, empty before login.
func (c *Client) JID() string {
	if c.wm.Store.ID == nil {
		return ""
	}
	return c.wm.Store.ID.ToNonAD().String()
}

// Connect starts the session. On a fresh device the QR pairing loop runs;
// codes stay buffered in the machine until RequestPairing releases them.
func (c *Client) Connect(ctx context.Context) error {
	if c.wm.Store.ID == nil {
		qrChan, err := c.wm.GetQRChannel(ctx)
		if err != nil {
			return fmt.Errorf("could not open QR channel: %w", err)
		}
		if err := c.wm.Connect(); err != nil {
			return fmt.Errorf("could not connect to WhatsApp for login: %w", err)
		}
		go c.pairingLoop(qrChan)
		return nil
	}

	c.setState(StateAuthenticating)
	if err := c.wm.Connect(); err != nil {
		return fmt.Errorf("could not connect to WhatsApp: %w", err)
	}
	return nil
}

func (c *Client) pairingLoop(qrChan <-chan whatsmeow.QRChannelItem) {
	for evt := range qrChan {
		switch evt.Event {
		case whatsmeow.QRChannelEventCode:
			forward, ok := c.machine.QRReceived(evt.Code)
			if !ok {
				c.logger.Warn("QR scan budget exhausted, halting pairing")
				if obs := c.getObserver(); obs != nil {
					obs.OnHalted("too many unscanned QR codes, use /login to retry")
				}
				return
			}
			if c.debugQR {
				qrterminal.Generate(evt.Code, qrterminal.L, os.Stdout)
			}
			if forward {
				if obs := c.getObserver(); obs != nil {
					obs.OnQRCode(evt.Code)
				}
			} else {
				c.logger.Info("QR code buffered until pairing is requested")
			}

		case whatsmeow.QRChannelSuccess.Event:
			c.machine.PairingComplete()
			c.setState(StateAuthenticating)
			c.logger.Info("device paired")
			return

		default:
			c.logger.Info("QR channel closed", zap.String("event", evt.Event))
			c.setState(StateDisconnected)
			return
		}
	}
}

// RequestPairing surfaces the pairing flow to the operator: any buffered QR
// code is returned immediately, later codes are forwarded via the observer.
// Restarts the connection when a previous halt left the socket down.
func (c *Client) RequestPairing(ctx context.Context) (bufferedQR string, err error) {
	if c.LoggedIn() {
		return "", fmt.Errorf("already logged in, use /logout first")
	}

	// Operator intervention supersedes any scheduled reconnect.
	c.mu.Lock()
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	c.mu.Unlock()

	buffered := c.machine.RequestPairing()
	if !c.wm.IsConnected() {
		if err := c.Connect(ctx); err != nil {
			return "", err
		}
	}
	return buffered, nil
}

// Logout unlinks the device and drops the session state.
func (c *Client) Logout(ctx context.Context) error {
	if err := c.wm.Logout(ctx); err != nil {
		return fmt.Errorf("logout failed: %w", err)
	}
	c.setState(StateLoggedOut)
	return nil
}

func (c *Client) Disconnect() {
	c.mu.Lock()
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	c.mu.Unlock()
	c.wm.Disconnect()
}

// setState transitions the machine and tells the observer. Invalid
// transitions are logged and dropped rather than propagated; socket events
// can arrive in odd orders around reconnects.
func (c *Client) setState(to State) {
	from := c.machine.Current()
	if from == to {
		return
	}
	if err := c.machine.Transition(to); err != nil {
		c.logger.Debug("ignoring out-of-order state change",
			zap.String("from", string(from)),
			zap.String("to", string(to)),
		)
		return
	}
	c.logger.Info("session state changed",
		zap.String("from", string(from)),
		zap.String("to", string(to)),
	)
	if obs := c.getObserver(); obs != nil {
		obs.OnStateChange(from, to)
	}
}

func (c *Client) scheduleReconnect() {
	delay, ok := c.machine.NextReconnectDelay()
	if !ok {
		c.logger.Error("reconnect budget exhausted, giving up",
			zap.Int("attempts", c.machine.ReconnectAttempts()))
		if obs := c.getObserver(); obs != nil {
			obs.OnHalted("reconnect attempts exhausted, use /restart to retry")
		}
		return
	}

	c.logger.Warn("connection lost, reconnecting",
		zap.Int("attempt", c.machine.ReconnectAttempts()),
		zap.Duration("delay", delay),
	)

	c.mu.Lock()
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
	}
	c.reconnectTimer = time.AfterFunc(delay, func() {
		if c.wm.IsConnected() {
			return
		}
		if err := c.wm.Connect(); err != nil {
			c.logger.Error("reconnect failed", zap.Error(err))
			c.scheduleReconnect()
		}
	})
	c.mu.Unlock()
}

func (c *Client) handleEvent(rawEvt interface{}) {
	obs := c.getObserver()

	switch v := rawEvt.(type) {
	case *events.Connected:
		c.setState(StateReady)

	case *events.StreamReplaced:
		c.logger.Warn("stream replaced by another session")
		c.setState(StateDisconnected)

	case *events.Disconnected:
		if c.machine.Current() == StateReady {
			c.setState(StateReconnecting)
		}
		c.scheduleReconnect()

	case *events.LoggedOut:
		c.logger.Warn("logged out remotely", zap.Stringer("reason", v.Reason))
		c.setState(StateLoggedOut)

	case *events.Message:
		c.handleMessage(v, obs)

	case *events.Receipt:
		if obs == nil || c.shouldIgnore(v.Chat) {
			return
		}
		ids := make([]string, 0, len(v.MessageIDs))
		for _, id := range v.MessageIDs {
			ids = append(ids, string(id))
		}
		obs.OnAck(AckEvent{
			ChatJID:    v.Chat.String(),
			SenderJID:  v.Sender.ToNonAD().String(),
			MessageIDs: ids,
			Type:       normalizeReceiptType(*v),
			Timestamp:  v.Timestamp,
		})

	case *events.CallOffer:
		if obs != nil {
			obs.OnCall(CallEvent{
				CallID:    v.CallID,
				FromJID:   v.From.ToNonAD().String(),
				Type:      CallOffer,
				Timestamp: v.Timestamp,
			})
		}

	case *events.CallTerminate:
		if obs != nil {
			obs.OnCall(CallEvent{
				CallID:    v.CallID,
				FromJID:   v.From.ToNonAD().String(),
				Type:      CallTerminate,
				Timestamp: v.Timestamp,
			})
		}

	case *events.GroupInfo:
		if obs != nil && v.Name != nil {
			obs.OnGroupChange(GroupChangeEvent{
				ChatJID: v.JID.String(),
				Name:    v.Name.Name,
			})
		}
	}
}

func (c *Client) handleMessage(v *events.Message, obs EventObserver) {
	if obs == nil || c.shouldIgnore(v.Info.Chat) {
		return
	}

	if rm := v.Message.GetReactionMessage(); rm != nil {
		obs.OnReaction(ReactionEvent{
			TargetMsgID: rm.GetKey().GetID(),
			ChatJID:     v.Info.Chat.String(),
			ReactorJID:  v.Info.MessageSource.Sender.ToNonAD().String(),
			Emoji:       rm.GetText(),
			Removed:     rm.GetText() == "",
			IsFromMe:    v.Info.IsFromMe,
		})
		return
	}

	if pm := v.Message.GetProtocolMessage(); pm != nil &&
		pm.GetType() == waE2E.ProtocolMessage_REVOKE {
		obs.OnRevoke(RevokeEvent{
			TargetMsgID: pm.GetKey().GetID(),
			ChatJID:     v.Info.Chat.String(),
			SenderJID:   v.Info.MessageSource.Sender.ToNonAD().String(),
		})
		return
	}

	obs.OnMessage(normalizeMessage(v))
}

func (c *Client) shouldIgnore(chat types.JID) bool {
	if c.skipStatus && chat.String() == types.StatusBroadcastJID.String() {
		return true
	}
	return slices.Contains(c.ignoreChats, chat.User)
}

// SendText delivers a plain text message and returns the new message id.
func (c *Client) SendText(ctx context.Context, toJID, body string) (string, error) {
	jid, err := types.ParseJID(toJID)
	if err != nil {
		return "", fmt.Errorf("bad recipient %q: %w", toJID, err)
	}
	resp, err := c.wm.SendMessage(ctx, jid, &waE2E.Message{
		Conversation: proto.String(body),
	})
	if err != nil {
		return "", fmt.Errorf("failed to send message to %s: %w", toJID, err)
	}
	return string(resp.ID), nil
}

// SendMedia uploads data and delivers it with the right message shape for
// its kind. Kinds without a dedicated shape go out as documents.
func (c *Client) SendMedia(ctx context.Context, toJID string, kind MessageKind, data []byte, mimeType, fileName, caption string) (string, error) {
	jid, err := types.ParseJID(toJID)
	if err != nil {
		return "", fmt.Errorf("bad recipient %q: %w", toJID, err)
	}

	var mediaType whatsmeow.MediaType
	switch kind {
	case KindImage:
		mediaType = whatsmeow.MediaImage
	case KindVideo, KindGif:
		mediaType = whatsmeow.MediaVideo
	case KindAudio, KindVoice:
		mediaType = whatsmeow.MediaAudio
	default:
		mediaType = whatsmeow.MediaDocument
	}

	uploaded, err := c.wm.Upload(ctx, data, mediaType)
	if err != nil {
		return "", fmt.Errorf("media upload failed: %w", err)
	}

	fileLength := uint64(len(data))
	msg := &waE2E.Message{}
	switch mediaType {
	case whatsmeow.MediaImage:
		msg.ImageMessage = &waE2E.ImageMessage{
			Caption:       proto.String(caption),
			Mimetype:      proto.String(mimeType),
			URL:           proto.String(uploaded.URL),
			DirectPath:    proto.String(uploaded.DirectPath),
			MediaKey:      uploaded.MediaKey,
			FileEncSHA256: uploaded.FileEncSHA256,
			FileSHA256:    uploaded.FileSHA256,
			FileLength:    proto.Uint64(fileLength),
		}
	case whatsmeow.MediaVideo:
		msg.VideoMessage = &waE2E.VideoMessage{
			Caption:       proto.String(caption),
			Mimetype:      proto.String(mimeType),
			URL:           proto.String(uploaded.URL),
			DirectPath:    proto.String(uploaded.DirectPath),
			MediaKey:      uploaded.MediaKey,
			FileEncSHA256: uploaded.FileEncSHA256,
			FileSHA256:    uploaded.FileSHA256,
			FileLength:    proto.Uint64(fileLength),
		}
	case whatsmeow.MediaAudio:
		msg.AudioMessage = &waE2E.AudioMessage{
			Mimetype:      proto.String(mimeType),
			PTT:           proto.Bool(kind == KindVoice),
			URL:           proto.String(uploaded.URL),
			DirectPath:    proto.String(uploaded.DirectPath),
			MediaKey:      uploaded.MediaKey,
			FileEncSHA256: uploaded.FileEncSHA256,
			FileSHA256:    uploaded.FileSHA256,
			FileLength:    proto.Uint64(fileLength),
		}
	default:
		msg.DocumentMessage = &waE2E.DocumentMessage{
			Caption:       proto.String(caption),
			FileName:      proto.String(fileName),
			Mimetype:      proto.String(mimeType),
			URL:           proto.String(uploaded.URL),
			DirectPath:    proto.String(uploaded.DirectPath),
			MediaKey:      uploaded.MediaKey,
			FileEncSHA256: uploaded.FileEncSHA256,
			FileSHA256:    uploaded.FileSHA256,
			FileLength:    proto.Uint64(fileLength),
		}
	}

	resp, err := c.wm.SendMessage(ctx, jid, msg)
	if err != nil {
		return "", fmt.Errorf("failed to send media to %s: %w", toJID, err)
	}
	return string(resp.ID), nil
}

// SendReaction puts emoji on the target message; an empty emoji removes the
// previous reaction.
func (c *Client) SendReaction(ctx context.Context, chatJID, senderJID, targetMsgID, emoji string) error {
	chat, err := types.ParseJID(chatJID)
	if err != nil {
		return fmt.Errorf("bad chat %q: %w", chatJID, err)
	}
	sender, err := types.ParseJID(senderJID)
	if err != nil {
		return fmt.Errorf("bad sender %q: %w", senderJID, err)
	}
	_, err = c.wm.SendMessage(ctx, chat,
		c.wm.BuildReaction(chat, sender, types.MessageID(targetMsgID), emoji))
	if err != nil {
		return fmt.Errorf("failed to send reaction: %w", err)
	}
	return nil
}

// RevokeMessage deletes one of our own messages for everyone.
func (c *Client) RevokeMessage(ctx context.Context, chatJID, targetMsgID string) error {
	chat, err := types.ParseJID(chatJID)
	if err != nil {
		return fmt.Errorf("bad chat %q: %w", chatJID, err)
	}
	_, err = c.wm.SendMessage(ctx, chat,
		c.wm.BuildRevoke(chat, types.EmptyJID, types.MessageID(targetMsgID)))
	if err != nil {
		return fmt.Errorf("failed to revoke message: %w", err)
	}
	return nil
}

// EditMessage rewrites one of our own text messages.
func (c *Client) EditMessage(ctx context.Context, chatJID, targetMsgID, newBody string) error {
	chat, err := types.ParseJID(chatJID)
	if err != nil {
		return fmt.Errorf("bad chat %q: %w", chatJID, err)
	}
	_, err = c.wm.SendMessage(ctx, chat,
		c.wm.BuildEdit(chat, types.MessageID(targetMsgID), &waE2E.Message{
			Conversation: proto.String(newBody),
		}))
	if err != nil {
		return fmt.Errorf("failed to edit message: %w", err)
	}
	return nil
}

// MarkRead acknowledges inbound messages so the sender sees blue ticks.
func (c *Client) MarkRead(chatJID, senderJID string, messageIDs []string) error {
	chat, err := types.ParseJID(chatJID)
	if err != nil {
		return fmt.Errorf("bad chat %q: %w", chatJID, err)
	}
	sender, err := types.ParseJID(senderJID)
	if err != nil {
		return fmt.Errorf("bad sender %q: %w", senderJID, err)
	}
	ids := make([]types.MessageID, 0, len(messageIDs))
	for _, id := range messageIDs {
		ids = append(ids, types.MessageID(id))
	}
	return c.wm.MarkRead(ids, time.Now(), chat, sender)
}

// StoredContact is a name snapshot from the device's contact store.
type StoredContact struct {
	JID       string
	SavedName string
	PushName  string
}

// AllContacts dumps the device contact store, used by the periodic
// directory sync job.
func (c *Client) AllContacts(ctx context.Context) ([]StoredContact, error) {
	if !c.LoggedIn() {
		return nil, fmt.Errorf("not logged in")
	}
	stored, err := c.wm.Store.Contacts.GetAllContacts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read contact store: %w", err)
	}
	out := make([]StoredContact, 0, len(stored))
	for jid, info := range stored {
		out = append(out, StoredContact{
			JID:       jid.ToNonAD().String(),
			SavedName: info.FullName,
			PushName:  info.PushName,
		})
	}
	return out, nil
}

// DownloadMedia fetches the attachment bytes behind a MediaRef.
func (c *Client) DownloadMedia(ctx context.Context, ref *MediaRef) ([]byte, error) {
	if ref == nil {
		return nil, fmt.Errorf("no media attached")
	}
	downloadable, ok := ref.raw.(whatsmeow.DownloadableMessage)
	if !ok {
		return nil, fmt.Errorf("media payload is not downloadable")
	}
	data, err := c.wm.Download(ctx, downloadable)
	if err != nil {
		return nil, fmt.Errorf("media download failed: %w", err)
	}
	return data, nil
}

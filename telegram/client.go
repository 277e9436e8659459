// Package telegram owns the bot: the forum supergroup the bridge posts
// into, topic management, and the operator command surface.
package telegram

import (
	"bytes"
	"fmt"
	"html"
	"net/http"
	"time"

	"github.com/PaulSonOfLars/gotgbot/v2"
	"github.com/PaulSonOfLars/gotgbot/v2/ext"
	qrcode "github.com/skip2/go-qrcode"
	"go.uber.org/zap"

	"wagrambridge/config"
	"wagrambridge/telegram/middlewares"
)

type Client struct {
	Bot        *gotgbot.Bot
	Dispatcher *ext.Dispatcher
	updater    *ext.Updater
	logger     *zap.Logger

	targetChatID int64
	ownerID      int64
}

func NewClient(cfg *config.Config, logger *zap.Logger) (*Client, error) {
	bot, err := gotgbot.NewBot(cfg.Telegram.BotToken, &gotgbot.BotOpts{
		BotClient: &gotgbot.BaseBotClient{
			Client: http.Client{},
			DefaultRequestOpts: &gotgbot.RequestOpts{
				Timeout: gotgbot.DefaultTimeout,
				APIURL:  cfg.Telegram.APIURL,
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("could not initialize bot: %w", err)
	}

	bot.UseMiddleware(middlewares.ParseAsHTML)
	bot.UseMiddleware(middlewares.SendWithoutReply)
	bot.UseMiddleware(middlewares.AutoHandleRateLimit)

	dispatcher := ext.NewDispatcher(&ext.DispatcherOpts{
		Error: func(_ *gotgbot.Bot, _ *ext.Context, err error) ext.DispatcherAction {
			logger.Error("error while handling update", zap.Error(err))
			return ext.DispatcherActionNoop
		},
		MaxRoutines: ext.DefaultMaxRoutines,
	})

	return &Client{
		Bot:          bot,
		Dispatcher:   dispatcher,
		updater:      ext.NewUpdater(dispatcher, nil),
		logger:       logger,
		targetChatID: cfg.Telegram.TargetChatID,
		ownerID:      cfg.Telegram.OwnerID,
	}, nil
}

func (c *Client) StartPolling() error {
	err := c.updater.StartPolling(c.Bot, &ext.PollingOpts{
		DropPendingUpdates: true,
		GetUpdatesOpts: &gotgbot.GetUpdatesOpts{
			Timeout: 9,
			RequestOpts: &gotgbot.RequestOpts{
				Timeout: time.Second * 10,
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to start polling: %w", err)
	}
	c.logger.Info("telegram polling started", zap.String("bot", c.Bot.Username))
	return nil
}

// Idle blocks until polling stops.
func (c *Client) Idle() {
	c.updater.Idle()
}

func (c *Client) TargetChatID() int64 { return c.targetChatID }

func (c *Client) IsOwner(userID int64) bool { return userID == c.ownerID }

// CreateTopic opens a forum topic in the target supergroup and returns its
// thread id. Satisfies the topic creator the contact mapper needs.
func (c *Client) CreateTopic(title string) (int64, error) {
	topic, err := c.Bot.CreateForumTopic(c.targetChatID, title, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create forum topic %q: %w", title, err)
	}
	// Intro message so the topic is not empty and the link is visible in
	// the chat history even after later renames.
	_, _ = c.SendText(topic.MessageThreadId,
		fmt.Sprintf("🔗 This topic is now linked to <b>%s</b>", html.EscapeString(title)), false)
	return topic.MessageThreadId, nil
}

// RenameTopic keeps the topic title in sync with a contact's display name.
func (c *Client) RenameTopic(threadID int64, title string) error {
	_, err := c.Bot.EditForumTopic(c.targetChatID, threadID, &gotgbot.EditForumTopicOpts{
		Name: title,
	})
	if err != nil {
		return fmt.Errorf("failed to rename topic %d: %w", threadID, err)
	}
	return nil
}

// SendText posts HTML into a topic; threadID 0 goes to the general topic.
// Silent sends skip the client-side notification, used for muted contacts.
func (c *Client) SendText(threadID int64, html string, silent bool) (int64, error) {
	msg, err := c.Bot.SendMessage(c.targetChatID, html, &gotgbot.SendMessageOpts{
		MessageThreadId:     threadID,
		DisableNotification: silent,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to send message to topic %d: %w", threadID, err)
	}
	return msg.MessageId, nil
}

func (c *Client) SendPhoto(threadID int64, data []byte, caption string, silent bool) (int64, error) {
	msg, err := c.Bot.SendPhoto(c.targetChatID,
		gotgbot.InputFileByReader("photo.jpg", bytes.NewReader(data)),
		&gotgbot.SendPhotoOpts{
			MessageThreadId:     threadID,
			Caption:             caption,
			DisableNotification: silent,
		})
	if err != nil {
		return 0, fmt.Errorf("failed to send photo to topic %d: %w", threadID, err)
	}
	return msg.MessageId, nil
}

func (c *Client) SendVideo(threadID int64, data []byte, caption string, silent bool) (int64, error) {
	msg, err := c.Bot.SendVideo(c.targetChatID,
		gotgbot.InputFileByReader("video.mp4", bytes.NewReader(data)),
		&gotgbot.SendVideoOpts{
			MessageThreadId:     threadID,
			Caption:             caption,
			DisableNotification: silent,
		})
	if err != nil {
		return 0, fmt.Errorf("failed to send video to topic %d: %w", threadID, err)
	}
	return msg.MessageId, nil
}

func (c *Client) SendAudio(threadID int64, data []byte, fileName string, voiceNote, silent bool) (int64, error) {
	if voiceNote {
		msg, err := c.Bot.SendVoice(c.targetChatID,
			gotgbot.InputFileByReader("voice.ogg", bytes.NewReader(data)),
			&gotgbot.SendVoiceOpts{MessageThreadId: threadID, DisableNotification: silent})
		if err != nil {
			return 0, fmt.Errorf("failed to send voice note to topic %d: %w", threadID, err)
		}
		return msg.MessageId, nil
	}
	if fileName == "" {
		fileName = "audio.mp3"
	}
	msg, err := c.Bot.SendAudio(c.targetChatID,
		gotgbot.InputFileByReader(fileName, bytes.NewReader(data)),
		&gotgbot.SendAudioOpts{MessageThreadId: threadID, DisableNotification: silent})
	if err != nil {
		return 0, fmt.Errorf("failed to send audio to topic %d: %w", threadID, err)
	}
	return msg.MessageId, nil
}

func (c *Client) SendDocument(threadID int64, data []byte, fileName, caption string, silent bool) (int64, error) {
	if fileName == "" {
		fileName = "file.bin"
	}
	msg, err := c.Bot.SendDocument(c.targetChatID,
		gotgbot.InputFileByReader(fileName, bytes.NewReader(data)),
		&gotgbot.SendDocumentOpts{
			MessageThreadId:     threadID,
			Caption:             caption,
			DisableNotification: silent,
		})
	if err != nil {
		return 0, fmt.Errorf("failed to send document to topic %d: %w", threadID, err)
	}
	return msg.MessageId, nil
}

func (c *Client) SendLocation(threadID int64, latitude, longitude float64, silent bool) (int64, error) {
	msg, err := c.Bot.SendLocation(c.targetChatID, latitude, longitude,
		&gotgbot.SendLocationOpts{MessageThreadId: threadID, DisableNotification: silent})
	if err != nil {
		return 0, fmt.Errorf("failed to send location to topic %d: %w", threadID, err)
	}
	return msg.MessageId, nil
}

// SendQRCode renders a login QR code as a PNG and posts it.
func (c *Client) SendQRCode(threadID int64, code string) (int64, error) {
	png, err := qrcode.Encode(code, qrcode.Medium, 512)
	if err != nil {
		return 0, fmt.Errorf("failed to render QR code: %w", err)
	}
	msg, err := c.Bot.SendPhoto(c.targetChatID,
		gotgbot.InputFileByReader("qr.png", bytes.NewReader(png)),
		&gotgbot.SendPhotoOpts{
			MessageThreadId: threadID,
			Caption:         "Scan this QR code from WhatsApp on your phone",
		})
	if err != nil {
		return 0, fmt.Errorf("failed to send QR code: %w", err)
	}
	return msg.MessageId, nil
}

// SetReaction puts a single emoji reaction on a bridged message. Empty
// emoji clears the reaction.
func (c *Client) SetReaction(messageID int64, emoji string) error {
	var reaction []gotgbot.ReactionType
	if emoji != "" {
		reaction = []gotgbot.ReactionType{gotgbot.ReactionTypeEmoji{Emoji: emoji}}
	}
	_, err := c.Bot.SetMessageReaction(c.targetChatID, messageID,
		&gotgbot.SetMessageReactionOpts{Reaction: reaction})
	if err != nil {
		return fmt.Errorf("failed to set reaction on %d: %w", messageID, err)
	}
	return nil
}

func (c *Client) EditText(messageID int64, html string) error {
	_, _, err := c.Bot.EditMessageText(html, &gotgbot.EditMessageTextOpts{
		ChatId:    c.targetChatID,
		MessageId: messageID,
	})
	if err != nil {
		return fmt.Errorf("failed to edit message %d: %w", messageID, err)
	}
	return nil
}

func (c *Client) DeleteMessage(messageID int64) error {
	_, err := c.Bot.DeleteMessage(c.targetChatID, messageID, nil)
	if err != nil {
		return fmt.Errorf("failed to delete message %d: %w", messageID, err)
	}
	return nil
}

// RegisterCommands publishes the command list shown in the Telegram UI.
func (c *Client) RegisterCommands(commands []gotgbot.BotCommand) error {
	_, err := c.Bot.SetMyCommands(commands, nil)
	if err != nil {
		return fmt.Errorf("failed to set bot commands: %w", err)
	}
	return nil
}

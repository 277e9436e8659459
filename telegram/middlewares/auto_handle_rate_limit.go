package middlewares

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/PaulSonOfLars/gotgbot/v2"
)

type autoHandleRateLimitBotClient struct {
	gotgbot.BotClient
}

func (b *autoHandleRateLimitBotClient) RequestWithContext(ctx context.Context,
	token string, method string, params map[string]string,
	data map[string]gotgbot.FileReader,
	opts *gotgbot.RequestOpts) (json.RawMessage, error) {

	for {
		response, err := b.BotClient.RequestWithContext(ctx, token, method, params, data, opts)
		if err == nil {
			return response, nil
		}

		tgError, ok := err.(*gotgbot.TelegramError)
		if !ok || tgError.Code != 429 || tgError.ResponseParams == nil {
			return response, err
		}

		retryAfter := tgError.ResponseParams.RetryAfter
		if retryAfter <= 0 {
			retryAfter = 1
		}
		log.Printf("[auto_handle_rate_limit] sleeping for %v seconds", retryAfter)
		select {
		case <-time.After(time.Second * time.Duration(retryAfter)):
		case <-ctx.Done():
			return response, ctx.Err()
		}
	}
}

// AutoHandleRateLimit retries requests that hit Telegram's flood limits
// after the wait the server asks for.
func AutoHandleRateLimit(b gotgbot.BotClient) gotgbot.BotClient {
	return &autoHandleRateLimitBotClient{b}
}

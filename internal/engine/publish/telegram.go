// Package publish posts videos and messages to Telegram chats through the
// Bot API.
package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"

	"github.com/anatolykoptev/go_iwara/internal/engine"
)

// BotConfig configures the Bot API connection.
type BotConfig struct {
	Token     string
	APIServer string // "" = https://api.telegram.org; a local server lifts the upload limit
	Timeout   time.Duration
	Client    *http.Client
}

// NewBot connects to the Bot API and verifies the token with getMe.
func NewBot(cfg BotConfig) (*tgbotapi.BotAPI, error) {
	if cfg.Token == "" {
		return nil, errors.New("telegram: empty token")
	}
	server := strings.TrimRight(cfg.APIServer, "/")
	if server == "" {
		server = "https://api.telegram.org"
	}
	client := cfg.Client
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 300 * time.Second
		}
		client = engine.NewHTTPClient(timeout)
	}
	bot, err := tgbotapi.NewBotAPIWithClient(cfg.Token, server+"/bot%s/%s", client)
	if err != nil {
		return nil, fmt.Errorf("telegram: connect: %w", err)
	}
	slog.Info("telegram: connected", slog.String("bot", bot.Self.UserName))
	return bot, nil
}

// VideoPost is one video upload with its caption.
type VideoPost struct {
	Path      string
	ThumbPath string // "" = let Telegram pick a frame
	Caption   string // HTML
	Duration  time.Duration
	Width     int // 0 = unknown
	Height    int
}

// Message is a text post. HTML selects the HTML parse mode.
type Message struct {
	Text    string
	HTML    bool
	ReplyTo int
}

// Publisher is the destination side of the pipeline.
type Publisher interface {
	PublishVideo(ctx context.Context, post VideoPost) (int, error)
	PublishMessage(ctx context.Context, msg Message) (int, error)
	EditMessage(ctx context.Context, messageID int, text string) error
	DeleteMessage(ctx context.Context, messageID int) error
}

// Chat publishes into one chat or channel. Calls are spaced by a limiter.
type Chat struct {
	bot      *tgbotapi.BotAPI
	chatID   int64
	username string // @channel form
	limiter  *rate.Limiter
}

// NewChat targets chat, given as a numeric id or an @channel username.
// interval is the minimum spacing between API calls (0 = unlimited).
func NewChat(bot *tgbotapi.BotAPI, chat string, interval time.Duration) (*Chat, error) {
	c := &Chat{bot: bot, limiter: rate.NewLimiter(rate.Inf, 1)}
	if interval > 0 {
		c.limiter = rate.NewLimiter(rate.Every(interval), 1)
	}
	chat = strings.TrimSpace(chat)
	switch {
	case chat == "":
		return nil, errors.New("telegram: empty chat id")
	case strings.HasPrefix(chat, "@"):
		c.username = chat
	default:
		id, err := strconv.ParseInt(chat, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("telegram: chat id %q: %w", chat, err)
		}
		c.chatID = id
	}
	return c, nil
}

func (c *Chat) base(replyTo int) tgbotapi.BaseChat {
	return tgbotapi.BaseChat{ChatID: c.chatID, ChannelUsername: c.username, ReplyToMessageID: replyTo}
}

func (c *Chat) wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.limiter.Wait(ctx)
}

// PublishVideo uploads a video and returns its message id. The caption is
// sent as given; callers keep it within CaptionLimit.
func (c *Chat) PublishVideo(ctx context.Context, post VideoPost) (int, error) {
	files := []tgbotapi.RequestFile{{Name: "video", Data: tgbotapi.FilePath(post.Path)}}
	if post.ThumbPath != "" {
		files = append(files, tgbotapi.RequestFile{Name: "thumb", Data: tgbotapi.FilePath(post.ThumbPath)})
	}
	return c.withFallback("sendVideo", func(parseMode string) (int, error) {
		params, err := c.videoParams(post, parseMode)
		if err != nil {
			return 0, err
		}
		return c.upload(ctx, "sendVideo", params, files)
	})
}

// videoParams carries the fields VideoConfig has no room for (width, height).
func (c *Chat) videoParams(post VideoPost, parseMode string) (tgbotapi.Params, error) {
	params := tgbotapi.Params{}
	if err := params.AddFirstValid("chat_id", c.chatID, c.username); err != nil {
		return nil, fmt.Errorf("telegram: chat id: %w", err)
	}
	params.AddNonZero("duration", int(post.Duration.Round(time.Second)/time.Second))
	params.AddNonZero("width", post.Width)
	params.AddNonZero("height", post.Height)
	params.AddNonEmpty("caption", post.Caption)
	params.AddNonEmpty("parse_mode", parseMode)
	params.AddBool("supports_streaming", true)
	return params, nil
}

// PublishMessage sends a text message and returns its id.
func (c *Chat) PublishMessage(ctx context.Context, msg Message) (int, error) {
	send := func(parseMode string) (int, error) {
		return c.send(ctx, "sendMessage", tgbotapi.MessageConfig{
			BaseChat:  c.base(msg.ReplyTo),
			Text:      engine.TruncateRunes(msg.Text, engine.MessageLimit, ""),
			ParseMode: parseMode,
		})
	}
	if !msg.HTML {
		return send("")
	}
	return c.withFallback("sendMessage", send)
}

// EditMessage replaces the text of a plain-text message.
func (c *Chat) EditMessage(ctx context.Context, messageID int, text string) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	edit := tgbotapi.EditMessageTextConfig{
		BaseEdit: tgbotapi.BaseEdit{ChatID: c.chatID, ChannelUsername: c.username, MessageID: messageID},
		Text:     engine.TruncateRunes(text, engine.MessageLimit, ""),
	}
	_, err := c.bot.Request(edit)
	engine.IncrTelegramCall("editMessageText", err)
	if err != nil {
		return fmt.Errorf("telegram editMessageText %d: %w", messageID, err)
	}
	return nil
}

// DeleteMessage removes a message.
func (c *Chat) DeleteMessage(ctx context.Context, messageID int) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	del := tgbotapi.DeleteMessageConfig{ChatID: c.chatID, ChannelUsername: c.username, MessageID: messageID}
	_, err := c.bot.Request(del)
	engine.IncrTelegramCall("deleteMessage", err)
	if err != nil {
		return fmt.Errorf("telegram deleteMessage %d: %w", messageID, err)
	}
	return nil
}

// withFallback sends with HTML parse mode and retries once as plain text
// when Telegram rejects the markup.
func (c *Chat) withFallback(method string, send func(parseMode string) (int, error)) (int, error) {
	id, err := send(tgbotapi.ModeHTML)
	if err == nil || !IsParseError(err) {
		return id, err
	}
	slog.Warn("telegram: HTML rejected, sending as plain text",
		slog.String("method", method), slog.Any("error", err))
	return send("")
}

func (c *Chat) send(ctx context.Context, method string, msg tgbotapi.Chattable) (int, error) {
	if err := c.wait(ctx); err != nil {
		return 0, err
	}
	sent, err := c.bot.Send(msg)
	engine.IncrTelegramCall(method, err)
	if err != nil {
		return 0, fmt.Errorf("telegram %s: %w", method, err)
	}
	return sent.MessageID, nil
}

func (c *Chat) upload(ctx context.Context, method string, params tgbotapi.Params, files []tgbotapi.RequestFile) (int, error) {
	if err := c.wait(ctx); err != nil {
		return 0, err
	}
	resp, err := c.bot.UploadFiles(method, params, files)
	engine.IncrTelegramCall(method, err)
	if err != nil {
		return 0, fmt.Errorf("telegram %s: %w", method, err)
	}
	var msg tgbotapi.Message
	if err := json.Unmarshal(resp.Result, &msg); err != nil {
		return 0, fmt.Errorf("telegram %s: decode result: %w", method, err)
	}
	return msg.MessageID, nil
}

// --- error classification ---

func apiMessage(err error) string {
	var te *tgbotapi.Error
	if errors.As(err, &te) {
		return strings.ToLower(te.Message)
	}
	if err == nil {
		return ""
	}
	return strings.ToLower(err.Error())
}

// IsNotModified reports an edit whose text equals the current text.
func IsNotModified(err error) bool {
	return err != nil && strings.Contains(apiMessage(err), "message is not modified")
}

// IsMessageNotFound reports an edit or delete of a message that no longer exists.
func IsMessageNotFound(err error) bool {
	if err == nil {
		return false
	}
	m := apiMessage(err)
	return strings.Contains(m, "message to edit not found") || strings.Contains(m, "message to delete not found")
}

// IsParseError reports rejected HTML markup.
func IsParseError(err error) bool {
	return err != nil && strings.Contains(apiMessage(err), "can't parse entities")
}

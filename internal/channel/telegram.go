package channel

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/immanencer/ratimint/internal/config"
	"github.com/immanencer/ratimint/internal/relay"
)

const telegramChannelName = "telegram"

// botTimeout bounds every bot API call, including Deliver's sends; a hung
// connection must fail the cycle, not stall the outbound loop. Must stay
// above the 30s GetUpdates long poll.
const botTimeout = 60 * time.Second

// TelegramBot interface for mocking telegram bot API
type TelegramBot interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetSelf() tgbotapi.User
	GetFile(config tgbotapi.FileConfig) (tgbotapi.File, error)
}

// tgBotWrapper wraps tgbotapi.BotAPI to implement TelegramBot interface
type tgBotWrapper struct {
	bot *tgbotapi.BotAPI
}

func (w *tgBotWrapper) GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return w.bot.GetUpdatesChan(config)
}

func (w *tgBotWrapper) StopReceivingUpdates() {
	w.bot.StopReceivingUpdates()
}

func (w *tgBotWrapper) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	return w.bot.Send(c)
}

func (w *tgBotWrapper) GetSelf() tgbotapi.User {
	return w.bot.Self
}

func (w *tgBotWrapper) GetFile(config tgbotapi.FileConfig) (tgbotapi.File, error) {
	return w.bot.GetFile(config)
}

// BotFactory creates TelegramBot instances (allows mocking)
type BotFactory func(token, apiEndpoint string, client *http.Client) (TelegramBot, error)

// defaultBotFactory creates real telegram bot
var defaultBotFactory BotFactory = func(token, apiEndpoint string, client *http.Client) (TelegramBot, error) {
	bot, err := tgbotapi.NewBotAPIWithClient(token, apiEndpoint, client)
	if err != nil {
		return nil, err
	}
	return &tgBotWrapper{bot: bot}, nil
}

type TelegramChannel struct {
	BaseChannel
	token      string
	bot        TelegramBot
	proxy      string
	debug      bool
	uploader   Uploader
	httpClient *http.Client
	cancel     context.CancelFunc
	botFactory BotFactory

	greeted bool // debug-mode "bot online" task sent
}

func NewTelegramChannel(cfg config.TelegramConfig, store Store, uploader Uploader) (*TelegramChannel, error) {
	return NewTelegramChannelWithFactory(cfg, store, uploader, defaultBotFactory)
}

// NewTelegramChannelWithFactory creates a TelegramChannel with custom bot factory (for testing)
func NewTelegramChannelWithFactory(cfg config.TelegramConfig, store Store, uploader Uploader, factory BotFactory) (*TelegramChannel, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("telegram token is required")
	}

	ch := &TelegramChannel{
		BaseChannel: NewBaseChannel(telegramChannelName, store, cfg.AllowFrom),
		token:       cfg.Token,
		proxy:       cfg.Proxy,
		debug:       cfg.Debug,
		uploader:    uploader,
		httpClient:  &http.Client{Timeout: botTimeout},
		botFactory:  factory,
	}
	return ch, nil
}

func (t *TelegramChannel) initBot() error {
	client := &http.Client{Timeout: botTimeout}
	if t.proxy != "" {
		proxyURL, err := url.Parse(t.proxy)
		if err != nil {
			return fmt.Errorf("parse proxy url: %w", err)
		}
		client.Transport = &http.Transport{Proxy: http.ProxyURL(proxyURL)}
	}
	t.httpClient = client

	bot, err := t.botFactory(t.token, tgbotapi.APIEndpoint, client)
	if err != nil {
		return fmt.Errorf("create telegram bot: %w", err)
	}
	t.bot = bot
	log.Printf("[telegram] authorized as @%s", bot.GetSelf().UserName)
	return nil
}

func (t *TelegramChannel) Start(ctx context.Context) error {
	if err := t.initBot(); err != nil {
		return err
	}

	ctx, t.cancel = context.WithCancel(ctx)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := t.bot.GetUpdatesChan(u)

	go func() {
		for {
			select {
			case update := <-updates:
				if update.Message == nil {
					continue
				}
				t.handleMessage(ctx, update.Message)
			case <-ctx.Done():
				return
			}
		}
	}()

	log.Printf("[telegram] polling started")
	return nil
}

// handleMessage normalizes one inbound turn and appends it to the log.
// Failures are reported but never stop the listener.
func (t *TelegramChannel) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	// The bot's own sends come back through the update stream; dropping them
	// here keeps self-authored turns from ever entering the log twice.
	if msg.From == nil || msg.From.ID == t.bot.GetSelf().ID {
		return
	}

	senderID := strconv.FormatInt(msg.From.ID, 10)
	if !t.IsAllowed(senderID) {
		log.Printf("[telegram] rejected message from %s (%s)", senderID, msg.From.UserName)
		return
	}

	author := msg.From.UserName
	if author == "" {
		author = senderID
	}

	text := msg.Text
	if text == "" && msg.Caption != "" {
		text = msg.Caption
	}

	mediaURL := ""
	if len(msg.Photo) > 0 {
		photo := msg.Photo[len(msg.Photo)-1]
		url, err := t.storeAttachment(ctx, photo.FileID, ".jpg")
		if err != nil {
			log.Printf("[telegram] photo %s: %v", photo.FileID, err)
		} else {
			mediaURL = url
		}
	} else if msg.Video != nil {
		url, err := t.storeAttachment(ctx, msg.Video.FileID, ".mp4")
		if err != nil {
			log.Printf("[telegram] video %s: %v", msg.Video.FileID, err)
		} else {
			mediaURL = url
		}
	}

	if text == "" && mediaURL == "" {
		return
	}

	destination := msg.Chat.Title
	if destination == "" {
		destination = "private"
	}

	entry := relay.Message{
		Channel:     strconv.FormatInt(msg.Chat.ID, 10),
		Author:      author,
		Text:        text,
		MediaURL:    mediaURL,
		Time:        int64(msg.Date),
		Destination: destination,
	}
	if err := t.store.AppendMessage(ctx, entry); err != nil {
		log.Printf("[telegram] log message: %v", err)
	}

	if t.debug && !t.greeted {
		t.greeted = true
		task := relay.Task{
			Type:         telegramChannelName,
			ChannelID:    entry.Channel,
			ResponseText: "Bot online",
		}
		if err := t.store.EnqueueTask(ctx, task); err != nil {
			log.Printf("[telegram] debug task: %v", err)
		} else {
			log.Printf("[telegram] debug task created: bot online message scheduled")
		}
	}
}

// storeAttachment downloads a telegram file to the scratch dir, hands it to
// the uploader and returns the public URL that replaces the raw attachment.
func (t *TelegramChannel) storeAttachment(ctx context.Context, fileID, ext string) (string, error) {
	if t.uploader == nil {
		return "", fmt.Errorf("no uploader configured")
	}

	localPath := t.uploader.TmpPath(fileID + ext)
	if err := t.downloadFile(ctx, fileID, localPath); err != nil {
		return "", err
	}
	defer os.Remove(localPath)

	url, err := t.uploader.Upload(ctx, localPath)
	if err != nil {
		return "", fmt.Errorf("upload attachment: %w", err)
	}
	return url, nil
}

func (t *TelegramChannel) downloadFile(ctx context.Context, fileID, localPath string) error {
	if t.bot == nil {
		return fmt.Errorf("telegram bot not initialized")
	}

	file, err := t.bot.GetFile(tgbotapi.FileConfig{FileID: fileID})
	if err != nil {
		return fmt.Errorf("get telegram file: %w", err)
	}

	client := t.httpClient
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, file.Link(t.token), nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("download telegram file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download telegram file: unexpected status %d", resp.StatusCode)
	}

	if err := os.MkdirAll(filepath.Dir(localPath), 0755); err != nil {
		return fmt.Errorf("create tmp dir: %w", err)
	}
	out, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("create %s: %w", localPath, err)
	}
	defer out.Close()

	n, err := io.Copy(out, resp.Body)
	if err != nil {
		return fmt.Errorf("write telegram file: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("telegram file is empty")
	}
	return nil
}

func (t *TelegramChannel) Stop() error {
	if t.cancel != nil {
		t.cancel()
	}
	if t.bot != nil {
		t.bot.StopReceivingUpdates()
	}
	log.Printf("[telegram] stopped")
	return nil
}

// SetBot sets the bot (for testing)
func (t *TelegramChannel) SetBot(bot TelegramBot) {
	t.bot = bot
}

func (t *TelegramChannel) Deliver(task relay.Task) error {
	if t.bot == nil {
		return fmt.Errorf("telegram bot not initialized")
	}

	chatID, err := strconv.ParseInt(task.ChannelID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat id %q: %w", task.ChannelID, err)
	}

	// Telegram has a 4096 char limit per message
	const maxLen = 4000
	content := task.ResponseText
	for len(content) > 0 {
		chunk := content
		if len(chunk) > maxLen {
			// Try to split at last newline before maxLen
			idx := strings.LastIndex(chunk[:maxLen], "\n")
			if idx > 0 {
				chunk = chunk[:idx]
			} else {
				chunk = chunk[:maxLen]
			}
		}
		content = content[len(chunk):]

		if _, err := t.bot.Send(tgbotapi.NewMessage(chatID, chunk)); err != nil {
			return fmt.Errorf("send telegram message: %w", err)
		}
	}
	return nil
}

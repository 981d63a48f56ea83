package service

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"shareit/internal/domain"
	"shareit/internal/events"
	"shareit/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

const (
	notifyQueueSize     = 256
	notifyTimeout       = 5 * time.Second
	telegramHTTPTimeout = 10 * time.Second
)

// NewTelegramBot connects to the Bot API with the given token.
func NewTelegramBot(token string, debug bool) (*tgbotapi.BotAPI, error) {
	client := &http.Client{Timeout: telegramHTTPTimeout}
	bot, err := tgbotapi.NewBotAPIWithClient(token, tgbotapi.APIEndpoint, client)
	if err != nil {
		return nil, fmt.Errorf("init telegram bot: %w", err)
	}
	bot.Debug = debug
	return bot, nil
}

type notification struct {
	userID int64
	text   string
}

// TelegramNotifier tells owners about new bookings and bookers about
// decisions. Event handlers only queue messages; Start delivers them.
// Users without a chat id are skipped.
type TelegramNotifier struct {
	bot     domain.TelegramSender
	users   domain.CatalogRepository
	queue   chan notification
	timeout time.Duration
	logger  zerolog.Logger
}

func NewTelegramNotifier(bot domain.TelegramSender, users domain.CatalogRepository, logger *zerolog.Logger) *TelegramNotifier {
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "telegram_notifier").Logger()
	}
	return &TelegramNotifier{
		bot:     bot,
		users:   users,
		queue:   make(chan notification, notifyQueueSize),
		timeout: notifyTimeout,
		logger:  l,
	}
}

// Subscribe attaches the notifier to booking events on bus.
func (n *TelegramNotifier) Subscribe(bus *events.EventBus) {
	bus.Subscribe(events.EventBookingCreated, n.onCreated)
	bus.Subscribe(events.EventBookingApproved, n.onDecided)
	bus.Subscribe(events.EventBookingRejected, n.onDecided)
}

// Start delivers queued notifications until ctx is done.
func (n *TelegramNotifier) Start(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-n.queue:
			if err := n.deliver(ctx, msg); err != nil {
				n.logger.Error().Err(err).Int64("user_id", msg.userID).Msg("telegram notification failed")
			}
		}
	}
}

func (n *TelegramNotifier) onCreated(event *events.Event) error {
	var p events.BookingEventPayload
	if err := event.Decode(&p); err != nil {
		return fmt.Errorf("decode %s: %w", event.Type, err)
	}
	text := fmt.Sprintf("New booking #%d for item %d\n%s to %s\nApprove or reject it in shareit.",
		p.BookingID, p.ItemID, models.FormatTime(p.Start), models.FormatTime(p.End))
	return n.enqueue(p.OwnerID, text)
}

func (n *TelegramNotifier) onDecided(event *events.Event) error {
	var p events.BookingEventPayload
	if err := event.Decode(&p); err != nil {
		return fmt.Errorf("decode %s: %w", event.Type, err)
	}
	verb := "rejected"
	if p.Status == models.StatusApproved {
		verb = "approved"
	}
	text := fmt.Sprintf("Your booking #%d of item %d (%s to %s) was %s.",
		p.BookingID, p.ItemID, models.FormatTime(p.Start), models.FormatTime(p.End), verb)
	return n.enqueue(p.BookerID, text)
}

func (n *TelegramNotifier) enqueue(userID int64, text string) error {
	select {
	case n.queue <- notification{userID: userID, text: text}:
		return nil
	default:
		return fmt.Errorf("telegram queue full, dropping notification for user %d", userID)
	}
}

func (n *TelegramNotifier) deliver(ctx context.Context, msg notification) error {
	lookupCtx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()
	user, err := n.users.GetUserByID(lookupCtx, msg.userID)
	if err != nil {
		return fmt.Errorf("load user %d: %w", msg.userID, err)
	}
	if user.TelegramChatID == 0 {
		return nil
	}
	if _, err := n.bot.Send(tgbotapi.NewMessage(user.TelegramChatID, msg.text)); err != nil {
		return fmt.Errorf("send to user %d: %w", msg.userID, err)
	}
	return nil
}

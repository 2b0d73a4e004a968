package services

import (
	"context"
	"fmt"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"
)

// TelegramNotifier sends admin notifications through a Telegram bot. Chats
// are the configured ids plus any chat that sends /start to the bot.
type TelegramNotifier struct {
	bot *tgbotapi.BotAPI
	log logrus.FieldLogger

	mu         sync.RWMutex
	chats      map[int64]struct{}
	onRegister func(ctx context.Context, chatID int64) error
}

func NewTelegramNotifier(token string, chatIDs []int64, log logrus.FieldLogger) (*TelegramNotifier, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to authorize telegram bot: %w", err)
	}
	log.WithField("bot", bot.Self.UserName).Info("telegram bot authorized")

	n := &TelegramNotifier{
		bot:   bot,
		log:   log,
		chats: make(map[int64]struct{}, len(chatIDs)),
	}
	for _, id := range chatIDs {
		n.chats[id] = struct{}{}
	}
	return n, nil
}

// OnRegister sets a hook run for every chat that sends /start, typically
// to persist it.
func (n *TelegramNotifier) OnRegister(fn func(ctx context.Context, chatID int64) error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.onRegister = fn
}

// Listen registers admins that message /start until ctx is done.
func (n *TelegramNotifier) Listen(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := n.bot.GetUpdatesChan(u)
	defer n.bot.StopReceivingUpdates()

	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if update.Message == nil || !update.Message.IsCommand() {
				continue
			}
			if update.Message.Command() == "start" {
				n.register(ctx, update.Message.Chat.ID)
			}
		}
	}
}

func (n *TelegramNotifier) register(ctx context.Context, chatID int64) {
	n.AddChat(chatID)

	n.mu.RLock()
	hook := n.onRegister
	n.mu.RUnlock()
	if hook != nil {
		if err := hook(ctx, chatID); err != nil {
			n.log.WithField("chat", chatID).WithError(err).Warn("telegram: failed to persist admin chat")
		}
	}

	msg := tgbotapi.NewMessage(chatID,
		fmt.Sprintf("¡Hola Admin! Tu ID ha sido registrado: %d. Ahora recibirás notificaciones aquí.", chatID))
	if _, err := n.bot.Send(msg); err != nil {
		n.log.WithError(err).Warn("telegram: failed to greet admin")
	}
	n.log.WithField("chat", chatID).Info("telegram admin chat registered")
}

func (n *TelegramNotifier) AddChat(chatID int64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.chats[chatID] = struct{}{}
}

func (n *TelegramNotifier) Chats() []int64 {
	n.mu.RLock()
	defer n.mu.RUnlock()
	ids := make([]int64, 0, len(n.chats))
	for id := range n.chats {
		ids = append(ids, id)
	}
	return ids
}

func (n *TelegramNotifier) Notify(ctx context.Context, text string) {
	chats := n.Chats()
	if len(chats) == 0 {
		n.log.Debug("telegram: no admin chat registered, notification dropped")
		return
	}
	for _, id := range chats {
		if ctx.Err() != nil {
			return
		}
		if _, err := n.bot.Send(tgbotapi.NewMessage(id, text)); err != nil {
			n.log.WithField("chat", id).WithError(err).Warn("telegram: failed to send notification")
		}
	}
}

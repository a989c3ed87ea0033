// Package notifier pushes operational messages (new appointments, finished
// imports) to the ops Telegram chat.
package notifier

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	tele "gopkg.in/telebot.v3"
)

type Telegram struct {
	log    *logrus.Entry
	bot    *tele.Bot
	chatID int64
}

func NewBot(token string) (*tele.Bot, error) {
	config := tele.Settings{
		Token:  token,
		Poller: &tele.LongPoller{Timeout: 10 * time.Second},
	}
	b, err := tele.NewBot(config)
	if err != nil {
		return nil, fmt.Errorf("new bot failed: %w", err)
	}
	return b, nil
}

func NewTelegram(log *logrus.Logger, bot *tele.Bot, chatID int64) *Telegram {
	return &Telegram{
		log:    log.WithField("component", "notifier"),
		bot:    bot,
		chatID: chatID,
	}
}

func (t *Telegram) Notify(_ context.Context, message string) error {
	if _, err := t.bot.Send(tele.ChatID(t.chatID), message); err != nil {
		return fmt.Errorf("tg send message failed: %w", err)
	}
	return nil
}

// DummyNotifier logs instead of sending, for local runs and tests.
type DummyNotifier struct {
	log *logrus.Entry
}

func NewDummyNotifier(log *logrus.Logger) *DummyNotifier {
	return &DummyNotifier{
		log: log.WithField("component", "notifier"),
	}
}

func (n *DummyNotifier) Notify(_ context.Context, message string) error {
	n.log.Infof("notification: %s", message)
	return nil
}

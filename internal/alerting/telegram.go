package alerting

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

const callbackPrefix = "alert"

// TelegramNotifier 通过 Telegram Bot API 推送告警并接收按钮回调。
type TelegramNotifier struct {
	bot    *tgbotapi.BotAPI
	logger zerolog.Logger
}

// NewTelegramNotifier 构造 Telegram 告警网关。apiEndpoint overrides the Bot API
// endpoint (two %s verbs: token, method); pass "" for the public API.
func NewTelegramNotifier(botToken, apiEndpoint string, sendTimeout time.Duration, logger zerolog.Logger) (*TelegramNotifier, error) {
	if sendTimeout <= 0 {
		sendTimeout = 5 * time.Second
	}
	if apiEndpoint == "" {
		apiEndpoint = tgbotapi.APIEndpoint
	}

	bot, err := tgbotapi.NewBotAPIWithClient(botToken, apiEndpoint, &http.Client{Timeout: sendTimeout})
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}

	return &TelegramNotifier{
		bot:    bot,
		logger: logger.With().Str("component", "alert_telegram").Logger(),
	}, nil
}

// Send delivers the trigger message to the alert's owner and returns the
// message id as the delivery handle.
func (n *TelegramNotifier) Send(ctx context.Context, notice TriggerNotice) (string, error) {
	chatID, err := strconv.ParseInt(notice.OwnerID, 10, 64)
	if err != nil {
		return "", fmt.Errorf("parse owner id %q: %w", notice.OwnerID, err)
	}

	msg := tgbotapi.NewMessage(chatID, renderTriggerMessage(notice))
	msg.ReplyMarkup = actionKeyboard(notice)

	sent, err := n.bot.Send(msg)
	if err != nil {
		return "", fmt.Errorf("send telegram message: %w", err)
	}

	n.logger.Info().Int64("alert_id", notice.AlertID).
		Str("symbol", notice.Symbol).
		Int("message_id", sent.MessageID).
		Msg("告警已发送 (Telegram)")
	return strconv.Itoa(sent.MessageID), nil
}

// ListenActions polls for callback queries and forwards confirm/delete
// actions into the handler. It returns immediately; the goroutine stops when
// ctx is cancelled.
func (n *TelegramNotifier) ListenActions(ctx context.Context, handler ActionHandler) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := n.bot.GetUpdatesChan(u)

	go func() {
		for {
			select {
			case <-ctx.Done():
				n.bot.StopReceivingUpdates()
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				if update.CallbackQuery != nil {
					n.handleCallback(ctx, handler, update.CallbackQuery)
				}
			}
		}
	}()
}

func (n *TelegramNotifier) handleCallback(ctx context.Context, handler ActionHandler, query *tgbotapi.CallbackQuery) {
	action, alertID, ok := parseCallback(query.Data)
	if !ok {
		n.answer(query.ID, "Unrecognised action")
		return
	}

	deliveryContext := ""
	if query.Message != nil {
		deliveryContext = strconv.Itoa(query.Message.MessageID)
	}

	handled, err := handler.HandleAction(ctx, alertID, action, deliveryContext)
	if err != nil {
		n.logger.Error().Err(err).Int64("alert_id", alertID).Str("action", string(action)).Msg("action handling failed")
		n.answer(query.ID, "Something went wrong")
		return
	}

	switch {
	case !handled:
		n.answer(query.ID, "Nothing to do — already handled")
	case action == ActionConfirm:
		n.answer(query.ID, "Alert confirmed ✅")
	case action == ActionDelete:
		n.answer(query.ID, "Alert deleted 🗑")
	default:
		n.answer(query.ID, "Done")
	}
}

func (n *TelegramNotifier) answer(callbackID, text string) {
	if _, err := n.bot.Request(tgbotapi.NewCallback(callbackID, text)); err != nil {
		n.logger.Error().Err(err).Msg("failed to answer callback query")
	}
}

func actionKeyboard(notice TriggerNotice) tgbotapi.InlineKeyboardMarkup {
	row := make([]tgbotapi.InlineKeyboardButton, 0, 2)
	if notice.RequiresConfirmation {
		row = append(row, tgbotapi.NewInlineKeyboardButtonData("✅ Confirm", formatCallback(ActionConfirm, notice.AlertID)))
	}
	row = append(row, tgbotapi.NewInlineKeyboardButtonData("🗑 Delete", formatCallback(ActionDelete, notice.AlertID)))
	return tgbotapi.NewInlineKeyboardMarkup(row)
}

func formatCallback(action Action, alertID int64) string {
	return fmt.Sprintf("%s:%s:%d", callbackPrefix, action, alertID)
}

// parseCallback decodes "alert:<action>:<id>" button payloads.
func parseCallback(data string) (Action, int64, bool) {
	parts := strings.Split(data, ":")
	if len(parts) != 3 || parts[0] != callbackPrefix {
		return "", 0, false
	}
	action := Action(parts[1])
	if action != ActionConfirm && action != ActionDelete {
		return "", 0, false
	}
	alertID, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return "", 0, false
	}
	return action, alertID, true
}

func renderTriggerMessage(notice TriggerNotice) string {
	direction := "📈"
	if notice.Pct.Sign() < 0 {
		direction = "📉"
	}

	builder := strings.Builder{}
	builder.WriteString(fmt.Sprintf("%s %s Alert\n", direction, notice.Symbol))
	builder.WriteString(fmt.Sprintf("Price: $%s\n", notice.Price.StringFixed(2)))
	builder.WriteString(fmt.Sprintf("Change: %s%% over %dm (threshold %s%%)\n",
		notice.Pct.StringFixed(2), notice.WindowMinutes, notice.ThresholdPct.StringFixed(2)))
	builder.WriteString(fmt.Sprintf("Baseline: $%s\n", notice.Baseline.StringFixed(2)))
	builder.WriteString(fmt.Sprintf("Alert #%d", notice.AlertID))
	return builder.String()
}

var _ Notifier = (*TelegramNotifier)(nil)

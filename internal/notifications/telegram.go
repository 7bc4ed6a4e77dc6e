package notifications

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// TelegramNotifier sends router alerts to a Telegram chat.
type TelegramNotifier struct {
	token   string
	chatID  string
	apiBase string
	client  *http.Client
}

func NewTelegramNotifier(token, chatID string) *TelegramNotifier {
	return &TelegramNotifier{
		token:   token,
		chatID:  chatID,
		apiBase: "https://api.telegram.org",
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// SendAlert posts the message to the configured chat, prefixed with the
// alert level.
func (t *TelegramNotifier) SendAlert(level Level, message string) error {
	text := fmt.Sprintf("%s *Broker Router* [%s]\n\n%s",
		levelEmoji(level), strings.ToUpper(string(level)), message)

	data := url.Values{}
	data.Set("chat_id", t.chatID)
	data.Set("text", text)
	data.Set("parse_mode", "Markdown")

	apiURL := fmt.Sprintf("%s/bot%s/sendMessage", t.apiBase, t.token)
	resp, err := t.client.PostForm(apiURL, data)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram API returned status %d", resp.StatusCode)
	}
	return nil
}

func levelEmoji(level Level) string {
	switch level {
	case LevelWarning:
		return "⚠️"
	case LevelError:
		return "🚨"
	case LevelCritical:
		return "🆘"
	default:
		return "ℹ️"
	}
}

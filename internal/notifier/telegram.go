package notifier

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/0xPollos/twitter-follow-tracker-bot/internal/domain"
	pkglog "github.com/0xPollos/twitter-follow-tracker-bot/pkg/log"
)

// TelegramNotifier sends one chat message per change via the Bot API.
type TelegramNotifier struct {
	baseURL string
	token   string
	chatID  string
	http    *http.Client
}

// NewTelegramNotifier creates a Telegram notifier. An empty baseURL uses
// the public Bot API; a zero timeout defaults to 10s.
func NewTelegramNotifier(baseURL, botToken, chatID string, timeout time.Duration) *TelegramNotifier {
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &TelegramNotifier{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   botToken,
		chatID:  chatID,
		http:    &http.Client{Timeout: timeout},
	}
}

// FormatMessage renders the chat text for ev in Telegram legacy Markdown.
func FormatMessage(ev domain.ChangeEvent) string {
	user := escapeMarkdown(ev.Target.Username)
	if ev.Kind == domain.ChangeUnfollowed {
		return fmt.Sprintf("🔴 @%s unfollowed user ID: `%s`", user, ev.FollowedID)
	}
	return fmt.Sprintf("🟢 @%s started following user ID: `%s`", user, ev.FollowedID)
}

// Notify posts the message; failures are logged and dropped.
func (n *TelegramNotifier) Notify(ctx context.Context, ev domain.ChangeEvent) {
	l := pkglog.Ctx(ctx)
	if err := n.send(ctx, FormatMessage(ev)); err != nil {
		l.Warn().Err(err).
			Str(pkglog.FieldNotifier, "telegram").
			Str(pkglog.FieldFollowedID, ev.FollowedID).
			Msg("telegram delivery failed")
	}
}

func (n *TelegramNotifier) send(ctx context.Context, text string) error {
	form := url.Values{}
	form.Set("chat_id", n.chatID)
	form.Set("text", text)
	form.Set("parse_mode", "Markdown")

	endpoint := n.baseURL + "/bot" + n.token + "/sendMessage"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := n.http.Do(req)
	if err != nil {
		// The error text carries the URL, and with it the bot token.
		return fmt.Errorf("sendMessage: %s", strings.ReplaceAll(err.Error(), n.token, "***"))
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("sendMessage: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

var markdownEscaper = strings.NewReplacer("_", `\_`, "*", `\*`, "`", "\\`", "[", `\[`)

func escapeMarkdown(s string) string {
	return markdownEscaper.Replace(s)
}

var _ Notifier = (*TelegramNotifier)(nil)

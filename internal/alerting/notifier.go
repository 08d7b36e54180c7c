package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// maxListedFailures caps the wallets printed in one message.
const maxListedFailures = 20

// Notification 封装一次批量领取的汇总。
type Notification struct {
	RunID        int64
	Mode         string
	StartedAt    time.Time
	Duration     time.Duration
	Expected     int
	Succeeded    int
	ClaimedTotal decimal.Decimal
	Failed       []string
	Interrupted  bool
}

// Notifier 定义通知输送接口。
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// TelegramNotifier 通过 Telegram Bot API 推送消息。
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier 构造 Telegram 通知器。
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "notify_telegram").Logger(),
	}
}

// Notify 调用 sendMessage API 推送文本。
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    renderMessage(note),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram unexpected status: %d", resp.StatusCode)
	}

	var result struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram returned ok=false: %s", result.Description)
		}
	}

	n.logger.Info().Int64("run_id", note.RunID).
		Int("succeeded", note.Succeeded).
		Int("failed", len(note.Failed)).
		Msg("run summary sent (Telegram)")
	return nil
}

func renderMessage(note Notification) string {
	builder := strings.Builder{}
	builder.WriteString("[LINEA Claim]\n")
	if note.RunID > 0 {
		builder.WriteString(fmt.Sprintf("Run: #%d (%s)\n", note.RunID, note.Mode))
	} else {
		builder.WriteString(fmt.Sprintf("Mode: %s\n", note.Mode))
	}
	if !note.StartedAt.IsZero() {
		builder.WriteString(fmt.Sprintf("Started: %s UTC\n", note.StartedAt.UTC().Format(time.RFC3339)))
	}
	if note.Duration > 0 {
		builder.WriteString(fmt.Sprintf("Duration: %s\n", note.Duration.Round(time.Second)))
	}
	builder.WriteString(fmt.Sprintf("Processed: %d/%d\n", note.Succeeded, note.Expected))
	builder.WriteString(fmt.Sprintf("Claimed: %s LINEA\n", note.ClaimedTotal.StringFixed(2)))
	if unaccounted := note.Expected - note.Succeeded - len(note.Failed); unaccounted > 0 {
		builder.WriteString(fmt.Sprintf("Unaccounted: %d\n", unaccounted))
	}
	if note.Interrupted {
		builder.WriteString("Run was interrupted before completion\n")
	}
	if len(note.Failed) > 0 {
		builder.WriteString(fmt.Sprintf("Failed (%d):\n", len(note.Failed)))
		for i, addr := range note.Failed {
			if i == maxListedFailures {
				builder.WriteString(fmt.Sprintf("... and %d more\n", len(note.Failed)-maxListedFailures))
				break
			}
			builder.WriteString(addr)
			builder.WriteString("\n")
		}
	}
	return builder.String()
}

var _ Notifier = (*TelegramNotifier)(nil)

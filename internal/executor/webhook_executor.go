package executor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"fx-signal-trader/internal/model"
	"fx-signal-trader/internal/service"
)

// 回报正文最多读取 1MB
const maxWebhookBody = 1 << 20

// webhookPayload 请求体: 下单请求加上时间戳和请求 id
type webhookPayload struct {
	model.TradeRequest
	TS int64  `json:"ts"`
	ID string `json:"id"`
}

// WebhookDetails webhook 的回报
type WebhookDetails struct {
	Status int `json:"status"`
	Body   any `json:"body"`
}

// WebhookExecutor 把下单请求 POST 给外部服务
// 只要收到 HTTP 响应就视为最终结果, 连接层面的错误才会继续尝试下一个后端
type WebhookExecutor struct {
	url    string
	client *http.Client
	now    func() time.Time
	logger *zap.Logger
}

func NewWebhookExecutor(cfg service.WebhookConfig, client *http.Client, now func() time.Time, logger *zap.Logger) *WebhookExecutor {
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	if now == nil {
		now = time.Now
	}
	return &WebhookExecutor{
		url:    cfg.URL,
		client: client,
		now:    now,
		logger: logger.With(zap.String("executor", "Webhook")),
	}
}

func (e *WebhookExecutor) Mode() model.ExecutionMode {
	return model.ModeWebhook
}

func (e *WebhookExecutor) Submit(ctx context.Context, req model.TradeRequest) (model.ExecutionResult, error) {
	payload, err := json.Marshal(webhookPayload{
		TradeRequest: req,
		TS:           e.now().UnixMilli(),
		ID:           uuid.NewString(),
	})
	if err != nil {
		return model.ExecutionResult{}, fmt.Errorf("encode webhook payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(payload))
	if err != nil {
		return model.ExecutionResult{}, fmt.Errorf("build webhook request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return model.ExecutionResult{}, fmt.Errorf("webhook request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxWebhookBody))
	if err != nil {
		// 已经拿到状态码, 正文读取失败不影响结果
		e.logger.Warn("Failed to read webhook response body", zap.Error(err))
	}

	executed := resp.StatusCode >= 200 && resp.StatusCode < 300
	if !executed {
		e.logger.Warn("Webhook responded with non-2xx status", zap.Int("status", resp.StatusCode))
	}
	return model.ExecutionResult{
		Executed: executed,
		Mode:     model.ModeWebhook,
		Details:  WebhookDetails{Status: resp.StatusCode, Body: decodeBody(body)},
	}, nil
}

// decodeBody JSON 正文原样保留, 否则按文本返回
func decodeBody(body []byte) any {
	if len(body) == 0 {
		return nil
	}
	if json.Valid(body) {
		return json.RawMessage(body)
	}
	return string(body)
}

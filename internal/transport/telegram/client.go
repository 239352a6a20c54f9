package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"otpmail/bot/internal/monitoring"
)

// ErrRejected Bot API 明确拒绝了请求（ok=false）
var ErrRejected = errors.New("telegram: request rejected")

// apiResponse Bot API 统一响应信封
type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result,omitempty"`
	Description string          `json:"description,omitempty"`
	ErrorCode   int             `json:"error_code,omitempty"`
}

// Client Bot API 客户端。
//
// 所有出站调用经过同一个令牌桶限流，避免触发 Bot API
// 的全局频率限制。
type Client struct {
	baseURL string
	token   string
	client  *http.Client
	limiter *rate.Limiter
	metrics *monitoring.Metrics
	log     *zap.Logger
}

// NewClient 创建 Bot API 客户端。sendRate 为每秒允许的出站请求数。
func NewClient(baseURL, token string, sendRate float64, metrics *monitoring.Metrics, log *zap.Logger) *Client {
	if sendRate <= 0 {
		sendRate = 25
	}
	return &Client{
		baseURL: baseURL,
		token:   token,
		// 长轮询 getUpdates 最长挂起 30 秒，超时要给足余量
		client:  &http.Client{Timeout: 40 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(sendRate), int(sendRate)),
		metrics: metrics,
		log:     log,
	}
}

func (c *Client) methodURL(method string) string {
	return fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)
}

// call 发送一次 JSON 请求并解出结果
func (c *Client) call(ctx context.Context, method string, payload any, result any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("编码 %s 请求: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.methodURL(method), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		c.metrics.TransportCalls.WithLabelValues(method, "error").Inc()
		return fmt.Errorf("调用 %s: %w", method, err)
	}
	defer resp.Body.Close()

	return c.decode(method, resp, result)
}

func (c *Client) decode(method string, resp *http.Response, result any) error {
	var envelope apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		c.metrics.TransportCalls.WithLabelValues(method, "error").Inc()
		return fmt.Errorf("解析 %s 响应: %w", method, err)
	}
	if !envelope.OK {
		c.metrics.TransportCalls.WithLabelValues(method, "rejected").Inc()
		c.log.Debug("Bot API 拒绝请求",
			zap.String("method", method),
			zap.Int("error_code", envelope.ErrorCode),
			zap.String("description", envelope.Description))
		return fmt.Errorf("%w: %s (%d)", ErrRejected, envelope.Description, envelope.ErrorCode)
	}
	c.metrics.TransportCalls.WithLabelValues(method, "ok").Inc()

	if result != nil && len(envelope.Result) > 0 {
		if err := json.Unmarshal(envelope.Result, result); err != nil {
			return fmt.Errorf("解析 %s 结果: %w", method, err)
		}
	}
	return nil
}

// SendMessage 发送消息，返回服务器分配的消息
func (c *Client) SendMessage(ctx context.Context, req SendMessageRequest) (*Message, error) {
	var msg Message
	if err := c.call(ctx, "sendMessage", req, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// EditMessageText 编辑已发送消息的文本
func (c *Client) EditMessageText(ctx context.Context, req EditMessageTextRequest) error {
	return c.call(ctx, "editMessageText", req, nil)
}

// AnswerCallbackQuery 确认内联按钮回调
func (c *Client) AnswerCallbackQuery(ctx context.Context, req AnswerCallbackQueryRequest) error {
	return c.call(ctx, "answerCallbackQuery", req, nil)
}

// GetUpdates 长轮询拉取更新。offset 为下一个期望的 update_id。
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, error) {
	payload := map[string]any{
		"offset":  offset,
		"timeout": int(timeout.Seconds()),
	}
	var updates []Update
	if err := c.call(ctx, "getUpdates", payload, &updates); err != nil {
		return nil, err
	}
	return updates, nil
}

// SendDocument 以附件形式发送一个文件
func (c *Client) SendDocument(ctx context.Context, chatID int64, filename, caption string, content []byte) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	if err := writer.WriteField("chat_id", strconv.FormatInt(chatID, 10)); err != nil {
		return err
	}
	if caption != "" {
		if err := writer.WriteField("caption", caption); err != nil {
			return err
		}
	}
	part, err := writer.CreateFormFile("document", filename)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, bytes.NewReader(content)); err != nil {
		return err
	}
	if err := writer.Close(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.methodURL("sendDocument"), &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		c.metrics.TransportCalls.WithLabelValues("sendDocument", "error").Inc()
		return fmt.Errorf("调用 sendDocument: %w", err)
	}
	defer resp.Body.Close()

	return c.decode("sendDocument", resp, nil)
}

package mailprov

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"otpmail/bot/internal/domain"
)

// mailListResponse 提供方收件箱接口的响应体
type mailListResponse struct {
	Result   bool        `json:"result"`
	Count    int         `json:"count"`
	MailList []mailEntry `json:"mail_list"`
}

type mailEntry struct {
	MailID  int64  `json:"mail_id"`
	From    string `json:"from"`
	Subject string `json:"subject"`
	Text    string `json:"text"`
}

// HTTPProvider 通过临时邮箱服务的 HTTP JSON 接口读取收件箱
type HTTPProvider struct {
	baseURL string
	client  *http.Client
	log     *zap.Logger
}

// NewHTTPProvider 创建 HTTP 收件箱客户端
func NewHTTPProvider(baseURL string, timeout time.Duration, log *zap.Logger) *HTTPProvider {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPProvider{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		log:     log,
	}
}

// ListMessages 拉取地址的邮件列表。
// 网络错误和非 2xx 响应统一映射为 ErrProviderUnavailable。
func (p *HTTPProvider) ListMessages(ctx context.Context, address string, sinceID int64) ([]domain.MailMessage, error) {
	query := url.Values{}
	query.Set("email", address)
	query.Set("limit", "20")
	if sinceID > 0 {
		query.Set("first_id", strconv.FormatInt(sinceID, 10))
	}

	endpoint := p.baseURL + "/api/mails?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("构造收件箱请求: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		p.log.Debug("收件箱请求失败", zap.String("address", address), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		p.log.Debug("收件箱请求被拒绝",
			zap.String("address", address),
			zap.Int("status", resp.StatusCode))
		return nil, fmt.Errorf("%w: status %d", ErrProviderUnavailable, resp.StatusCode)
	}

	var body mailListResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: 解析响应: %v", ErrProviderUnavailable, err)
	}
	if !body.Result {
		return nil, fmt.Errorf("%w: 提供方返回失败标记", ErrProviderUnavailable)
	}

	messages := make([]domain.MailMessage, 0, len(body.MailList))
	for _, entry := range body.MailList {
		messages = append(messages, domain.MailMessage{
			ID:      entry.MailID,
			Sender:  entry.From,
			Subject: entry.Subject,
			Body:    entry.Text,
		})
	}
	return messages, nil
}

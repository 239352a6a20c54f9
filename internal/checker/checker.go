package checker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"otpmail/bot/internal/monitoring"
)

// ErrCheckerUnavailable 检测接口暂时不可用
var ErrCheckerUnavailable = errors.New("checker api unavailable")

// ErrNoValidIDs 输入里没有任何合法的数字 id
var ErrNoValidIDs = errors.New("no valid numeric ids")

var idSplitRegex = regexp.MustCompile(`[,\s]+`)

// Report 一次批量检测的结果
type Report struct {
	Active []string
	Dead   []string
}

// checkRequest 批量检测接口的请求体
type checkRequest struct {
	InputData    []string `json:"inputData"`
	CheckFriends bool     `json:"checkFriends"`
	UserLang     string   `json:"userLang"`
}

type checkResponse struct {
	Data []struct {
		UID    string `json:"uid"`
		Status struct {
			Name string `json:"name"`
		} `json:"status"`
	} `json:"data"`
}

// Client 账号状态批量检测客户端
type Client struct {
	apiURL  string
	client  *http.Client
	metrics *monitoring.Metrics
	log     *zap.Logger
}

// NewClient 创建检测客户端
func NewClient(apiURL string, timeout time.Duration, metrics *monitoring.Metrics, log *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		apiURL:  apiURL,
		client:  &http.Client{Timeout: timeout},
		metrics: metrics,
		log:     log,
	}
}

// ParseIDs 把自由文本拆成数字 id 列表。
// 逗号、空格、换行都算分隔符，非数字的片段丢弃。
func ParseIDs(raw string) ([]string, error) {
	parts := idSplitRegex.Split(strings.TrimSpace(raw), -1)
	ids := make([]string, 0, len(parts))
	for _, part := range parts {
		if part == "" || !isDigits(part) {
			continue
		}
		ids = append(ids, part)
	}
	if len(ids) == 0 {
		return nil, ErrNoValidIDs
	}
	return ids, nil
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}

// Check 批量查询账号状态并按存活与否分类
func (c *Client) Check(ctx context.Context, ids []string, checkFriends bool) (*Report, error) {
	body, err := json.Marshal(checkRequest{
		InputData:    ids,
		CheckFriends: checkFriends,
		UserLang:     "en",
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	c.metrics.CheckerRequests.Inc()
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCheckerUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: status %d", ErrCheckerUnavailable, resp.StatusCode)
	}

	var parsed checkResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("%w: 解析响应: %v", ErrCheckerUnavailable, err)
	}

	report := &Report{}
	for _, entry := range parsed.Data {
		if entry.Status.Name == "valid" {
			report.Active = append(report.Active, entry.UID)
		} else {
			report.Dead = append(report.Dead, entry.UID)
		}
	}
	return report, nil
}

// Summary 渲染聊天内的状态汇报文本
func (r *Report) Summary() string {
	var b strings.Builder
	b.WriteString("📌 Status Report\n\n")
	fmt.Fprintf(&b, "✅ Total Active Accounts: %d\n", len(r.Active))
	b.WriteString(joinOrDash(r.Active))
	fmt.Fprintf(&b, "\n\n❌ Total Dead Accounts: %d\n", len(r.Dead))
	b.WriteString(joinOrDash(r.Dead))
	return b.String()
}

// Attachment 渲染随附的纯文本文件内容
func (r *Report) Attachment() []byte {
	text := "Active Accounts:\n" + strings.Join(r.Active, "\n") +
		"\n\nDead Accounts:\n" + strings.Join(r.Dead, "\n")
	return []byte(text)
}

func joinOrDash(items []string) string {
	if len(items) == 0 {
		return "—"
	}
	return strings.Join(items, "\n")
}

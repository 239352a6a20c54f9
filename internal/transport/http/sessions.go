package httptransport

import (
	"errors"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"otpmail/bot/internal/bot"
	"otpmail/bot/internal/domain"
	"otpmail/bot/internal/scheduler"
	"otpmail/bot/internal/service"
	"otpmail/bot/internal/storage"
)

// SessionHandler 处理运维接口的会话查询请求
type SessionHandler struct {
	sessions *service.SessionService
	timers   *scheduler.Scheduler
	log      *zap.Logger
}

// NewSessionHandler 创建会话查询处理器
func NewSessionHandler(sessions *service.SessionService, timers *scheduler.Scheduler) *SessionHandler {
	return &SessionHandler{
		sessions: sessions,
		timers:   timers,
		log:      zap.NewNop(),
	}
}

type sessionSummary struct {
	ChatID          int64     `json:"chatId"`
	Username        string    `json:"username,omitempty"`
	ActiveMailbox   string    `json:"activeMailbox,omitempty"`
	MailboxCount    int       `json:"mailboxCount"`
	AutoGenerate    bool      `json:"autoGenerate"`
	CountdownActive bool      `json:"countdownActive"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

type mailboxRecordResponse struct {
	ID        string    `json:"id"`
	Address   string    `json:"address"`
	CreatedAt time.Time `json:"createdAt"`
}

type sessionDetail struct {
	sessionSummary
	LastSeenID int64                   `json:"lastSeenId"`
	Mailboxes  []mailboxRecordResponse `json:"mailboxes"`
}

type sessionListResponse struct {
	Items []sessionSummary `json:"items"`
	Count int              `json:"count"`
}

// ListSessions 返回全部会话概览，按 chatId 升序
func (h *SessionHandler) ListSessions(c *gin.Context) {
	sessions := h.sessions.List()
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].ChatID < sessions[j].ChatID
	})

	items := make([]sessionSummary, 0, len(sessions))
	for i := range sessions {
		items = append(items, h.toSummary(&sessions[i]))
	}

	Success(c, sessionListResponse{
		Items: items,
		Count: len(items),
	})
}

// GetSession 返回单个会话详情，含邮箱历史
func (h *SessionHandler) GetSession(c *gin.Context) {
	chatID, err := strconv.ParseInt(c.Param("chatId"), 10, 64)
	if err != nil {
		BadRequest(c, "会话ID格式无效")
		return
	}

	sess, err := h.sessions.Get(chatID)
	if err != nil {
		if errors.Is(err, storage.ErrSessionNotFound) {
			NotFound(c, "会话不存在")
			return
		}
		h.log.Error("查询会话失败", zap.Int64("chat_id", chatID), zap.Error(err))
		InternalError(c, "查询会话失败")
		return
	}

	mailboxes := make([]mailboxRecordResponse, 0, len(sess.Mailboxes))
	for _, m := range sess.Mailboxes {
		mailboxes = append(mailboxes, mailboxRecordResponse{
			ID:        m.ID,
			Address:   m.Address,
			CreatedAt: m.CreatedAt,
		})
	}

	Success(c, sessionDetail{
		sessionSummary: h.toSummary(sess),
		LastSeenID:     sess.LastSeenID,
		Mailboxes:      mailboxes,
	})
}

// ExportSessions 以 CSV 导出全部邮箱历史
func (h *SessionHandler) ExportSessions(c *gin.Context) {
	content, err := bot.MailboxCSV(h.sessions.List())
	if err != nil {
		h.log.Error("导出会话失败", zap.Error(err))
		InternalError(c, "导出失败")
		return
	}

	// 导出不使用统一响应格式，直接返回文件流
	c.Header("Content-Disposition", `attachment; filename="user_data.csv"`)
	c.Data(http.StatusOK, "text/csv", content)
}

func (h *SessionHandler) toSummary(sess *domain.Session) sessionSummary {
	active := false
	if h.timers != nil {
		active = h.timers.Active(sess.ChatID)
	}
	return sessionSummary{
		ChatID:          sess.ChatID,
		Username:        sess.Username,
		ActiveMailbox:   sess.ActiveMailbox,
		MailboxCount:    len(sess.Mailboxes),
		AutoGenerate:    sess.AutoGenerate,
		CountdownActive: active,
		CreatedAt:       sess.CreatedAt,
		UpdatedAt:       sess.UpdatedAt,
	}
}

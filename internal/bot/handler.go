package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"otpmail/bot/internal/checker"
	"otpmail/bot/internal/otp"
	"otpmail/bot/internal/scheduler"
	"otpmail/bot/internal/service"
	"otpmail/bot/internal/transport/telegram"
)

// accountChecker 账号批量检测能力
type accountChecker interface {
	Check(ctx context.Context, ids []string, checkFriends bool) (*checker.Report, error)
}

// Handler 把传入更新路由到各业务流程。
//
// 自由文本的去向由会话标记决定：等待用户名、等待检测 id，
// 都不是时按 2FA 密钥尝试。
type Handler struct {
	client       api
	sessions     *service.SessionService
	timers       *scheduler.Scheduler
	checks       accountChecker
	adminChatID  int64
	usersPerPage int
	log          *zap.Logger
}

// NewHandler 创建更新处理器
func NewHandler(
	client api,
	sessions *service.SessionService,
	timers *scheduler.Scheduler,
	checks accountChecker,
	adminChatID int64,
	usersPerPage int,
	log *zap.Logger,
) *Handler {
	if usersPerPage <= 0 {
		usersPerPage = 5
	}
	return &Handler{
		client:       client,
		sessions:     sessions,
		timers:       timers,
		checks:       checks,
		adminChatID:  adminChatID,
		usersPerPage: usersPerPage,
		log:          log,
	}
}

// HandleUpdate 处理一次更新，内部错误只记日志不上抛
func (h *Handler) HandleUpdate(ctx context.Context, update telegram.Update) {
	switch {
	case update.Message != nil:
		h.handleMessage(ctx, update.Message)
	case update.CallbackQuery != nil:
		h.handleCallback(ctx, update.CallbackQuery)
	}
}

func (h *Handler) handleMessage(ctx context.Context, msg *telegram.Message) {
	chatID := msg.Chat.ID
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}

	sess, err := h.sessions.Ensure(chatID)
	if err != nil {
		h.log.Error("加载会话失败", zap.Int64("chat_id", chatID), zap.Error(err))
		return
	}

	if text == "/start" {
		h.timers.Stop(chatID)
		h.reply(ctx, chatID, "👋 Welcome!\n\nChoose a service:", mainMenuMarkup())
		return
	}

	if sess.AwaitingUsername {
		h.captureUsername(ctx, chatID, text)
		return
	}
	if sess.AwaitingCheckerIDs {
		h.handleCheckerInput(ctx, chatID, text)
		return
	}

	switch text {
	case menuTempMail:
		h.reply(ctx, chatID, "Welcome to Temp Mail!", tempMailMenuMarkup(chatID == h.adminChatID))
	case menuAuthenticator:
		h.reply(ctx, chatID, "Send your 2FA secret key.", nil)
	case menuChecker:
		h.enterCheckerMode(ctx, chatID)
	default:
		h.startCountdown(ctx, chatID, text)
	}
}

// startCountdown 把自由文本当作 2FA 密钥启动倒计时
func (h *Handler) startCountdown(ctx context.Context, chatID int64, secret string) {
	err := h.timers.Start(ctx, chatID, secret)
	if err == nil {
		return
	}
	if errors.Is(err, otp.ErrInvalidSecret) {
		h.reply(ctx, chatID, "⚠️ Invalid input.", nil)
		return
	}
	h.log.Warn("启动倒计时失败", zap.Int64("chat_id", chatID), zap.Error(err))
}

func (h *Handler) captureUsername(ctx context.Context, chatID int64, text string) {
	if err := h.sessions.SetUsername(chatID, text); err != nil {
		h.reply(ctx, chatID, "⚠️ Username must be alphanumeric only. Try again.", nil)
		return
	}
	h.reply(ctx, chatID,
		fmt.Sprintf("✅ Username set to: %s", strings.TrimSpace(text)),
		tempMailMenuMarkup(chatID == h.adminChatID))
}

func (h *Handler) enterCheckerMode(ctx context.Context, chatID int64) {
	if err := h.sessions.SetCheckerState(chatID, true, false); err != nil {
		h.log.Error("进入检测模式失败", zap.Int64("chat_id", chatID), zap.Error(err))
		return
	}
	h.reply(ctx, chatID,
		"🔍 Facebook Checker Mode\n\nSend me one or more Facebook IDs (separated by commas, spaces, or newlines).\nYou can also enable/disable 'Check Friends'.",
		checkerMenuMarkup())
}

// handleCheckerInput 检测模式下的文本：先匹配菜单按钮，再按 id 列表处理
func (h *Handler) handleCheckerInput(ctx context.Context, chatID int64, text string) {
	switch text {
	case checkerEnableFriends:
		if err := h.sessions.SetCheckerState(chatID, true, true); err == nil {
			h.reply(ctx, chatID, "✅ Friends check enabled.", nil)
		}
		return
	case checkerDisableFriends:
		if err := h.sessions.SetCheckerState(chatID, true, false); err == nil {
			h.reply(ctx, chatID, "❌ Friends check disabled.", nil)
		}
		return
	case checkerBack:
		if err := h.sessions.SetCheckerState(chatID, false, false); err == nil {
			h.reply(ctx, chatID, "↩️ Back to main menu.", mainMenuMarkup())
		}
		return
	}

	ids, err := checker.ParseIDs(text)
	if err != nil {
		h.reply(ctx, chatID, "⚠️ Please send valid numeric Facebook IDs.", nil)
		return
	}

	sess, err := h.sessions.Get(chatID)
	if err != nil {
		h.log.Error("加载会话失败", zap.Int64("chat_id", chatID), zap.Error(err))
		return
	}

	report, err := h.checks.Check(ctx, ids, sess.CheckFriends)
	if err != nil {
		h.reply(ctx, chatID, fmt.Sprintf("❌ API error: %v", err), nil)
		return
	}

	h.replyHTML(ctx, chatID, report.Summary())
	if err := h.client.SendDocument(ctx, chatID, "facebook_check.txt",
		"📤 Facebook Check Results", report.Attachment()); err != nil {
		h.log.Warn("发送检测结果附件失败", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

func (h *Handler) handleCallback(ctx context.Context, query *telegram.CallbackQuery) {
	if query.Message == nil {
		h.answer(ctx, query.ID, "", false)
		return
	}
	chatID := query.Message.Chat.ID

	switch {
	case query.Data == callbackClaim:
		h.timers.Acknowledge(ctx, chatID)
		h.answer(ctx, query.ID, "", false)

	case query.Data == callbackGenerate:
		h.generateMailbox(ctx, chatID)
		h.answer(ctx, query.ID, "", false)

	case query.Data == callbackAutoGen:
		on, err := h.sessions.ToggleAutoGenerate(chatID)
		if err != nil {
			h.answer(ctx, query.ID, "⚠️ Something went wrong.", true)
			return
		}
		status := "OFF ❌"
		if on {
			status = "ON ✅"
		}
		h.answer(ctx, query.ID, fmt.Sprintf("Auto gen is now %s", status), true)

	case query.Data == callbackSetUsername:
		if err := h.sessions.AwaitUsername(chatID, true); err == nil {
			h.reply(ctx, chatID, "✍️ Please type your desired username (alphanumeric only).", nil)
		}
		h.answer(ctx, query.ID, "", false)

	case query.Data == callbackExportAll,
		strings.HasPrefix(query.Data, callbackUserListPrefix),
		strings.HasPrefix(query.Data, callbackExportUserPrefix),
		strings.HasPrefix(query.Data, callbackUserDetailPrefix):
		h.handleAdminCallback(ctx, query)

	default:
		h.answer(ctx, query.ID, "", false)
	}
}

// generateMailbox 生成新邮箱。进入邮箱流程即结束倒计时。
func (h *Handler) generateMailbox(ctx context.Context, chatID int64) {
	h.timers.Stop(chatID)

	address, err := h.sessions.GenerateMailbox(chatID)
	if err != nil {
		h.log.Error("生成邮箱失败", zap.Int64("chat_id", chatID), zap.Error(err))
		h.reply(ctx, chatID, "⚠️ Could not generate a mailbox, try again.", nil)
		return
	}
	if _, err := h.client.SendMessage(ctx, telegram.SendMessageRequest{
		ChatID:      chatID,
		Text:        fmt.Sprintf("〽️New Web Mail Generated:\n<code>%s</code>", address),
		ParseMode:   "HTML",
		ReplyMarkup: tempMailMenuMarkup(chatID == h.adminChatID),
	}); err != nil {
		h.log.Warn("发送新邮箱消息失败", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

func (h *Handler) reply(ctx context.Context, chatID int64, text string, markup any) {
	if _, err := h.client.SendMessage(ctx, telegram.SendMessageRequest{
		ChatID:      chatID,
		Text:        text,
		ReplyMarkup: markup,
	}); err != nil {
		h.log.Warn("发送消息失败", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

func (h *Handler) replyHTML(ctx context.Context, chatID int64, text string) {
	if _, err := h.client.SendMessage(ctx, telegram.SendMessageRequest{
		ChatID:    chatID,
		Text:      text,
		ParseMode: "HTML",
	}); err != nil {
		h.log.Warn("发送消息失败", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

func (h *Handler) answer(ctx context.Context, queryID, text string, alert bool) {
	if err := h.client.AnswerCallbackQuery(ctx, telegram.AnswerCallbackQueryRequest{
		CallbackQueryID: queryID,
		Text:            text,
		ShowAlert:       alert,
	}); err != nil {
		h.log.Debug("应答回调失败", zap.String("query_id", queryID), zap.Error(err))
	}
}

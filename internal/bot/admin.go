package bot

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"otpmail/bot/internal/domain"
	"otpmail/bot/internal/transport/telegram"
)

func (h *Handler) handleAdminCallback(ctx context.Context, query *telegram.CallbackQuery) {
	chatID := query.Message.Chat.ID
	if chatID != h.adminChatID {
		h.answer(ctx, query.ID, "⛔ Not authorized!", true)
		return
	}

	switch {
	case strings.HasPrefix(query.Data, callbackUserListPrefix):
		page, _ := strconv.Atoi(strings.TrimPrefix(query.Data, callbackUserListPrefix))
		h.showUserList(ctx, chatID, query.Message.MessageID, page)
	case strings.HasPrefix(query.Data, callbackExportUserPrefix):
		target, err := strconv.ParseInt(strings.TrimPrefix(query.Data, callbackExportUserPrefix), 10, 64)
		if err != nil {
			h.answer(ctx, query.ID, "❌ No user data", true)
			return
		}
		h.exportUser(ctx, query, target)
		return
	case strings.HasPrefix(query.Data, callbackUserDetailPrefix):
		target, err := strconv.ParseInt(strings.TrimPrefix(query.Data, callbackUserDetailPrefix), 10, 64)
		if err != nil {
			h.answer(ctx, query.ID, "❌ No data for this user.", true)
			return
		}
		h.showUserDetail(ctx, chatID, query.Message.MessageID, target)
	case query.Data == callbackExportAll:
		h.exportAllUsers(ctx, query)
		return
	}
	h.answer(ctx, query.ID, "", false)
}

// showUserList 按固定页大小分页展示全部会话
func (h *Handler) showUserList(ctx context.Context, chatID, messageID int64, page int) {
	sessions := h.sortedSessions()
	total := len(sessions)
	if total == 0 {
		h.edit(ctx, chatID, messageID, "📭 No users yet.", nil)
		return
	}

	start := page * h.usersPerPage
	if start >= total {
		start = 0
		page = 0
	}
	end := start + h.usersPerPage
	if end > total {
		end = total
	}

	var buttons [][]telegram.InlineKeyboardButton
	for _, sess := range sessions[start:end] {
		buttons = append(buttons, []telegram.InlineKeyboardButton{{
			Text:         fmt.Sprintf("User %d (%d mails)", sess.ChatID, len(sess.Mailboxes)),
			CallbackData: fmt.Sprintf("%s%d", callbackUserDetailPrefix, sess.ChatID),
		}})
	}

	var nav []telegram.InlineKeyboardButton
	if page > 0 {
		nav = append(nav, telegram.InlineKeyboardButton{
			Text:         "⏮️ Back",
			CallbackData: fmt.Sprintf("%s%d", callbackUserListPrefix, page-1),
		})
	}
	if end < total {
		nav = append(nav, telegram.InlineKeyboardButton{
			Text:         "Next ⏭️",
			CallbackData: fmt.Sprintf("%s%d", callbackUserListPrefix, page+1),
		})
	}
	if len(nav) > 0 {
		buttons = append(buttons, nav)
	}

	text := fmt.Sprintf("👤 <b>User List (Page %d)</b>\nTotal: %d", page+1, total)
	h.edit(ctx, chatID, messageID, text, &telegram.InlineKeyboardMarkup{InlineKeyboard: buttons})
}

func (h *Handler) showUserDetail(ctx context.Context, chatID, messageID, targetID int64) {
	sess, err := h.sessions.Get(targetID)
	if err != nil {
		h.edit(ctx, chatID, messageID, "❌ No data for this user.", nil)
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "👤 User <code>%d</code>\n📧 Total: %d\n✅ Active: %s\n\n📜 History:\n",
		sess.ChatID, len(sess.Mailboxes), sess.ActiveMailbox)
	if len(sess.Mailboxes) == 0 {
		b.WriteString("No mails.")
	} else {
		for _, m := range sess.Mailboxes {
			fmt.Fprintf(&b, "• <code>%s</code> (🕒 %s)\n", m.Address, m.CreatedAt.Format(time.RFC3339))
		}
	}

	markup := &telegram.InlineKeyboardMarkup{InlineKeyboard: [][]telegram.InlineKeyboardButton{
		{{Text: "📤 Export This User", CallbackData: fmt.Sprintf("%s%d", callbackExportUserPrefix, targetID)}},
		{{Text: "⬅️ Back", CallbackData: callbackUserListPrefix + "0"}},
	}}
	h.edit(ctx, chatID, messageID, b.String(), markup)
}

func (h *Handler) exportUser(ctx context.Context, query *telegram.CallbackQuery, targetID int64) {
	sess, err := h.sessions.Get(targetID)
	if err != nil {
		h.answer(ctx, query.ID, "❌ No user data", true)
		return
	}

	content, err := MailboxCSV([]domain.Session{*sess})
	if err != nil {
		h.log.Error("导出CSV失败", zap.Int64("target", targetID), zap.Error(err))
		h.answer(ctx, query.ID, "⚠️ Export failed.", true)
		return
	}

	filename := fmt.Sprintf("user_%d.csv", targetID)
	caption := fmt.Sprintf("📤 User %d export", targetID)
	if err := h.client.SendDocument(ctx, h.adminChatID, filename, caption, content); err != nil {
		h.log.Warn("发送导出文件失败", zap.Error(err))
	}
	h.answer(ctx, query.ID, "", false)
}

func (h *Handler) exportAllUsers(ctx context.Context, query *telegram.CallbackQuery) {
	sessions := h.sortedSessions()
	if len(sessions) == 0 {
		h.edit(ctx, query.Message.Chat.ID, query.Message.MessageID, "📭 No user data.", nil)
		h.answer(ctx, query.ID, "", false)
		return
	}

	content, err := MailboxCSV(sessions)
	if err != nil {
		h.log.Error("导出CSV失败", zap.Error(err))
		h.answer(ctx, query.ID, "⚠️ Export failed.", true)
		return
	}

	if err := h.client.SendDocument(ctx, h.adminChatID, "user_data.csv", "📤 All users export", content); err != nil {
		h.log.Warn("发送导出文件失败", zap.Error(err))
	}
	h.answer(ctx, query.ID, "", false)
}

// sortedSessions 按 chat id 升序返回全部会话，分页顺序稳定
func (h *Handler) sortedSessions() []domain.Session {
	sessions := h.sessions.List()
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].ChatID < sessions[j].ChatID
	})
	return sessions
}

// MailboxCSV 渲染邮箱历史导出文件
func MailboxCSV(sessions []domain.Session) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)
	if err := writer.Write([]string{"User ID", "Email", "Created At"}); err != nil {
		return nil, err
	}
	for _, sess := range sessions {
		for _, m := range sess.Mailboxes {
			row := []string{
				strconv.FormatInt(sess.ChatID, 10),
				m.Address,
				m.CreatedAt.Format(time.RFC3339),
			}
			if err := writer.Write(row); err != nil {
				return nil, err
			}
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (h *Handler) edit(ctx context.Context, chatID, messageID int64, text string, markup *telegram.InlineKeyboardMarkup) {
	req := telegram.EditMessageTextRequest{
		ChatID:    chatID,
		MessageID: messageID,
		Text:      text,
		ParseMode: "HTML",
	}
	if markup != nil {
		req.ReplyMarkup = markup
	}
	if err := h.client.EditMessageText(ctx, req); err != nil {
		h.log.Warn("编辑消息失败", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

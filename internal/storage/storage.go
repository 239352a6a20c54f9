package storage

import (
	"errors"

	"otpmail/bot/internal/domain"
)

var (
	// ErrSessionNotFound 会话不存在错误
	ErrSessionNotFound = errors.New("session not found")
	// ErrMailboxNotOwned 地址不属于该会话的历史邮箱
	ErrMailboxNotOwned = errors.New("mailbox not owned by session")
)

// SessionRepository 定义会话数据存取操作。
//
// 实现必须对单个会话的并发修改做串行化：同一会话的定时器滴答、
// 轮询扫描与用户操作可能同时到达；不同会话之间互不影响。
type SessionRepository interface {
	// EnsureSession 返回会话，不存在时创建空会话。
	EnsureSession(chatID int64) (*domain.Session, error)
	// GetSession 返回会话，不存在时返回 ErrSessionNotFound。
	GetSession(chatID int64) (*domain.Session, error)
	// ListSessions 返回全部会话的副本。
	ListSessions() []domain.Session
	// ListPollable 返回所有设置了活动邮箱的会话的副本。
	ListPollable() []domain.Session

	// AppendMailbox 把新地址追加进历史并设为活动邮箱，同时清零去重游标。
	AppendMailbox(chatID int64, record domain.MailboxRecord) error
	// SetLastSeenID 推进去重游标。mailbox 必须仍是当前活动邮箱，
	// 否则写入被拒绝（游标只对产生它的邮箱有意义）。
	SetLastSeenID(chatID int64, mailbox string, id int64) error
	// SetUsername 设置生成邮箱时使用的前缀。
	SetUsername(chatID int64, username string) error
	// SetAutoGenerate 设置自动生成开关。
	SetAutoGenerate(chatID int64, enabled bool) error
	// SetAwaitingUsername 设置"下一条文本作为用户名"标记。
	SetAwaitingUsername(chatID int64, awaiting bool) error
	// SetCheckerState 设置账号检测流程标记。
	SetCheckerState(chatID int64, awaiting, checkFriends bool) error
}

// Store 聚合会话存取与运维操作。
type Store interface {
	SessionRepository

	// Health 检查存储可用性。
	Health() error
	// Close 释放底层连接。
	Close() error
}

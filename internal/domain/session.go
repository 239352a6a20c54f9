package domain

import (
	"time"
)

// Session 表示一个聊天会话的全部持久状态。
//
// 每个聊天（chat id）对应一个 Session，首次交互时创建，
// 进程生命周期内常驻（淘汰策略由外部负责）。
type Session struct {
	ChatID        int64           `json:"chatId" gorm:"primaryKey"`
	Mailboxes     []MailboxRecord `json:"mailboxes" gorm:"foreignKey:SessionChatID;constraint:OnDelete:CASCADE"`
	ActiveMailbox string          `json:"activeMailbox" gorm:"type:varchar(255)"` // 当前轮询的邮箱地址，空表示无
	LastSeenID    int64           `json:"lastSeenId"`                             // 去重游标：已观察到的最大邮件ID，0 表示从未观察
	Username      string          `json:"username" gorm:"type:varchar(64)"`       // 生成邮箱时使用的本地部分前缀
	AutoGenerate  bool            `json:"autoGenerate"`                           // 自动生成邮箱开关
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`

	// 菜单流程标记：由外层消息处理流程设置，决定下一条自由文本的去向
	AwaitingUsername   bool `json:"-"`
	AwaitingCheckerIDs bool `json:"-"`
	CheckFriends       bool `json:"-"`
}

// MailboxRecord 表示会话历史中的一个邮箱地址（只追加，不删除）。
type MailboxRecord struct {
	ID            string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	SessionChatID int64     `json:"-" gorm:"index;not null"`
	Address       string    `json:"address" gorm:"type:varchar(255);index"`
	CreatedAt     time.Time `json:"createdAt"`
}

// HasMailbox 判断地址是否属于该会话的历史邮箱。
func (s *Session) HasMailbox(address string) bool {
	for _, m := range s.Mailboxes {
		if m.Address == address {
			return true
		}
	}
	return false
}

// MailMessage 表示邮件提供方返回的一封邮件。
type MailMessage struct {
	ID      int64  `json:"id"`
	Sender  string `json:"sender"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// CodeNotification 表示从邮件中提取到验证码后产生的通知。
type CodeNotification struct {
	ChatID    int64  `json:"chatId"`
	Sender    string `json:"sender"`  // 规范化后的发件人显示名
	Code      string `json:"code"`    // 提取到的数字验证码
	MessageID int64  `json:"messageId"`
}

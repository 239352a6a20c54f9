package memory

import (
	"sort"
	"sync"
	"time"

	"otpmail/bot/internal/domain"
	"otpmail/bot/internal/storage"
)

// Store 使用内存保存会话数据，进程重启后丢失，主要用于开发验证。
type Store struct {
	mu       sync.RWMutex
	sessions map[int64]*domain.Session
}

// NewStore 创建内存存储。
func NewStore() *Store {
	return &Store{
		sessions: make(map[int64]*domain.Session),
	}
}

// EnsureSession 返回会话，不存在时创建空会话。
func (s *Store) EnsureSession(chatID int64) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[chatID]
	if !ok {
		now := time.Now().UTC()
		sess = &domain.Session{
			ChatID:    chatID,
			CreatedAt: now,
			UpdatedAt: now,
		}
		s.sessions[chatID] = sess
	}
	return copySession(sess), nil
}

// GetSession 返回会话副本。
func (s *Store) GetSession(chatID int64) (*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[chatID]
	if !ok {
		return nil, storage.ErrSessionNotFound
	}
	return copySession(sess), nil
}

// ListSessions 返回全部会话副本，按创建时间排序。
func (s *Store) ListSessions() []domain.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, *copySession(sess))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ChatID < out[j].ChatID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// ListPollable 返回所有设置了活动邮箱的会话副本。
func (s *Store) ListPollable() []domain.Session {
	all := s.ListSessions()
	out := all[:0]
	for _, sess := range all {
		if sess.ActiveMailbox != "" {
			out = append(out, sess)
		}
	}
	return out
}

// AppendMailbox 追加邮箱地址并切换活动邮箱，游标清零。
func (s *Store) AppendMailbox(chatID int64, record domain.MailboxRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[chatID]
	if !ok {
		return storage.ErrSessionNotFound
	}

	record.SessionChatID = chatID
	sess.Mailboxes = append(sess.Mailboxes, record)
	sess.ActiveMailbox = record.Address
	sess.LastSeenID = 0
	sess.UpdatedAt = time.Now().UTC()
	return nil
}

// SetLastSeenID 推进去重游标；邮箱已切换时写入被静默拒绝。
func (s *Store) SetLastSeenID(chatID int64, mailbox string, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[chatID]
	if !ok {
		return storage.ErrSessionNotFound
	}
	if sess.ActiveMailbox != mailbox {
		return storage.ErrMailboxNotOwned
	}
	if id > sess.LastSeenID {
		sess.LastSeenID = id
		sess.UpdatedAt = time.Now().UTC()
	}
	return nil
}

// SetUsername 设置地址前缀。
func (s *Store) SetUsername(chatID int64, username string) error {
	return s.update(chatID, func(sess *domain.Session) {
		sess.Username = username
	})
}

// SetAutoGenerate 设置自动生成开关。
func (s *Store) SetAutoGenerate(chatID int64, enabled bool) error {
	return s.update(chatID, func(sess *domain.Session) {
		sess.AutoGenerate = enabled
	})
}

// SetAwaitingUsername 设置用户名捕获标记。
func (s *Store) SetAwaitingUsername(chatID int64, awaiting bool) error {
	return s.update(chatID, func(sess *domain.Session) {
		sess.AwaitingUsername = awaiting
	})
}

// SetCheckerState 设置账号检测流程标记。
func (s *Store) SetCheckerState(chatID int64, awaiting, checkFriends bool) error {
	return s.update(chatID, func(sess *domain.Session) {
		sess.AwaitingCheckerIDs = awaiting
		sess.CheckFriends = checkFriends
	})
}

// Health 内存存储恒为健康。
func (s *Store) Health() error { return nil }

// Close 无需释放资源。
func (s *Store) Close() error { return nil }

func (s *Store) update(chatID int64, fn func(*domain.Session)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[chatID]
	if !ok {
		return storage.ErrSessionNotFound
	}
	fn(sess)
	sess.UpdatedAt = time.Now().UTC()
	return nil
}

// copySession 深拷贝会话，避免调用方持有内部指针。
func copySession(sess *domain.Session) *domain.Session {
	out := *sess
	out.Mailboxes = make([]domain.MailboxRecord, len(sess.Mailboxes))
	copy(out.Mailboxes, sess.Mailboxes)
	return &out
}

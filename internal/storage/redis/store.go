package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"otpmail/bot/internal/domain"
	"otpmail/bot/internal/storage"
)

const (
	sessionKeyPrefix = "otpbot:session:"
	sessionIndexKey  = "otpbot:sessions"

	opTimeout = 3 * time.Second
)

// Store 基于 Redis 的会话存储。
//
// 会话整体以 JSON 存在 otpbot:session:<chatID>，
// otpbot:sessions 集合维护全部 chat id 作为遍历索引。
// 读-改-写通过本地互斥锁串行化（单实例部署假设，与定时器/轮询的
// 每会话串行化约束一致）。
type Store struct {
	rdb *goredis.Client
	mu  sync.Mutex
}

// NewStore 创建 Redis 会话存储并验证连通性。
func NewStore(address, password string, db int) (*Store, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:         address,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Store{rdb: rdb}, nil
}

// NewStoreWithClient 使用现成的客户端创建存储（测试用）。
func NewStoreWithClient(rdb *goredis.Client) *Store {
	return &Store{rdb: rdb}
}

func sessionKey(chatID int64) string {
	return fmt.Sprintf("%s%d", sessionKeyPrefix, chatID)
}

// EnsureSession 返回会话，不存在时创建空会话。
func (s *Store) EnsureSession(chatID int64) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.load(chatID)
	if err == nil {
		return sess, nil
	}
	if !errors.Is(err, storage.ErrSessionNotFound) {
		return nil, err
	}

	now := time.Now().UTC()
	sess = &domain.Session{
		ChatID:    chatID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.save(sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// GetSession 返回会话。
func (s *Store) GetSession(chatID int64) (*domain.Session, error) {
	return s.load(chatID)
}

// ListSessions 返回全部会话，按创建时间排序。
func (s *Store) ListSessions() []domain.Session {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	ids, err := s.rdb.SMembers(ctx, sessionIndexKey).Result()
	if err != nil {
		return nil
	}

	out := make([]domain.Session, 0, len(ids))
	for _, id := range ids {
		var chatID int64
		if _, err := fmt.Sscanf(id, "%d", &chatID); err != nil {
			continue
		}
		sess, err := s.load(chatID)
		if err != nil {
			continue
		}
		out = append(out, *sess)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ChatID < out[j].ChatID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// ListPollable 返回设置了活动邮箱的会话。
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

// AppendMailbox 追加邮箱并切换活动地址。
func (s *Store) AppendMailbox(chatID int64, record domain.MailboxRecord) error {
	return s.update(chatID, func(sess *domain.Session) error {
		record.SessionChatID = chatID
		if record.CreatedAt.IsZero() {
			record.CreatedAt = time.Now().UTC()
		}
		sess.Mailboxes = append(sess.Mailboxes, record)
		sess.ActiveMailbox = record.Address
		sess.LastSeenID = 0
		return nil
	})
}

// SetLastSeenID 推进去重游标，仅当邮箱仍为活动邮箱时生效。
func (s *Store) SetLastSeenID(chatID int64, mailbox string, id int64) error {
	return s.update(chatID, func(sess *domain.Session) error {
		if sess.ActiveMailbox != mailbox {
			return storage.ErrMailboxNotOwned
		}
		if id > sess.LastSeenID {
			sess.LastSeenID = id
		}
		return nil
	})
}

// SetUsername 设置地址前缀。
func (s *Store) SetUsername(chatID int64, username string) error {
	return s.update(chatID, func(sess *domain.Session) error {
		sess.Username = username
		return nil
	})
}

// SetAutoGenerate 设置自动生成开关。
func (s *Store) SetAutoGenerate(chatID int64, enabled bool) error {
	return s.update(chatID, func(sess *domain.Session) error {
		sess.AutoGenerate = enabled
		return nil
	})
}

// SetAwaitingUsername 设置用户名捕获标记。
func (s *Store) SetAwaitingUsername(chatID int64, awaiting bool) error {
	return s.update(chatID, func(sess *domain.Session) error {
		sess.AwaitingUsername = awaiting
		return nil
	})
}

// SetCheckerState 设置账号检测流程标记。
func (s *Store) SetCheckerState(chatID int64, awaiting, checkFriends bool) error {
	return s.update(chatID, func(sess *domain.Session) error {
		sess.AwaitingCheckerIDs = awaiting
		sess.CheckFriends = checkFriends
		return nil
	})
}

// Health 检查 Redis 连通性。
func (s *Store) Health() error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	return s.rdb.Ping(ctx).Err()
}

// Close 关闭 Redis 连接。
func (s *Store) Close() error {
	return s.rdb.Close()
}

func (s *Store) load(chatID int64) (*domain.Session, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	data, err := s.rdb.Get(ctx, sessionKey(chatID)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, storage.ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}

	var sess sessionRecord
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("corrupt session %d: %w", chatID, err)
	}
	return sess.toDomain(), nil
}

func (s *Store) save(sess *domain.Session) error {
	data, err := json.Marshal(fromDomain(sess))
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, sessionKey(sess.ChatID), data, 0)
	pipe.SAdd(ctx, sessionIndexKey, fmt.Sprintf("%d", sess.ChatID))
	_, err = pipe.Exec(ctx)
	return err
}

func (s *Store) update(chatID int64, fn func(*domain.Session) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.load(chatID)
	if err != nil {
		return err
	}
	if err := fn(sess); err != nil {
		return err
	}
	sess.UpdatedAt = time.Now().UTC()
	return s.save(sess)
}

// sessionRecord 是会话的 Redis 序列化形式。
// 与 domain.Session 分开定义，保证 `json:"-"` 的流程标记也被持久化。
type sessionRecord struct {
	domain.Session
	AwaitingUsername   bool `json:"awaitingUsername"`
	AwaitingCheckerIDs bool `json:"awaitingCheckerIds"`
	CheckFriends       bool `json:"checkFriends"`
}

func fromDomain(sess *domain.Session) *sessionRecord {
	return &sessionRecord{
		Session:            *sess,
		AwaitingUsername:   sess.AwaitingUsername,
		AwaitingCheckerIDs: sess.AwaitingCheckerIDs,
		CheckFriends:       sess.CheckFriends,
	}
}

func (r *sessionRecord) toDomain() *domain.Session {
	sess := r.Session
	sess.AwaitingUsername = r.AwaitingUsername
	sess.AwaitingCheckerIDs = r.AwaitingCheckerIDs
	sess.CheckFriends = r.CheckFriends
	return &sess
}

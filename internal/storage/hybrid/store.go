package hybrid

import (
	"fmt"
	"time"

	"otpmail/bot/internal/domain"
	"otpmail/bot/internal/storage/redis"
	sqlstore "otpmail/bot/internal/storage/sql"
)

const sessionCacheTTL = 10 * time.Minute

// Store 混合存储：SQL 为事实来源，Redis 作为读缓存。
//
// 所有写操作先落库再使缓存失效；读操作优先命中缓存。
// 缓存失败只影响性能不影响正确性，因此失效/回填错误被忽略。
type Store struct {
	sql   *sqlstore.Store
	cache *redis.Cache
}

// NewStoreWithType 创建混合存储实例（指定数据库类型）。
func NewStoreWithType(dbType, dsn string, maxOpenConns, maxIdleConns int, connMaxLifetime time.Duration, redisAddr, redisPassword string, redisDB int) (*Store, error) {
	dbStore, err := sqlstore.NewStore(dbType, dsn, maxOpenConns, maxIdleConns, connMaxLifetime)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	cache, err := redis.NewCache(redisAddr, redisPassword, redisDB)
	if err != nil {
		dbStore.Close()
		return nil, fmt.Errorf("failed to initialize redis: %w", err)
	}

	return &Store{sql: dbStore, cache: cache}, nil
}

// EnsureSession 返回会话，不存在时创建。
func (s *Store) EnsureSession(chatID int64) (*domain.Session, error) {
	sess, err := s.sql.EnsureSession(chatID)
	if err != nil {
		return nil, err
	}
	_ = s.cache.CacheSession(sess, sessionCacheTTL)
	return sess, nil
}

// GetSession 优先从缓存读取会话。
func (s *Store) GetSession(chatID int64) (*domain.Session, error) {
	if sess, err := s.cache.GetCachedSession(chatID); err == nil {
		return sess, nil
	}

	sess, err := s.sql.GetSession(chatID)
	if err != nil {
		return nil, err
	}
	_ = s.cache.CacheSession(sess, sessionCacheTTL)
	return sess, nil
}

// ListSessions 列表查询不走缓存。
func (s *Store) ListSessions() []domain.Session {
	return s.sql.ListSessions()
}

// ListPollable 列表查询不走缓存。
func (s *Store) ListPollable() []domain.Session {
	return s.sql.ListPollable()
}

// AppendMailbox 先落库，再使缓存失效。
func (s *Store) AppendMailbox(chatID int64, record domain.MailboxRecord) error {
	if err := s.sql.AppendMailbox(chatID, record); err != nil {
		return err
	}
	s.cache.InvalidateSession(chatID)
	return nil
}

// SetLastSeenID 先落库，再使缓存失效。
func (s *Store) SetLastSeenID(chatID int64, mailbox string, id int64) error {
	if err := s.sql.SetLastSeenID(chatID, mailbox, id); err != nil {
		return err
	}
	s.cache.InvalidateSession(chatID)
	return nil
}

// SetUsername 先落库，再使缓存失效。
func (s *Store) SetUsername(chatID int64, username string) error {
	if err := s.sql.SetUsername(chatID, username); err != nil {
		return err
	}
	s.cache.InvalidateSession(chatID)
	return nil
}

// SetAutoGenerate 先落库，再使缓存失效。
func (s *Store) SetAutoGenerate(chatID int64, enabled bool) error {
	if err := s.sql.SetAutoGenerate(chatID, enabled); err != nil {
		return err
	}
	s.cache.InvalidateSession(chatID)
	return nil
}

// SetAwaitingUsername 先落库，再使缓存失效。
func (s *Store) SetAwaitingUsername(chatID int64, awaiting bool) error {
	if err := s.sql.SetAwaitingUsername(chatID, awaiting); err != nil {
		return err
	}
	s.cache.InvalidateSession(chatID)
	return nil
}

// SetCheckerState 先落库，再使缓存失效。
func (s *Store) SetCheckerState(chatID int64, awaiting, checkFriends bool) error {
	if err := s.sql.SetCheckerState(chatID, awaiting, checkFriends); err != nil {
		return err
	}
	s.cache.InvalidateSession(chatID)
	return nil
}

// Health 数据库与缓存都健康才算健康。
func (s *Store) Health() error {
	if err := s.sql.Health(); err != nil {
		return err
	}
	return s.cache.Health()
}

// Close 关闭底层连接。
func (s *Store) Close() error {
	cacheErr := s.cache.Close()
	if err := s.sql.Close(); err != nil {
		return err
	}
	return cacheErr
}

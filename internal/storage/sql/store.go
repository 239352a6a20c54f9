package sql

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql" // MySQL driver
	_ "github.com/lib/pq"              // PostgreSQL driver
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"otpmail/bot/internal/domain"
	"otpmail/bot/internal/storage"
)

// Store SQL 数据库会话存储（支持 MySQL 5.7+ 和 PostgreSQL）
type Store struct {
	db         *sql.DB
	gormDB     *gorm.DB // GORM 实例，仅用于自动迁移
	driverName string   // "mysql" or "postgres"
}

// NewStore 创建 SQL 数据库存储。
func NewStore(
	driverName string,
	dsn string,
	maxOpenConns int,
	maxIdleConns int,
	connMaxLifetime time.Duration,
) (*Store, error) {
	if driverName != "mysql" && driverName != "postgres" {
		return nil, fmt.Errorf("unsupported database driver: %s (supported: mysql, postgres)", driverName)
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	var gormDB *gorm.DB
	if driverName == "mysql" {
		gormDB, err = gorm.Open(mysql.New(mysql.Config{Conn: db}), gormConfig)
	} else {
		gormDB, err = gorm.Open(postgres.New(postgres.Config{Conn: db}), gormConfig)
	}
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize GORM: %w", err)
	}

	store := &Store{
		db:         db,
		gormDB:     gormDB,
		driverName: driverName,
	}

	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// migrate 执行数据库迁移（使用 GORM AutoMigrate）
func (s *Store) migrate() error {
	return s.gormDB.AutoMigrate(
		&domain.Session{},
		&domain.MailboxRecord{},
	)
}

// rebind 把 `?` 占位符转换为 PostgreSQL 的 `$n` 形式。
func (s *Store) rebind(query string) string {
	if s.driverName != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// EnsureSession 返回会话，不存在时创建空会话。
func (s *Store) EnsureSession(chatID int64) (*domain.Session, error) {
	sess, err := s.GetSession(chatID)
	if err == nil {
		return sess, nil
	}
	if !errors.Is(err, storage.ErrSessionNotFound) {
		return nil, err
	}

	now := time.Now().UTC()
	query := s.rebind(`
		INSERT INTO sessions (chat_id, active_mailbox, last_seen_id, username, auto_generate,
		                      awaiting_username, awaiting_checker_ids, check_friends, created_at, updated_at)
		VALUES (?, '', 0, '', ?, ?, ?, ?, ?, ?)
	`)
	if _, err := s.db.Exec(query, chatID, false, false, false, false, now, now); err != nil {
		// 并发创建时主键冲突，重新读取即可
		if sess, getErr := s.GetSession(chatID); getErr == nil {
			return sess, nil
		}
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	return s.GetSession(chatID)
}

// GetSession 返回会话及其邮箱历史。
func (s *Store) GetSession(chatID int64) (*domain.Session, error) {
	query := s.rebind(`
		SELECT chat_id, active_mailbox, last_seen_id, username, auto_generate,
		       awaiting_username, awaiting_checker_ids, check_friends, created_at, updated_at
		FROM sessions
		WHERE chat_id = ?
	`)

	var sess domain.Session
	err := s.db.QueryRow(query, chatID).Scan(
		&sess.ChatID,
		&sess.ActiveMailbox,
		&sess.LastSeenID,
		&sess.Username,
		&sess.AutoGenerate,
		&sess.AwaitingUsername,
		&sess.AwaitingCheckerIDs,
		&sess.CheckFriends,
		&sess.CreatedAt,
		&sess.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}

	records, err := s.listMailboxes(chatID)
	if err != nil {
		return nil, err
	}
	sess.Mailboxes = records

	return &sess, nil
}

// ListSessions 返回全部会话。
func (s *Store) ListSessions() []domain.Session {
	return s.listSessions("")
}

// ListPollable 返回设置了活动邮箱的会话。
func (s *Store) ListPollable() []domain.Session {
	return s.listSessions("WHERE active_mailbox <> ''")
}

func (s *Store) listSessions(where string) []domain.Session {
	query := fmt.Sprintf(`
		SELECT chat_id, active_mailbox, last_seen_id, username, auto_generate,
		       awaiting_username, awaiting_checker_ids, check_friends, created_at, updated_at
		FROM sessions %s
		ORDER BY created_at, chat_id
	`, where)

	rows, err := s.db.Query(query)
	if err != nil {
		return nil
	}
	defer rows.Close()

	var sessions []domain.Session
	for rows.Next() {
		var sess domain.Session
		if err := rows.Scan(
			&sess.ChatID,
			&sess.ActiveMailbox,
			&sess.LastSeenID,
			&sess.Username,
			&sess.AutoGenerate,
			&sess.AwaitingUsername,
			&sess.AwaitingCheckerIDs,
			&sess.CheckFriends,
			&sess.CreatedAt,
			&sess.UpdatedAt,
		); err != nil {
			continue
		}
		sessions = append(sessions, sess)
	}

	for i := range sessions {
		records, err := s.listMailboxes(sessions[i].ChatID)
		if err == nil {
			sessions[i].Mailboxes = records
		}
	}

	return sessions
}

func (s *Store) listMailboxes(chatID int64) ([]domain.MailboxRecord, error) {
	query := s.rebind(`
		SELECT id, session_chat_id, address, created_at
		FROM mailbox_records
		WHERE session_chat_id = ?
		ORDER BY created_at, id
	`)

	rows, err := s.db.Query(query, chatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []domain.MailboxRecord
	for rows.Next() {
		var rec domain.MailboxRecord
		if err := rows.Scan(&rec.ID, &rec.SessionChatID, &rec.Address, &rec.CreatedAt); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// AppendMailbox 追加邮箱并切换活动地址（事务内完成）。
func (s *Store) AppendMailbox(chatID int64, record domain.MailboxRecord) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	res, err := tx.Exec(s.rebind(`
		UPDATE sessions SET active_mailbox = ?, last_seen_id = 0, updated_at = ? WHERE chat_id = ?
	`), record.Address, now, chatID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrSessionNotFound
	}

	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	if _, err := tx.Exec(s.rebind(`
		INSERT INTO mailbox_records (id, session_chat_id, address, created_at) VALUES (?, ?, ?, ?)
	`), record.ID, chatID, record.Address, record.CreatedAt); err != nil {
		return err
	}

	return tx.Commit()
}

// SetLastSeenID 推进去重游标，仅当邮箱仍为活动邮箱时生效。
func (s *Store) SetLastSeenID(chatID int64, mailbox string, id int64) error {
	res, err := s.db.Exec(s.rebind(`
		UPDATE sessions SET last_seen_id = ?, updated_at = ?
		WHERE chat_id = ? AND active_mailbox = ? AND last_seen_id < ?
	`), id, time.Now().UTC(), chatID, mailbox, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	// 没有行受影响：区分会话不存在 / 邮箱已切换 / 游标未前进
	sess, err := s.GetSession(chatID)
	if err != nil {
		return err
	}
	if sess.ActiveMailbox != mailbox {
		return storage.ErrMailboxNotOwned
	}
	return nil
}

// SetUsername 设置地址前缀。
func (s *Store) SetUsername(chatID int64, username string) error {
	return s.updateColumn(chatID, "username", username)
}

// SetAutoGenerate 设置自动生成开关。
func (s *Store) SetAutoGenerate(chatID int64, enabled bool) error {
	return s.updateColumn(chatID, "auto_generate", enabled)
}

// SetAwaitingUsername 设置用户名捕获标记。
func (s *Store) SetAwaitingUsername(chatID int64, awaiting bool) error {
	return s.updateColumn(chatID, "awaiting_username", awaiting)
}

// SetCheckerState 设置账号检测流程标记。
func (s *Store) SetCheckerState(chatID int64, awaiting, checkFriends bool) error {
	res, err := s.db.Exec(s.rebind(`
		UPDATE sessions SET awaiting_checker_ids = ?, check_friends = ?, updated_at = ? WHERE chat_id = ?
	`), awaiting, checkFriends, time.Now().UTC(), chatID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrSessionNotFound
	}
	return nil
}

func (s *Store) updateColumn(chatID int64, column string, value interface{}) error {
	query := s.rebind(fmt.Sprintf(`UPDATE sessions SET %s = ?, updated_at = ? WHERE chat_id = ?`, column))
	res, err := s.db.Exec(query, value, time.Now().UTC(), chatID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrSessionNotFound
	}
	return nil
}

// Health 检查数据库连接。
func (s *Store) Health() error {
	if s.db == nil {
		return fmt.Errorf("database connection is nil")
	}
	return s.db.Ping()
}

// Close 关闭数据库连接。
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

package service

import (
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"otpmail/bot/internal/domain"
	"otpmail/bot/internal/monitoring"
	"otpmail/bot/internal/storage"
)

// SessionService 封装会话与邮箱的业务操作
type SessionService struct {
	store      storage.SessionRepository
	mailDomain string
	metrics    *monitoring.Metrics
	log        *zap.Logger

	randomMu sync.Mutex
	random   *rand.Rand
	alphabet []rune
}

// NewSessionService 创建会话业务服务
func NewSessionService(store storage.SessionRepository, mailDomain string, metrics *monitoring.Metrics, log *zap.Logger) *SessionService {
	return &SessionService{
		store:      store,
		mailDomain: strings.ToLower(mailDomain),
		metrics:    metrics,
		log:        log,
		random:     rand.New(rand.NewSource(time.Now().UnixNano())),
		alphabet:   []rune("abcdefghijklmnopqrstuvwxyz0123456789"),
	}
}

// Ensure 返回会话，不存在时创建
func (s *SessionService) Ensure(chatID int64) (*domain.Session, error) {
	return s.store.EnsureSession(chatID)
}

// Get 返回会话
func (s *SessionService) Get(chatID int64) (*domain.Session, error) {
	return s.store.GetSession(chatID)
}

// List 返回全部会话
func (s *SessionService) List() []domain.Session {
	return s.store.ListSessions()
}

// GenerateMailbox 为会话生成新邮箱并设为活动邮箱。
//
// 会话设置了前缀时用前缀做本地部分，否则生成 6 到 12 位
// 随机小写字母数字。新地址追加进历史，去重游标随切换清零。
func (s *SessionService) GenerateMailbox(chatID int64) (string, error) {
	sess, err := s.store.EnsureSession(chatID)
	if err != nil {
		return "", fmt.Errorf("加载会话: %w", err)
	}

	local := sess.Username
	if local == "" {
		local = s.randomLocalPart()
	}
	address := local + "@" + s.mailDomain

	record := domain.MailboxRecord{
		ID:            uuid.NewString(),
		SessionChatID: chatID,
		Address:       address,
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.store.AppendMailbox(chatID, record); err != nil {
		return "", fmt.Errorf("保存邮箱: %w", err)
	}

	s.metrics.MailboxesCreated.Inc()
	s.log.Info("生成新邮箱",
		zap.Int64("chat_id", chatID),
		zap.String("address", address))
	return address, nil
}

// SetUsername 校验并保存地址前缀，同时清除等待标记
func (s *SessionService) SetUsername(chatID int64, username string) error {
	username = strings.TrimSpace(username)
	if err := domain.ValidateUsernamePrefix(username); err != nil {
		return err
	}
	if err := s.store.SetUsername(chatID, username); err != nil {
		return err
	}
	return s.store.SetAwaitingUsername(chatID, false)
}

// AwaitUsername 标记下一条文本作为前缀处理
func (s *SessionService) AwaitUsername(chatID int64, awaiting bool) error {
	return s.store.SetAwaitingUsername(chatID, awaiting)
}

// ToggleAutoGenerate 翻转自动生成开关，返回新状态
func (s *SessionService) ToggleAutoGenerate(chatID int64) (bool, error) {
	sess, err := s.store.EnsureSession(chatID)
	if err != nil {
		return false, err
	}
	next := !sess.AutoGenerate
	if err := s.store.SetAutoGenerate(chatID, next); err != nil {
		return false, err
	}
	return next, nil
}

// SetCheckerState 设置账号检测流程标记
func (s *SessionService) SetCheckerState(chatID int64, awaiting, checkFriends bool) error {
	return s.store.SetCheckerState(chatID, awaiting, checkFriends)
}

// AddressExists 判断地址是否属于任何会话的历史邮箱。
// 本地收信模式里 SMTP 后端用它验证收件人。
func (s *SessionService) AddressExists(address string) bool {
	address = strings.ToLower(strings.TrimSpace(address))
	for _, sess := range s.store.ListSessions() {
		if sess.HasMailbox(address) {
			return true
		}
	}
	return false
}

func (s *SessionService) randomLocalPart() string {
	s.randomMu.Lock()
	defer s.randomMu.Unlock()
	length := domain.MinRandomLocalLength +
		s.random.Intn(domain.MaxRandomLocalLength-domain.MinRandomLocalLength+1)
	b := make([]rune, length)
	for i := range b {
		b[i] = s.alphabet[s.random.Intn(len(s.alphabet))]
	}
	return string(b)
}

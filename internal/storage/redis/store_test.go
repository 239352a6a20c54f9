package redis

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"otpmail/bot/internal/domain"
	"otpmail/bot/internal/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	return NewStoreWithClient(rdb)
}

func TestRedisSessionLifecycle(t *testing.T) {
	s := newTestStore(t)

	t.Run("首次访问创建空会话", func(t *testing.T) {
		sess, err := s.EnsureSession(7)
		require.NoError(t, err)
		assert.Equal(t, int64(7), sess.ChatID)
		assert.Empty(t, sess.ActiveMailbox)
	})

	t.Run("流程标记可持久化", func(t *testing.T) {
		require.NoError(t, s.SetAwaitingUsername(7, true))
		require.NoError(t, s.SetCheckerState(7, true, true))

		sess, err := s.GetSession(7)
		require.NoError(t, err)
		assert.True(t, sess.AwaitingUsername)
		assert.True(t, sess.AwaitingCheckerIDs)
		assert.True(t, sess.CheckFriends)
	})

	t.Run("不存在的会话返回错误", func(t *testing.T) {
		_, err := s.GetSession(404)
		assert.ErrorIs(t, err, storage.ErrSessionNotFound)
	})
}

func TestRedisMailboxHistory(t *testing.T) {
	s := newTestStore(t)
	_, err := s.EnsureSession(1)
	require.NoError(t, err)

	require.NoError(t, s.AppendMailbox(1, domain.MailboxRecord{ID: "m1", Address: "a@temp.mail"}))
	require.NoError(t, s.SetLastSeenID(1, "a@temp.mail", 42))
	require.NoError(t, s.AppendMailbox(1, domain.MailboxRecord{ID: "m2", Address: "b@temp.mail"}))

	sess, err := s.GetSession(1)
	require.NoError(t, err)
	assert.Equal(t, "b@temp.mail", sess.ActiveMailbox)
	assert.Zero(t, sess.LastSeenID, "切换邮箱必须清零游标")
	assert.Len(t, sess.Mailboxes, 2)

	err = s.SetLastSeenID(1, "a@temp.mail", 99)
	assert.ErrorIs(t, err, storage.ErrMailboxNotOwned)
}

func TestRedisListPollable(t *testing.T) {
	s := newTestStore(t)

	for _, id := range []int64{1, 2, 3} {
		_, err := s.EnsureSession(id)
		require.NoError(t, err)
	}
	require.NoError(t, s.AppendMailbox(3, domain.MailboxRecord{ID: "m1", Address: "x@temp.mail"}))

	assert.Len(t, s.ListSessions(), 3)

	pollable := s.ListPollable()
	require.Len(t, pollable, 1)
	assert.Equal(t, int64(3), pollable[0].ChatID)
}

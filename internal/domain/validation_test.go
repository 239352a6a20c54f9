package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateUsernamePrefix(t *testing.T) {
	tests := []struct {
		name    string
		prefix  string
		wantErr error
	}{
		{"纯字母前缀", "alice", nil},
		{"字母数字混合", "alice123", nil},
		{"纯数字", "20250901", nil},
		{"空字符串", "", ErrUsernameEmpty},
		{"仅空白", "   ", ErrUsernameEmpty},
		{"包含下划线", "alice_b", ErrPrefixInvalid},
		{"包含点号", "alice.b", ErrPrefixInvalid},
		{"包含空格", "alice b", ErrPrefixInvalid},
		{"包含中文", "用户alice", ErrPrefixInvalid},
		{"超长前缀", strings.Repeat("a", 65), ErrPrefixTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateUsernamePrefix(tt.prefix)
			assert.Equal(t, tt.wantErr, err)
		})
	}
}

func TestValidateAddress(t *testing.T) {
	tests := []struct {
		name    string
		address string
		valid   bool
	}{
		{"普通地址", "abc123@mailto.plus", true},
		{"带点的本地部分", "a.b.c@temp.mail", true},
		{"大写地址", "ABC@TEMP.MAIL", true},
		{"缺少域名", "abc@", false},
		{"缺少本地部分", "@temp.mail", false},
		{"缺少顶级域", "abc@temp", false},
		{"空字符串", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateAddress(tt.address)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidAddress)
			}
		})
	}
}

func TestSessionHasMailbox(t *testing.T) {
	s := &Session{
		Mailboxes: []MailboxRecord{
			{Address: "a@temp.mail"},
			{Address: "b@temp.mail"},
		},
	}

	assert.True(t, s.HasMailbox("a@temp.mail"))
	assert.True(t, s.HasMailbox("b@temp.mail"))
	assert.False(t, s.HasMailbox("c@temp.mail"))
}

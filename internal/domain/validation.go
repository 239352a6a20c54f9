package domain

import (
	"errors"
	"regexp"
	"strings"
)

// 验证相关的错误定义
var (
	ErrPrefixInvalid  = errors.New("prefix must be alphanumeric")
	ErrPrefixTooLong  = errors.New("prefix too long (max 64 chars)")
	ErrUsernameEmpty  = errors.New("username must not be empty")
	ErrInvalidAddress = errors.New("invalid mailbox address")
)

// 验证常量
const (
	// RFC 5322 本地部分长度限制
	MaxLocalPartLength = 64

	// 随机本地部分的长度区间
	MinRandomLocalLength = 6
	MaxRandomLocalLength = 12
)

var (
	// 仅允许字母和数字的前缀
	alnumRegex = regexp.MustCompile(`^[a-zA-Z0-9]+$`)

	// 完整邮箱地址的宽松校验
	addressRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]*@[a-zA-Z0-9][a-zA-Z0-9.-]*\.[a-zA-Z]{2,}$`)
)

// ValidateUsernamePrefix 校验用户设置的邮箱前缀。
//
// 前缀只允许字母和数字，与地址生成规则保持一致：
// 非法前缀不会报错降级为随机名，而是直接拒绝，让用户重试。
func ValidateUsernamePrefix(prefix string) error {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return ErrUsernameEmpty
	}
	if len(prefix) > MaxLocalPartLength {
		return ErrPrefixTooLong
	}
	if !alnumRegex.MatchString(prefix) {
		return ErrPrefixInvalid
	}
	return nil
}

// IsAlnum 判断字符串是否为非空的纯字母数字串。
func IsAlnum(s string) bool {
	return alnumRegex.MatchString(s)
}

// ValidateAddress 校验完整邮箱地址格式。
func ValidateAddress(address string) error {
	address = strings.TrimSpace(strings.ToLower(address))
	if address == "" || len(address) > 254 {
		return ErrInvalidAddress
	}
	if !addressRegex.MatchString(address) {
		return ErrInvalidAddress
	}
	return nil
}

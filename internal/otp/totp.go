package otp

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base32"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	// StepSeconds 时间步长（秒），时间轴从 Unix 纪元零点起按固定步长划分
	StepSeconds = 30

	// Digits 动态口令位数
	Digits = 6
)

var (
	// ErrInvalidSecret 表示密钥无法解码为合法的 base32 密钥材料。
	// 对任意用户输入这是正常结果，调用方应将其视为"无验证码"而非故障。
	ErrInvalidSecret = errors.New("invalid secret key")
)

// Generate 根据共享密钥和参考时间计算当前时间窗口的动态口令。
//
// 算法为 RFC 6238 TOTP（HMAC-SHA1，6 位数字，30 秒步长）：
// 同一时间步长内的任意两个时刻产生相同口令，与主机和进程无关。
//
// 返回值:
//   - code: 6 位数字口令（高位补零）
//   - remaining: 当前口令剩余有效秒数，范围 [1, 30]
//   - error: 密钥格式非法时返回 ErrInvalidSecret
func Generate(secret string, now time.Time) (code string, remaining int, err error) {
	key, err := decodeSecret(secret)
	if err != nil {
		return "", 0, err
	}

	unix := now.Unix()
	counter := uint64(unix / StepSeconds)

	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], counter)

	mac := hmac.New(sha1.New, key)
	mac.Write(msg[:])
	sum := mac.Sum(nil)

	// RFC 4226 动态截断
	offset := sum[len(sum)-1] & 0x0f
	value := binary.BigEndian.Uint32(sum[offset:offset+4]) & 0x7fffffff

	code = fmt.Sprintf("%0*d", Digits, value%1_000_000)
	remaining = StepSeconds - int(unix%StepSeconds)

	return code, remaining, nil
}

// StepIndex 返回参考时间所在的时间步长序号。
func StepIndex(now time.Time) int64 {
	return now.Unix() / StepSeconds
}

// decodeSecret 将用户输入的密钥文本解码为密钥字节。
//
// 容忍常见的呈现差异：空格与连字符分隔、大小写混用、尾部 padding。
func decodeSecret(secret string) ([]byte, error) {
	cleaned := strings.ToUpper(secret)
	cleaned = strings.ReplaceAll(cleaned, " ", "")
	cleaned = strings.ReplaceAll(cleaned, "-", "")
	cleaned = strings.TrimRight(cleaned, "=")

	if cleaned == "" {
		return nil, ErrInvalidSecret
	}

	key, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(cleaned)
	if err != nil {
		return nil, ErrInvalidSecret
	}
	return key, nil
}

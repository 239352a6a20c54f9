// Package extract 从邮件文本中提取一次性验证码，并规范化发件人显示名。
//
// 提取失败是正常结果（很多邮件不含验证码），因此接口返回
// (value, ok) 而不是 error。
package extract

import (
	"regexp"
	"strings"
)

var (
	// 第一层：验证码关键词后跟随的 4-8 位数字（关键词与数字间最多 20 个非数字字符）
	keywordCodeRegex = regexp.MustCompile(`(?i)\b(?:code|otp|pin|passcode|password|verification|verify|2fa|token)\b\D{0,20}?(\d{4,8})\b`)

	// 第二层：独立出现的 4-8 位数字串（不截取更长数字串的一部分）
	bareCodeRegex = regexp.MustCompile(`\b(\d{4,8})\b`)

	// 尖括号包裹的邮箱地址
	bracketAddrRegex = regexp.MustCompile(`<([^<>@\s]+@[^<>@\s]+)>`)
)

// brandDomains 把已知发件域名（或完整地址）映射为品牌显示名。
var brandDomains = map[string]string{
	"google.com":           "Google",
	"accounts.google.com":  "Google",
	"facebookmail.com":     "Facebook",
	"facebook.com":         "Facebook",
	"instagram.com":        "Instagram",
	"mail.instagram.com":   "Instagram",
	"twitter.com":          "X",
	"x.com":                "X",
	"apple.com":            "Apple",
	"id.apple.com":         "Apple",
	"email.apple.com":      "Apple",
	"microsoft.com":        "Microsoft",
	"accountprotection.microsoft.com": "Microsoft",
	"amazon.com":           "Amazon",
	"netflix.com":          "Netflix",
	"discord.com":          "Discord",
	"telegram.org":         "Telegram",
	"tiktok.com":           "TikTok",
	"linkedin.com":         "LinkedIn",
	"paypal.com":           "PayPal",
	"steampowered.com":     "Steam",
	"no-reply@dropbox.com": "Dropbox",
}

// Code 在主题和正文中搜索一次性验证码。
//
// 两层匹配：优先取验证码关键词之后的 4-8 位数字，其次取独立的
// 4-8 位数字串；先搜主题，主题无果再搜正文。返回第一个命中。
func Code(subject, body string) (string, bool) {
	for _, text := range []string{subject, body} {
		if text == "" {
			continue
		}
		if m := keywordCodeRegex.FindStringSubmatch(text); m != nil {
			return m[1], true
		}
		if m := bareCodeRegex.FindStringSubmatch(text); m != nil {
			return m[1], true
		}
	}
	return "", false
}

// NormalizeSender 把原始发件人文本转成适合展示的名称。
//
// 规则：
//   - 尖括号地址的域名（或完整地址）命中品牌表时返回品牌名；
//   - 未命中时仅去掉尖括号地址部分并裁剪空白，显示名文本原样保留；
//   - 没有尖括号地址时返回裁剪后的原文。
func NormalizeSender(raw string) string {
	m := bracketAddrRegex.FindStringSubmatchIndex(raw)
	if m == nil {
		return strings.TrimSpace(raw)
	}

	address := strings.ToLower(raw[m[2]:m[3]])
	if brand, ok := brandDomains[address]; ok {
		return brand
	}
	if at := strings.LastIndex(address, "@"); at >= 0 {
		if brand, ok := brandDomains[address[at+1:]]; ok {
			return brand
		}
	}

	display := strings.TrimSpace(raw[:m[0]] + raw[m[1]:])
	if display == "" {
		return address
	}
	return display
}

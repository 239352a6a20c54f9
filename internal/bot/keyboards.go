package bot

import (
	"fmt"

	"otpmail/bot/internal/transport/telegram"
)

// 主菜单与检测菜单的按钮文案，路由按原文匹配
const (
	menuAuthenticator = "🔐 2FA Authenticator"
	menuTempMail      = "📧 Temp Mail Service"
	menuChecker       = "🔍 Facebook Checker"

	checkerEnableFriends  = "✅ Enable Friends Check"
	checkerDisableFriends = "❌ Disable Friends Check"
	checkerBack           = "⬅️ Back"
)

// 内联按钮回调标识
const (
	callbackClaim       = "claim_otp"
	callbackGenerate    = "generate"
	callbackAutoGen     = "auto_gen_inline"
	callbackSetUsername = "set_username_inline"
	callbackExportAll   = "export_all"

	callbackUserListPrefix   = "see_users_"
	callbackUserDetailPrefix = "user_"
	callbackExportUserPrefix = "export_user_"
)

func mainMenuMarkup() telegram.ReplyKeyboardMarkup {
	return telegram.ReplyKeyboardMarkup{
		Keyboard: [][]telegram.KeyboardButton{
			{{Text: menuAuthenticator}, {Text: menuTempMail}},
			{{Text: menuChecker}},
		},
		ResizeKeyboard: true,
	}
}

func checkerMenuMarkup() telegram.ReplyKeyboardMarkup {
	return telegram.ReplyKeyboardMarkup{
		Keyboard: [][]telegram.KeyboardButton{
			{{Text: checkerEnableFriends}, {Text: checkerDisableFriends}},
			{{Text: checkerBack}},
		},
		ResizeKeyboard: true,
	}
}

func tempMailMenuMarkup(isAdmin bool) telegram.InlineKeyboardMarkup {
	buttons := [][]telegram.InlineKeyboardButton{
		{
			{Text: "📧 Generate", CallbackData: callbackGenerate},
			{Text: "♻️ Auto gen", CallbackData: callbackAutoGen},
		},
		{
			{Text: "✍️ Set Username", CallbackData: callbackSetUsername},
		},
	}
	if isAdmin {
		buttons = append(buttons,
			[]telegram.InlineKeyboardButton{{Text: "👤 See User Info", CallbackData: callbackUserListPrefix + "0"}},
			[]telegram.InlineKeyboardButton{{Text: "📤 Export All Users", CallbackData: callbackExportAll}},
		)
	}
	return telegram.InlineKeyboardMarkup{InlineKeyboard: buttons}
}

func claimMarkup() telegram.InlineKeyboardMarkup {
	return telegram.InlineKeyboardMarkup{
		InlineKeyboard: [][]telegram.InlineKeyboardButton{
			{{Text: "✅ CLAIMED 🧧", CallbackData: callbackClaim}},
		},
	}
}

func formatCountdown(code string, remaining int) string {
	return fmt.Sprintf("🔑 <b>%s</b>\n⏳ Refreshes in %ds", code, remaining)
}

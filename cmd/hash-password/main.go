package main

import (
	"fmt"
	"os"

	"otpmail/bot/internal/auth"
)

// 生成运维 API 管理员口令的 bcrypt 哈希，
// 结果填进 OTPBOT_OPS_ADMIN_PASSWORD_HASH。
func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: hash-password <password>")
		os.Exit(1)
	}

	hash, err := auth.HashPassword(os.Args[1])
	if err != nil {
		fmt.Printf("Failed to hash password: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(hash)
}

// token 为本地联调签发访问令牌
package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	"freightdesk/internal/config"
	"freightdesk/internal/handler"
	"freightdesk/internal/policy"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "配置文件路径")
	id := flag.Int64("id", 1, "员工 id")
	role := flag.String("role", string(policy.RoleAdmin), "ADMIN | PURCHASE_OFFICER | CHINA_WAREHOUSE | LIBYA_WAREHOUSE")
	ttl := flag.Duration("ttl", 24*time.Hour, "有效期")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}

	token, err := handler.NewAuthenticator(cfg.Auth).Issue(policy.Actor{ID: *id, Role: policy.Role(*role)}, *ttl)
	if err != nil {
		log.Fatalf("签发失败: %v", err)
	}
	fmt.Println(token)
}

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	jwtpkg "ditmail/backend/internal/auth/jwt"
	"ditmail/backend/internal/config"
	"ditmail/backend/internal/domain"
	"ditmail/backend/internal/storage/postgres"
)

// issue-token 为邮箱地址签发访问令牌，配置了数据库时同时登记用户目录
func main() {
	address := flag.String("address", "", "邮箱地址，例如 alice@ditmail.local")
	userID := flag.String("user", "", "用户 ID，为空时生成新的 UUID")
	orgID := flag.String("org", "", "组织 ID")
	register := flag.Bool("register", true, "配置了数据库时写入用户目录")
	flag.Parse()

	addr, err := domain.NormalizeAddress(*address)
	if err != nil {
		fmt.Println("Usage: issue-token -address=<email> [-user=<id>] [-org=<id>] [-register=false]")
		os.Exit(1)
	}
	if *userID == "" {
		*userID = uuid.New().String()
	}

	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	if *register && cfg.Database.Type != "" {
		if err := saveUser(cfg, &domain.User{
			ID:      *userID,
			OrgID:   *orgID,
			Address: addr,
		}); err != nil {
			fmt.Printf("Failed to register user: %v\n", err)
			os.Exit(1)
		}
	}

	manager := jwtpkg.NewManager(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.AccessExpiry)
	token, err := manager.GenerateAccessToken(*userID, *orgID, addr)
	if err != nil {
		fmt.Printf("Failed to sign token: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("✓ Token issued\n")
	fmt.Printf("  User:    %s\n", *userID)
	fmt.Printf("  Address: %s\n", addr)
	fmt.Printf("  Expires: %s\n", time.Now().Add(cfg.JWT.AccessExpiry).Format(time.RFC3339))
	fmt.Printf("\n%s\n", token)
}

func saveUser(cfg *config.Config, user *domain.User) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var (
		store *postgres.Store
		err   error
	)
	switch cfg.Database.Type {
	case "mysql":
		store, err = postgres.NewMySQLStore(cfg.Database)
	default:
		client, cerr := postgres.New(ctx, cfg.Database, zap.NewNop())
		if cerr != nil {
			return cerr
		}
		store, err = postgres.NewStore(client)
		if err != nil {
			client.Close()
		}
	}
	if err != nil {
		return err
	}
	defer store.Close()

	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now
	return store.SaveUser(ctx, user)
}

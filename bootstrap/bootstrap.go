// Package bootstrap 初始化开发库：建表并写入幂等的种子数据。
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ceyewan/genesis/clog"
	"github.com/ceyewan/genesis/idgen"
	"github.com/joshyvodetaene/chatual-sub002/devserver"
	"github.com/joshyvodetaene/chatual-sub002/devserver/config"
	"github.com/joshyvodetaene/chatual-sub002/devserver/repo"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// 种子数据
var seedUsers = []struct {
	username string
	nickname string
	password string
}{
	{"admin", "管理员", "admin123"},
	{"alice", "Alice", "alice123"},
	{"bob", "Bob", "bob123"},
}

var seedRooms = []struct {
	roomID   string
	name     string
	roomType int
	members  []string
}{
	{"room-general", "General", repo.RoomTypeGroup, []string{"admin", "alice", "bob"}},
	{"room-random", "Random", repo.RoomTypeGroup, []string{"admin", "alice", "bob"}},
	{"room-alice-bob", "Alice & Bob", repo.RoomTypePrivate, []string{"alice", "bob"}},
}

// Run 执行初始化：迁移表结构并写入种子数据。
// 所有写入都是幂等的，重复执行不会产生副本。
func Run(ctx context.Context, logger clog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := devserver.OpenDB(cfg.DB.GetPath())
	if err != nil {
		return err
	}
	defer func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}()

	logger.Info("迁移表结构...", clog.String("db", cfg.DB.GetPath()))
	if err := db.AutoMigrate(repo.AllModels()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}

	if err := seed(ctx, db, cfg, logger); err != nil {
		return err
	}

	logger.Info("初始化完成")
	return nil
}

// seed 写入种子用户、房间与欢迎消息
func seed(ctx context.Context, db *gorm.DB, cfg *config.Config, logger clog.Logger) error {
	users, err := repo.NewUserRepo(db, repo.WithUserRepoLogger(logger))
	if err != nil {
		return err
	}
	rooms, err := repo.NewRoomRepo(db, repo.WithRoomRepoLogger(logger))
	if err != nil {
		return err
	}
	messages, err := repo.NewMessageRepo(db, repo.WithMessageRepoLogger(logger))
	if err != nil {
		return err
	}
	gen, err := idgen.NewGenerator(&idgen.GeneratorConfig{WorkerID: int64(cfg.GetWorkerID())})
	if err != nil {
		return fmt.Errorf("create id generator: %w", err)
	}

	for _, u := range seedUsers {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("hash password: %w", err)
		}
		err = users.CreateUser(ctx, &repo.User{
			Username: u.username,
			Nickname: u.nickname,
			Password: string(hash),
		})
		if err != nil && !errors.Is(err, repo.ErrUserExists) {
			return err
		}
		logger.Info("种子用户就绪", clog.String("username", u.username))
	}

	for _, r := range seedRooms {
		err := rooms.EnsureRoom(ctx, &repo.Room{
			RoomID:        r.roomID,
			Type:          r.roomType,
			Name:          r.name,
			OwnerUsername: "admin",
		})
		if err != nil {
			return err
		}
		for _, member := range r.members {
			if err := rooms.AddMember(ctx, &repo.RoomMember{RoomID: r.roomID, Username: member}); err != nil {
				return err
			}
		}
		logger.Info("种子房间就绪",
			clog.String("room_id", r.roomID),
			clog.Int("members", len(r.members)))
	}

	// 每个房间写一条欢迎消息，已有消息的房间跳过
	for _, r := range seedRooms {
		page, err := messages.GetRecentPage(ctx, r.roomID, 1)
		if err != nil {
			return err
		}
		if len(page.Messages) > 0 {
			continue
		}

		now := time.Now()
		err = messages.SaveMessage(ctx, &repo.Message{
			MsgID:          gen.NextString(),
			RoomID:         r.roomID,
			SenderUsername: "admin",
			Content:        fmt.Sprintf("欢迎来到 %s", r.name),
			MsgType:        "text",
			CreatedAtNano:  now.UnixNano(),
			CreatedAt:      now,
		})
		if err != nil {
			return err
		}
	}

	return nil
}

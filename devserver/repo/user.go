package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/ceyewan/genesis/clog"
	"gorm.io/gorm"
)

// ErrUserNotFound 用户不存在
var ErrUserNotFound = errors.New("user not found")

// ErrUserExists 用户名已被注册
var ErrUserExists = errors.New("user already exists")

// UserRepoOption 配置 UserRepo 的选项
type UserRepoOption func(*userRepoOptions)

type userRepoOptions struct {
	logger clog.Logger
}

// WithUserRepoLogger 设置日志记录器
func WithUserRepoLogger(logger clog.Logger) UserRepoOption {
	return func(o *userRepoOptions) {
		o.logger = logger
	}
}

type userRepo struct {
	db     *gorm.DB
	logger clog.Logger
}

// NewUserRepo 创建 UserRepo 实例
func NewUserRepo(db *gorm.DB, opts ...UserRepoOption) (UserRepo, error) {
	if db == nil {
		return nil, fmt.Errorf("db cannot be nil")
	}

	options := &userRepoOptions{}
	for _, opt := range opts {
		opt(options)
	}

	logger := options.logger
	if logger == nil {
		logger = clog.Discard()
	}

	return &userRepo{
		db:     db,
		logger: logger.WithNamespace("user_repo"),
	}, nil
}

// CreateUser 创建用户，用户名冲突返回 ErrUserExists
func (r *userRepo) CreateUser(ctx context.Context, user *User) error {
	if user == nil {
		return fmt.Errorf("user cannot be nil")
	}
	if user.Username == "" {
		return fmt.Errorf("username cannot be empty")
	}
	if user.Password == "" {
		return fmt.Errorf("password cannot be empty")
	}

	err := r.db.WithContext(ctx).Create(user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrUserExists
		}
		r.logger.Error("创建用户失败",
			clog.String("username", user.Username),
			clog.Error(err))
		return fmt.Errorf("failed to create user: %w", err)
	}

	r.logger.Info("创建用户成功", clog.String("username", user.Username))
	return nil
}

// GetUserByUsername 根据用户名获取用户，不存在返回 ErrUserNotFound
func (r *userRepo) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	if username == "" {
		return nil, fmt.Errorf("username cannot be empty")
	}

	var user User
	err := r.db.WithContext(ctx).Where("username = ?", username).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		r.logger.Error("查询用户失败",
			clog.String("username", username),
			clog.Error(err))
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &user, nil
}

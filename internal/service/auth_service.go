// Package service 包含了应用的业务逻辑层。
package service

import (
	"errors"
	"strings"

	"gorm.io/gorm"

	"doctalk-go/internal/apperr"
	"doctalk-go/internal/model"
	"doctalk-go/internal/repository"
	"doctalk-go/pkg/hash"
	"doctalk-go/pkg/token"
)

// 认证相关的业务错误，处理层据此决定状态码。
var (
	ErrUsernameTaken      = errors.New("用户名已存在")
	ErrInvalidCredentials = errors.New("用户名或密码错误")
)

// AuthService 接口定义了注册、登录等认证相关的业务操作。
type AuthService interface {
	Register(username, password string) (*model.User, error)
	Login(username, password string) (accessToken string, user *model.User, err error)
	GetProfile(userID string) (*model.User, error)
}

// authService 是 AuthService 接口的实现。
type authService struct {
	userRepo   repository.UserRepository
	jwtManager *token.JWTManager
}

// NewAuthService 创建一个新的 AuthService 实例。
func NewAuthService(userRepo repository.UserRepository, jwtManager *token.JWTManager) AuthService {
	return &authService{
		userRepo:   userRepo,
		jwtManager: jwtManager,
	}
}

// Register 处理用户注册的业务逻辑。
func (s *authService) Register(username, password string) (*model.User, error) {
	username = strings.TrimSpace(username)
	if len(username) < 3 || len(username) > 64 {
		return nil, apperr.Invalid("用户名长度须在 3 到 64 个字符之间")
	}
	if len(password) < 8 {
		return nil, apperr.Invalid("密码长度至少 8 个字符")
	}

	// 1. 检查用户名是否已存在
	_, err := s.userRepo.FindByUsername(username)
	if err == nil {
		return nil, ErrUsernameTaken
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	// 2. 对密码进行哈希处理
	hashedPassword, err := hash.HashPassword(password)
	if err != nil {
		return nil, err
	}

	// 3. 创建新用户
	newUser := &model.User{
		Username:     username,
		PasswordHash: hashedPassword,
	}
	if err := s.userRepo.Create(newUser); err != nil {
		return nil, err
	}
	return newUser, nil
}

// Login 处理用户登录的业务逻辑。
// 用户不存在与密码错误返回同一个错误，不泄露用户名是否被注册。
func (s *authService) Login(username, password string) (string, *model.User, error) {
	// 1. 查找用户
	user, err := s.userRepo.FindByUsername(username)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil, ErrInvalidCredentials
		}
		return "", nil, err
	}

	// 2. 验证密码
	if !hash.CheckPasswordHash(password, user.PasswordHash) {
		return "", nil, ErrInvalidCredentials
	}

	// 3. 签发 access token
	accessToken, err := s.jwtManager.GenerateToken(user.ID, user.Username)
	if err != nil {
		return "", nil, err
	}
	return accessToken, user, nil
}

// GetProfile 根据用户 ID 获取用户详细信息。
func (s *authService) GetProfile(userID string) (*model.User, error) {
	return s.userRepo.FindByID(userID)
}

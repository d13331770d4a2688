// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"doctalk-go/internal/apperr"
	"doctalk-go/internal/middleware"
	"doctalk-go/internal/service"
	"doctalk-go/pkg/log"
)

// AuthHandler 负责处理注册、登录等认证相关的 API 请求。
type AuthHandler struct {
	authService service.AuthService
}

// NewAuthHandler 创建一个新的 AuthHandler 实例。
func NewAuthHandler(authService service.AuthService) *AuthHandler {
	return &AuthHandler{authService: authService}
}

// RegisterRequest 定义了注册 API 的请求体结构。
type RegisterRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// LoginRequest 定义了登录 API 的请求体结构。
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Register 处理用户注册请求。
func (h *AuthHandler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warnf("Register: Invalid request payload, error: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "无效的请求负载：username 和 password 不能为空", "data": nil})
		return
	}

	user, err := h.authService.Register(req.Username, req.Password)
	if err != nil {
		respondError(c, err)
		return
	}

	log.Infof("用户注册成功, username: %s", user.Username)
	respondCreated(c, "注册成功", user)
}

// Login 处理用户登录请求。
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warnf("Login: Invalid request payload, error: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "无效的请求负载：username 和 password 不能为空", "data": nil})
		return
	}

	accessToken, user, err := h.authService.Login(req.Username, req.Password)
	if err != nil {
		respondError(c, err)
		return
	}

	respondOK(c, "登录成功", gin.H{
		"token": accessToken,
		"user":  user,
	})
}

// Me 返回当前登录用户的信息。
func (h *AuthHandler) Me(c *gin.Context) {
	userID := c.GetString(middleware.ContextUserIDKey)
	user, err := h.authService.GetProfile(userID)
	if err != nil {
		// token 有效但用户已被删除，视同未认证
		if errors.Is(err, gorm.ErrRecordNotFound) {
			respondError(c, apperr.ErrUnauthenticated)
			return
		}
		respondError(c, err)
		return
	}
	respondOK(c, "获取用户信息成功", user)
}

// Package api 实现开发服务端的 HTTP/JSON 接口：
// 认证、房间列表、消息历史分页与消息发送。
package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/ceyewan/genesis/clog"
	"github.com/ceyewan/genesis/idgen"
	"github.com/gin-gonic/gin"
	"github.com/joshyvodetaene/chatual-sub002/devserver/middleware"
	"github.com/joshyvodetaene/chatual-sub002/devserver/observability"
	"github.com/joshyvodetaene/chatual-sub002/devserver/push"
	"github.com/joshyvodetaene/chatual-sub002/devserver/repo"
	"github.com/joshyvodetaene/chatual-sub002/devserver/token"
	"github.com/joshyvodetaene/chatual-sub002/model"
	"golang.org/x/crypto/bcrypt"
)

// Handler 实现开发服务端的 HTTP API
type Handler struct {
	users      repo.UserRepo
	rooms      repo.RoomRepo
	messages   repo.MessageRepo
	tokens     *token.Manager
	hub        *push.Hub
	idgen      idgen.Generator
	logger     clog.Logger
	authConfig *middleware.AuthConfig
}

// NewHandler 创建 API Handler
func NewHandler(
	users repo.UserRepo,
	rooms repo.RoomRepo,
	messages repo.MessageRepo,
	tokens *token.Manager,
	hub *push.Hub,
	gen idgen.Generator,
	logger clog.Logger,
) *Handler {
	return &Handler{
		users:      users,
		rooms:      rooms,
		messages:   messages,
		tokens:     tokens,
		hub:        hub,
		idgen:      gen,
		logger:     logger,
		authConfig: middleware.NewAuthConfig(tokens, logger),
	}
}

// ============================================================================
// 认证
// ============================================================================

type registerRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
	Nickname string `json:"nickname"`
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type authResponse struct {
	Username string `json:"username"`
	Token    string `json:"token"`
}

// Register 注册新用户
func (h *Handler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		h.logger.Error("密码哈希失败", clog.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}

	user := &repo.User{
		Username: req.Username,
		Nickname: req.Nickname,
		Password: string(hash),
	}
	if err := h.users.CreateUser(c.Request.Context(), user); err != nil {
		if errors.Is(err, repo.ErrUserExists) {
			c.JSON(http.StatusConflict, gin.H{"error": "username already taken"})
			return
		}
		h.logger.Error("创建用户失败", clog.String("username", req.Username), clog.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}

	tok, err := h.tokens.Issue(req.Username)
	if err != nil {
		h.logger.Error("签发 token 失败", clog.String("username", req.Username), clog.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}

	c.JSON(http.StatusOK, authResponse{Username: req.Username, Token: tok})
}

// Login 用户登录
func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	user, err := h.users.GetUserByUsername(c.Request.Context(), req.Username)
	if err != nil {
		if errors.Is(err, repo.ErrUserNotFound) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid username or password"})
			return
		}
		h.logger.Error("查询用户失败", clog.String("username", req.Username), clog.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}

	if bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)) != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid username or password"})
		return
	}

	tok, err := h.tokens.Issue(req.Username)
	if err != nil {
		h.logger.Error("签发 token 失败", clog.String("username", req.Username), clog.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}

	c.JSON(http.StatusOK, authResponse{Username: user.Username, Token: tok})
}

// ============================================================================
// 房间
// ============================================================================

type roomView struct {
	RoomID string `json:"room_id"`
	Type   int    `json:"type"`
	Name   string `json:"name"`
}

// ListRooms 列出当前用户加入的房间
func (h *Handler) ListRooms(c *gin.Context) {
	username := middleware.MustGetUsername(c)

	rooms, err := h.rooms.ListRoomsForUser(c.Request.Context(), username)
	if err != nil {
		h.logger.Error("查询房间列表失败", clog.String("username", username), clog.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}

	views := make([]roomView, 0, len(rooms))
	for _, room := range rooms {
		views = append(views, roomView{RoomID: room.RoomID, Type: room.Type, Name: room.Name})
	}
	c.JSON(http.StatusOK, gin.H{"rooms": views})
}

// ============================================================================
// 消息历史与发送
// ============================================================================

// GetMessages 按游标分页拉取房间消息。
// 不带 cursor 返回最近一页，带 cursor 返回该边界之前更早的一页，
// 响应始终按 (created_at, id) 升序排列。
func (h *Handler) GetMessages(c *gin.Context) {
	username := middleware.MustGetUsername(c)
	roomID := c.Param("id")

	ok, err := h.rooms.IsMember(c.Request.Context(), roomID, username)
	if err != nil {
		h.logger.Error("查询成员关系失败", clog.String("room_id", roomID), clog.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	if !ok {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a member of this room"})
		return
	}

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
	}

	var page *model.Page
	if cursor := c.Query("cursor"); cursor != "" {
		page, err = h.messages.GetOlderPage(c.Request.Context(), roomID, cursor, limit)
	} else {
		page, err = h.messages.GetRecentPage(c.Request.Context(), roomID, limit)
	}
	if err != nil {
		h.logger.Error("拉取消息失败",
			clog.String("room_id", roomID),
			clog.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	observability.RecordHistoryPage(c.Request.Context())
	c.JSON(http.StatusOK, page)
}

type sendMessageRequest struct {
	Content  string `json:"content" binding:"required"`
	MsgType  string `json:"msg_type"`
	MediaURL string `json:"media_url"`
}

// SendMessage 发送消息：落库后推送给房间所有在线成员
func (h *Handler) SendMessage(c *gin.Context) {
	username := middleware.MustGetUsername(c)
	roomID := c.Param("id")

	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	ok, err := h.rooms.IsMember(c.Request.Context(), roomID, username)
	if err != nil {
		h.logger.Error("查询成员关系失败", clog.String("room_id", roomID), clog.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	if !ok {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a member of this room"})
		return
	}

	msgType := req.MsgType
	if msgType == "" {
		msgType = "text"
	}

	now := time.Now()
	row := &repo.Message{
		MsgID:          h.idgen.NextString(),
		RoomID:         roomID,
		SenderUsername: username,
		Content:        req.Content,
		MsgType:        msgType,
		MediaURL:       req.MediaURL,
		CreatedAtNano:  now.UnixNano(),
		CreatedAt:      now,
	}
	if err := h.messages.SaveMessage(c.Request.Context(), row); err != nil {
		h.logger.Error("保存消息失败", clog.String("room_id", roomID), clog.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}

	observability.RecordMessageSaved(c.Request.Context())

	msg := &model.Message{
		ID:        row.MsgID,
		RoomID:    row.RoomID,
		Sender:    row.SenderUsername,
		Content:   row.Content,
		MsgType:   row.MsgType,
		MediaURL:  row.MediaURL,
		CreatedAt: time.Unix(0, row.CreatedAtNano).UTC(),
	}
	h.pushToRoom(c, roomID, msg)

	c.JSON(http.StatusOK, gin.H{"message": msg})
}

// pushToRoom 将新消息推送给房间所有在线成员，失败只记日志不影响响应
func (h *Handler) pushToRoom(c *gin.Context, roomID string, msg *model.Message) {
	members, err := h.rooms.GetMemberUsernames(c.Request.Context(), roomID)
	if err != nil {
		h.logger.Error("查询房间成员失败", clog.String("room_id", roomID), clog.Error(err))
		return
	}

	packet, err := model.NewMessageCreatedPacket(&model.MessageCreated{
		RoomID:  roomID,
		Message: msg,
	})
	if err != nil {
		h.logger.Error("编码推送事件失败", clog.String("room_id", roomID), clog.Error(err))
		return
	}

	h.hub.SendToUsers(members, packet)
	observability.RecordMessagesPushed(c.Request.Context(), len(members))
}

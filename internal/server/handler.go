package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"chatroom/internal/apperr"
	"chatroom/internal/auth"
	"chatroom/internal/models"
	"chatroom/internal/service"
)

// Handler aggregates every REST handler, adapted from the teacher's
// Handler to front the Mongo-backed service layer instead of a single
// *gorm.DB — one method per §6 endpoint.
type Handler struct {
	users    *service.UserService
	rooms    *service.RoomService
	messages *service.MessageService
}

func NewHandler(users *service.UserService, rooms *service.RoomService, messages *service.MessageService) *Handler {
	return &Handler{users: users, rooms: rooms, messages: messages}
}

// writeError maps an apperr.Kind to its HTTP status, per §7.
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch apperr.KindOf(err) {
	case apperr.ValidationFailure:
		status = http.StatusBadRequest
	case apperr.AuthMissing:
		status = http.StatusUnauthorized
	case apperr.Forbidden:
		status = http.StatusForbidden
	case apperr.NotFound:
		status = http.StatusNotFound
	case apperr.Conflict:
		status = http.StatusConflict
	case apperr.RateLimited:
		c.Header("Retry-After", strconv.Itoa(apperr.RetryAfterOf(err)))
		status = http.StatusTooManyRequests
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func principal(c *gin.Context) (*auth.Principal, bool) {
	p, err := auth.PrincipalFrom(c)
	if err != nil {
		writeError(c, err)
		return nil, false
	}
	return p, true
}

func requireAdmin(c *gin.Context, p *auth.Principal) bool {
	if p.Role != string(models.RoleAdmin) {
		writeError(c, apperr.Forbiddenf("admin role required"))
		return false
	}
	return true
}

// Register implements POST /auth/register.
func (h *Handler) Register(c *gin.Context) {
	var req struct {
		Email       string `json:"email"`
		Password    string `json:"password"`
		DisplayName string `json:"displayName"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperr.ValidationFailf("invalid payload"))
		return
	}
	result, err := h.users.Register(c.Request.Context(), req.Email, req.Password, strings.TrimSpace(req.DisplayName))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

// Login implements POST /auth/login.
func (h *Handler) Login(c *gin.Context) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperr.ValidationFailf("invalid payload"))
		return
	}
	result, err := h.users.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Refresh implements POST /auth/refresh.
func (h *Handler) Refresh(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.RefreshToken == "" {
		writeError(c, apperr.ValidationFailf("invalid payload"))
		return
	}
	result, err := h.users.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Logout implements POST /auth/logout.
func (h *Handler) Logout(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.RefreshToken == "" {
		writeError(c, apperr.ValidationFailf("invalid payload"))
		return
	}
	if err := h.users.Logout(c.Request.Context(), req.RefreshToken); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Profile implements GET /auth/profile and GET /users/me.
func (h *Handler) Profile(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	result, err := h.users.Profile(c.Request.Context(), p.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// UpdateProfile implements PATCH /users/me.
func (h *Handler) UpdateProfile(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	var req struct {
		DisplayName *string `json:"displayName"`
		AvatarURL   *string `json:"avatarUrl"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperr.ValidationFailf("invalid payload"))
		return
	}
	result, err := h.users.UpdateProfile(c.Request.Context(), p.ID, req.DisplayName, req.AvatarURL)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// GetUser implements GET /users/:id (admin).
func (h *Handler) GetUser(c *gin.Context) {
	p, ok := principal(c)
	if !ok || !requireAdmin(c, p) {
		return
	}
	result, err := h.users.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// DeleteUser implements DELETE /users/:id (admin).
func (h *Handler) DeleteUser(c *gin.Context) {
	p, ok := principal(c)
	if !ok || !requireAdmin(c, p) {
		return
	}
	if err := h.users.Delete(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// SetUserRole implements PATCH /users/:id/role (admin).
func (h *Handler) SetUserRole(c *gin.Context) {
	p, ok := principal(c)
	if !ok || !requireAdmin(c, p) {
		return
	}
	var req struct {
		Role string `json:"role"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || (req.Role != string(models.RoleUser) && req.Role != string(models.RoleAdmin)) {
		writeError(c, apperr.ValidationFailf("role must be user or admin"))
		return
	}
	if err := h.users.SetRole(c.Request.Context(), c.Param("id"), models.Role(req.Role)); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ActivateUser implements PATCH /users/:id/activate (admin).
func (h *Handler) ActivateUser(c *gin.Context) {
	h.setUserActive(c, true)
}

// DeactivateUser implements PATCH /users/:id/deactivate (admin).
func (h *Handler) DeactivateUser(c *gin.Context) {
	h.setUserActive(c, false)
}

func (h *Handler) setUserActive(c *gin.Context, active bool) {
	p, ok := principal(c)
	if !ok || !requireAdmin(c, p) {
		return
	}
	if err := h.users.SetActive(c.Request.Context(), c.Param("id"), active); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// CreateRoom implements POST /rooms.
func (h *Handler) CreateRoom(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	var req struct {
		Type    string `json:"type"`
		Name    string `json:"name"`
		Private bool   `json:"private"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperr.ValidationFailf("invalid payload"))
		return
	}
	roomType := models.RoomChannel
	if req.Type == string(models.RoomDM) {
		roomType = models.RoomDM
	}
	room, err := h.rooms.Create(c.Request.Context(), roomType, req.Name, req.Private, p.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, room)
}

// ListRooms implements GET /rooms.
func (h *Handler) ListRooms(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	rooms, err := h.rooms.ListForUser(c.Request.Context(), p.ID, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rooms": rooms})
}

// GetRoom implements GET /rooms/:id.
func (h *Handler) GetRoom(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	room, err := h.rooms.Get(c.Request.Context(), c.Param("id"), p.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, room)
}

// UpdateRoom implements PATCH /rooms/:id.
func (h *Handler) UpdateRoom(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	var req struct {
		Name    *string `json:"name"`
		Private *bool   `json:"private"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperr.ValidationFailf("invalid payload"))
		return
	}
	room, err := h.rooms.Update(c.Request.Context(), c.Param("id"), p.ID, req.Name, req.Private)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, room)
}

// AddMember implements POST /rooms/:id/members.
func (h *Handler) AddMember(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	var req struct {
		UserID string `json:"userId"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.UserID == "" {
		writeError(c, apperr.ValidationFailf("invalid payload"))
		return
	}
	if err := h.rooms.AddMember(c.Request.Context(), c.Param("id"), p.ID, req.UserID); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// RemoveMember implements DELETE /rooms/:id/members/:userId.
func (h *Handler) RemoveMember(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	if err := h.rooms.RemoveMember(c.Request.Context(), c.Param("id"), p.ID, c.Param("userId")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// UpdateMemberRole implements PATCH /rooms/:id/members/:userId/role.
func (h *Handler) UpdateMemberRole(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	var req struct {
		Role string `json:"role"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperr.ValidationFailf("invalid payload"))
		return
	}
	role := models.MembershipRole(req.Role)
	if role != models.MembershipOwner && role != models.MembershipModerator && role != models.MembershipMember {
		writeError(c, apperr.ValidationFailf("invalid role"))
		return
	}
	if err := h.rooms.UpdateMemberRole(c.Request.Context(), c.Param("id"), p.ID, c.Param("userId"), role); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ListMembers implements GET /rooms/:id/members.
func (h *Handler) ListMembers(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	members, err := h.rooms.ListMembers(c.Request.Context(), c.Param("id"), p.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"members": members})
}

// SendMessage implements POST /rooms/:roomId/messages.
func (h *Handler) SendMessage(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	var req struct {
		Body string `json:"body"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperr.ValidationFailf("invalid payload"))
		return
	}
	dto, err := h.messages.Send(c.Request.Context(), c.Param("roomId"), req.Body, p.ID, c.ClientIP())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, dto)
}

// ListMessages implements GET /rooms/:roomId/messages.
func (h *Handler) ListMessages(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	page, _ := strconv.Atoi(c.Query("page"))
	limit, _ := strconv.Atoi(c.Query("limit"))
	result, err := h.messages.List(c.Request.Context(), c.Param("roomId"), p.ID, service.ListOptions{
		Page: page, Limit: limit, Cursor: c.Query("cursor"),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// GetMessage implements GET /messages/:id.
func (h *Handler) GetMessage(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	dto, err := h.messages.Get(c.Request.Context(), c.Param("id"), p.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto)
}

// UpdateMessage implements PATCH /messages/:id.
func (h *Handler) UpdateMessage(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	var req struct {
		Body string `json:"body"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperr.ValidationFailf("invalid payload"))
		return
	}
	dto, err := h.messages.Update(c.Request.Context(), c.Param("id"), req.Body, p.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto)
}

// DeleteMessage implements DELETE /messages/:id.
func (h *Handler) DeleteMessage(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	if err := h.messages.Delete(c.Request.Context(), c.Param("id"), p.ID); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/gulfconsultants/portal/internal/account"
	"github.com/gulfconsultants/portal/internal/auth"
	"github.com/gulfconsultants/portal/internal/models"
)

// SetupRequest represents the first-run setup request
type SetupRequest struct {
	Email     string `json:"email" binding:"required,email"`
	Password  string `json:"password" binding:"required,min=8"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// LoginRequest represents a login request
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// RegisterRequest represents a client self-registration
type RegisterRequest struct {
	Email     string `json:"email" binding:"required,email"`
	Password  string `json:"password" binding:"required,min=8"`
	FirstName string `json:"first_name" binding:"max=100"`
	LastName  string `json:"last_name" binding:"max=100"`
	Phone     string `json:"phone" binding:"max=32"`
}

// AuthResponse is returned by login, register and setup
type AuthResponse struct {
	AccessToken string        `json:"access_token"`
	TokenType   string        `json:"token_type"`
	User        *account.User `json:"user"`
}

// UpdateUserRequest changes an account's role or status
type UpdateUserRequest struct {
	Role     *string `json:"role" binding:"omitempty,oneof=client admin super_admin"`
	IsActive *bool   `json:"is_active"`
}

// @Summary First-run setup
// @Description Creates the first super admin (only works if no users exist)
// @Tags auth
// @Accept json
// @Produce json
// @Param request body SetupRequest true "Setup request"
// @Success 200 {object} AuthResponse
// @Failure 400 {object} map[string]interface{}
// @Failure 409 {object} map[string]interface{}
// @Router /api/setup [post]
func (s *Server) setupFirstAdmin(c *gin.Context) {
	var req SetupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var count int64
	if err := s.db.Model(&models.User{}).Count(&count).Error; err != nil {
		s.logger.Error().Err(err).Msg("Failed to count users")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	if count > 0 {
		c.JSON(http.StatusConflict, gin.H{"error": "Setup already completed"})
		return
	}

	user, ok := s.createUser(c, req.Email, req.Password, account.RoleSuperAdmin, req.FirstName, req.LastName, "")
	if !ok {
		return
	}

	s.logger.Info().Str("user_id", user.ID).Str("email", user.Email).Msg("First super admin created")
	s.respondWithToken(c, http.StatusOK, user)
}

// @Summary Register
// @Description Create a client account and sign in
// @Tags auth
// @Accept json
// @Produce json
// @Param request body RegisterRequest true "Register request"
// @Success 201 {object} AuthResponse
// @Failure 400 {object} map[string]interface{}
// @Failure 409 {object} map[string]interface{}
// @Router /api/auth/register [post]
func (s *Server) register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var existing int64
	if err := s.db.Model(&models.User{}).Where("email = ?", models.NormalizeEmail(req.Email)).Count(&existing).Error; err != nil {
		s.logger.Error().Err(err).Msg("Failed to check email")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	if existing > 0 {
		c.JSON(http.StatusConflict, gin.H{"error": "Email already registered"})
		return
	}

	user, ok := s.createUser(c, req.Email, req.Password, account.RoleClient, req.FirstName, req.LastName, req.Phone)
	if !ok {
		return
	}

	s.logger.Info().Str("user_id", user.ID).Str("email", user.Email).Msg("User registered")
	s.respondWithToken(c, http.StatusCreated, user)
}

// @Summary Login
// @Description Authenticate with email and password
// @Tags auth
// @Accept json
// @Produce json
// @Param request body LoginRequest true "Login request"
// @Success 200 {object} AuthResponse
// @Failure 400 {object} map[string]interface{}
// @Failure 401 {object} map[string]interface{}
// @Router /api/auth/login [post]
func (s *Server) login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var user models.User
	if err := s.db.Where("email = ?", models.NormalizeEmail(req.Email)).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid email or password"})
			return
		}
		s.logger.Error().Err(err).Msg("Failed to find user")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	if err := auth.VerifyPassword(req.Password, user.PasswordHash); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid email or password"})
		return
	}

	if !user.IsActive {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Account is disabled"})
		return
	}

	s.logger.Info().Str("user_id", user.ID).Str("email", user.Email).Msg("User logged in")
	s.respondWithToken(c, http.StatusOK, &user)
}

// @Summary Get current user
// @Description Get information about the currently authenticated user
// @Tags auth
// @Produce json
// @Security BearerAuth
// @Success 200 {object} account.User
// @Failure 401 {object} map[string]interface{}
// @Router /api/auth/me [get]
func (s *Server) getCurrentUser(c *gin.Context) {
	sessionData, exists := GetSessionData(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	var user models.User
	if err := models.FindByID(s.db, sessionData.UserID, &user); err != nil {
		s.logger.Error().Err(err).Str("user_id", sessionData.UserID).Msg("Failed to find user")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	c.JSON(http.StatusOK, user.Account())
}

// @Summary Logout
// @Description Acknowledges a logout; tokens are stateless and simply discarded by the client
// @Tags auth
// @Security BearerAuth
// @Success 204
// @Router /api/auth/logout [post]
func (s *Server) logout(c *gin.Context) {
	if sessionData, ok := GetSessionData(c); ok {
		s.logger.Info().Str("user_id", sessionData.UserID).Msg("User logged out")
	}
	c.Status(http.StatusNoContent)
}

// @Router /api/admin/ping [get]
// @Security BearerAuth
func (s *Server) adminPing(c *gin.Context) {
	sessionData, _ := GetSessionData(c)
	c.JSON(http.StatusOK, gin.H{"status": "ok", "role": sessionData.Role})
}

// @Summary List users
// @Description List all users (admin only)
// @Tags users
// @Produce json
// @Security BearerAuth
// @Success 200 {array} account.User
// @Router /api/users [get]
func (s *Server) listUsers(c *gin.Context) {
	var users []models.User
	if err := s.db.Order("created_at DESC").Find(&users).Error; err != nil {
		s.logger.Error().Err(err).Msg("Failed to list users")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	details := make([]*account.User, len(users))
	for i := range users {
		details[i] = users[i].Account()
	}

	c.JSON(http.StatusOK, details)
}

// @Summary Update user
// @Description Change a user's role or deactivate them (admin only, not self).
// @Description Only super admins may grant or revoke admin roles.
// @Tags users
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "User ID"
// @Param request body UpdateUserRequest true "Update request"
// @Success 200 {object} account.User
// @Router /api/users/{id} [patch]
func (s *Server) updateUser(c *gin.Context) {
	userID := c.Param("id")
	sessionData, _ := GetSessionData(c)

	if userID == sessionData.UserID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Cannot modify yourself"})
		return
	}

	var req UpdateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var user models.User
	if err := models.FindByID(s.db, userID, &user); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
			return
		}
		s.logger.Error().Err(err).Msg("Failed to find user")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	updates := map[string]any{}
	if req.Role != nil && *req.Role != user.Role {
		touchesAdmin := *req.Role != string(account.RoleClient) || user.Role != string(account.RoleClient)
		if touchesAdmin && sessionData.Role != string(account.RoleSuperAdmin) {
			c.JSON(http.StatusForbidden, gin.H{"error": "Only super admins can change admin roles"})
			return
		}
		updates["role"] = *req.Role
	}
	if req.IsActive != nil {
		updates["is_active"] = *req.IsActive
	}

	if len(updates) > 0 {
		// map form so false/zero values are written
		if err := s.db.Model(&user).Updates(updates).Error; err != nil {
			s.logger.Error().Err(err).Msg("Failed to update user")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update user"})
			return
		}
		if err := models.FindByID(s.db, userID, &user); err != nil {
			s.logger.Error().Err(err).Msg("Failed to reload user")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
			return
		}
	}

	s.logger.Info().
		Str("user_id", user.ID).
		Str("updated_by", sessionData.UserID).
		Interface("changes", updates).
		Msg("User updated")

	c.JSON(http.StatusOK, user.Account())
}

func (s *Server) createUser(c *gin.Context, email, password string, role account.Role, firstName, lastName, phone string) (*models.User, bool) {
	passwordHash, err := auth.HashPassword(password)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to hash password")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create user"})
		return nil, false
	}

	user := &models.User{
		Email:        email,
		PasswordHash: passwordHash,
		Role:         string(role),
		IsActive:     true,
		FirstName:    firstName,
		LastName:     lastName,
		Phone:        phone,
	}

	if err := s.db.Create(user).Error; err != nil {
		s.logger.Error().Err(err).Msg("Failed to create user")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create user"})
		return nil, false
	}

	return user, true
}

func (s *Server) respondWithToken(c *gin.Context, status int, user *models.User) {
	token, err := auth.GenerateToken(user.ID, user.Email, user.Role)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to generate token")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token"})
		return
	}

	c.JSON(status, AuthResponse{
		AccessToken: token,
		TokenType:   "bearer",
		User:        user.Account(),
	})
}

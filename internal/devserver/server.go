// Package devserver is an in-memory stand-in for the TaskFlow backend. It
// implements the REST and websocket surface the client talks to, enough for
// local development and integration tests; nothing is persisted.
package devserver

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"taskflow-client/internal/models"
)

const accessTokenTTL = 30 * time.Minute

// Server holds all backend state in memory.
type Server struct {
	engine    *gin.Engine
	hub       *hub
	jwtSecret []byte

	mu            sync.Mutex
	users         map[string]models.User // by id
	usersByEmail  map[string]string      // email -> id
	passwords     map[string]string      // user id -> password
	refreshTokens map[string]string      // refresh token -> user id
	notifications map[string][]models.Notification
	conversations map[string]*models.Conversation
	messages      map[string][]models.Message // conversation id -> messages, oldest first
	pins          map[string]map[string]bool  // conversation id -> user id -> pinned
	attachments   map[string]storedAttachment
}

type storedAttachment struct {
	meta    models.ChatAttachment
	content []byte
}

// New builds a Server with an empty state.
func New() *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		hub:           newHub(),
		jwtSecret:     []byte(uuid.NewString()),
		users:         make(map[string]models.User),
		usersByEmail:  make(map[string]string),
		passwords:     make(map[string]string),
		refreshTokens: make(map[string]string),
		notifications: make(map[string][]models.Notification),
		conversations: make(map[string]*models.Conversation),
		messages:      make(map[string][]models.Message),
		pins:          make(map[string]map[string]bool),
		attachments:   make(map[string]storedAttachment),
	}

	r := gin.New()
	r.Use(gin.Recovery())

	auth := r.Group("/api/auth")
	{
		auth.POST("/login", s.login)
		auth.POST("/refresh", s.refresh)
		auth.POST("/logout", s.logout)
	}

	api := r.Group("/api", s.authMiddleware())
	{
		api.GET("/notifications", s.listNotifications)
		api.GET("/notifications/unread-count", s.unreadCount)
		api.POST("/notifications/mark-read/:id", s.markNotificationRead)
		api.POST("/notifications/mark-all-read", s.markAllNotificationsRead)

		api.GET("/chat/conversations", s.listConversations)
		api.POST("/chat/conversations", s.createConversation)
		api.GET("/chat/conversations/:id/messages", s.listMessages)
		api.POST("/chat/conversations/:id/messages", s.sendMessage)
		api.POST("/chat/conversations/:id/read", s.markMessagesRead)
		api.POST("/chat/conversations/:id/pin", s.pinConversation)
		api.POST("/chat/conversations/:id/messages/:message_id/pin", s.pinMessage)
		api.GET("/chat/conversations/:id/pinned-messages", s.pinnedMessages)
		api.GET("/chat/search", s.searchMessages)
		api.POST("/chat/conversations/:id/attachments", s.uploadAttachment)
		api.GET("/chat/attachments/:id/download", s.downloadAttachment)
	}

	// The websocket endpoint authenticates via query parameter because
	// browser websocket clients cannot set headers.
	r.GET("/api/ws", s.handleWS)

	s.engine = r
	return s
}

// Handler exposes the router for httptest or http.Server.
func (s *Server) Handler() http.Handler { return s.engine }

// SeedUser registers a user account and returns it.
func (s *Server) SeedUser(email, password, name string) models.User {
	u := models.User{ID: uuid.NewString(), Email: email, Name: name, Role: "member"}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
	s.usersByEmail[email] = u.ID
	s.passwords[u.ID] = password
	return u
}

func (s *Server) issueAccessToken(userID string) string {
	claims := jwt.MapClaims{
		"sub": userID,
		"exp": time.Now().Add(accessTokenTTL).Unix(),
		"iat": time.Now().Unix(),
	}
	tok, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.jwtSecret)
	return tok
}

func (s *Server) parseAccessToken(token string) (string, bool) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		return s.jwtSecret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil || !parsed.Valid {
		return "", false
	}
	sub, err := parsed.Claims.GetSubject()
	if err != nil || sub == "" {
		return "", false
	}
	return sub, true
}

func (s *Server) login(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}

	s.mu.Lock()
	userID, ok := s.usersByEmail[req.Email]
	valid := ok && s.passwords[userID] == req.Password
	var user models.User
	var refresh string
	if valid {
		user = s.users[userID]
		refresh = uuid.NewString()
		s.refreshTokens[refresh] = userID
	}
	s.mu.Unlock()

	if !valid {
		c.JSON(http.StatusUnauthorized, gin.H{"detail": "invalid credentials"})
		return
	}

	c.JSON(http.StatusOK, models.Credentials{
		AccessToken:  s.issueAccessToken(userID),
		RefreshToken: refresh,
		User:         user,
	})
}

func (s *Server) refresh(c *gin.Context) {
	token := c.Query("refresh_token")

	s.mu.Lock()
	userID, ok := s.refreshTokens[token]
	s.mu.Unlock()

	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"detail": "invalid refresh token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": s.issueAccessToken(userID)})
}

func (s *Server) logout(c *gin.Context) {
	token := c.Query("refresh_token")
	s.mu.Lock()
	delete(s.refreshTokens, token)
	s.mu.Unlock()
	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}

// RevokeRefreshTokens invalidates every outstanding refresh token. Tests use
// this to simulate server-side session expiry.
func (s *Server) RevokeRefreshTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshTokens = make(map[string]string)
}

func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "missing bearer token"})
			return
		}
		userID, ok := s.parseAccessToken(strings.TrimPrefix(header, "Bearer "))
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "invalid token"})
			return
		}
		c.Set("userID", userID)
		c.Next()
	}
}

func currentUserID(c *gin.Context) string {
	return c.GetString("userID")
}

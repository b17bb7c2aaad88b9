package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/swayammedia/habitpal/internal/auth"
	"github.com/swayammedia/habitpal/internal/friends"
	"github.com/swayammedia/habitpal/internal/habits"
	"github.com/swayammedia/habitpal/internal/profiles"
)

const sessionContextKey = "habitpal_session"

var (
	errMissingTokenManager   = errors.New("token manager dependency required")
	errMissingAccountService = errors.New("account service dependency required")
	errMissingProfileService = errors.New("profile service dependency required")
	errMissingFriendService  = errors.New("friend service dependency required")
	errMissingHabitService   = errors.New("habit service dependency required")
	errInvalidAuthorization  = errors.New("authorization header missing or invalid")
)

// SessionTokenManager issues and validates the bearer tokens carried by
// authenticated requests.
type SessionTokenManager interface {
	Issue(session auth.Session) (string, int64, error)
	Validate(token string) (auth.Session, error)
}

// Dependencies wires the HTTP layer to the core services.
type Dependencies struct {
	Tokens   SessionTokenManager
	Accounts *auth.Service
	Profiles *profiles.Service
	Friends  *friends.Service
	Habits   *habits.Service
	Clock    func() time.Time
	Logger   *zap.Logger
}

// NewHTTPHandler builds the gin router for the HabitPal API.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Tokens == nil {
		return nil, errMissingTokenManager
	}
	if deps.Accounts == nil {
		return nil, errMissingAccountService
	}
	if deps.Profiles == nil {
		return nil, errMissingProfileService
	}
	if deps.Friends == nil {
		return nil, errMissingFriendService
	}
	if deps.Habits == nil {
		return nil, errMissingHabitService
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		tokens:   deps.Tokens,
		accounts: deps.Accounts,
		profiles: deps.Profiles,
		friends:  deps.Friends,
		habits:   deps.Habits,
		clock:    clock,
		logger:   logger,
	}

	router.POST("/auth/register", handler.handleRegister)
	router.POST("/auth/login", handler.handleLogin)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.GET("/me", handler.handleGetProfile)
	protected.PUT("/me", handler.handleUpdateProfile)
	protected.GET("/friends", handler.handleListFriends)
	protected.GET("/friends/requests", handler.handleListFriendRequests)
	protected.POST("/friends/requests", handler.handleSendFriendRequest)
	protected.POST("/friends/requests/:id/respond", handler.handleRespondFriendRequest)
	protected.GET("/habits", handler.handleListOwnHabits)
	protected.GET("/habits/friends", handler.handleListFriendsHabits)
	protected.POST("/habits", handler.handleCreateHabit)
	protected.POST("/habits/:id/completion", handler.handleSetCompletion)

	return router, nil
}

type httpHandler struct {
	tokens   SessionTokenManager
	accounts *auth.Service
	profiles *profiles.Service
	friends  *friends.Service
	habits   *habits.Service
	clock    func() time.Time
	logger   *zap.Logger
}

type registerRequestPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Username string `json:"username"`
	FullName string `json:"full_name"`
}

type loginRequestPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResponsePayload struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

func (h *httpHandler) handleRegister(c *gin.Context) {
	var request registerRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	session, err := h.accounts.SignUp(c.Request.Context(), request.Email, request.Password, request.Username, request.FullName)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidEmail):
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_email"})
		case errors.Is(err, auth.ErrWeakPassword):
			c.JSON(http.StatusBadRequest, gin.H{"error": "weak_password"})
		case errors.Is(err, profiles.ErrInvalidUsername):
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_username"})
		case errors.Is(err, auth.ErrEmailTaken):
			c.JSON(http.StatusConflict, gin.H{"error": "email_taken"})
		case errors.Is(err, profiles.ErrUsernameTaken):
			c.JSON(http.StatusConflict, gin.H{"error": "username_taken"})
		default:
			h.logger.Error("registration failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "registration_failed"})
		}
		return
	}

	h.issueToken(c, session)
}

func (h *httpHandler) handleLogin(c *gin.Context) {
	var request loginRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	session, err := h.accounts.SignIn(c.Request.Context(), request.Email, request.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_credentials"})
			return
		}
		h.logger.Error("login failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login_failed"})
		return
	}

	h.issueToken(c, session)
}

func (h *httpHandler) issueToken(c *gin.Context, session auth.Session) {
	token, expiresIn, err := h.tokens.Issue(session)
	if err != nil {
		h.logger.Error("failed to issue session token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}
	c.JSON(http.StatusOK, tokenResponsePayload{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
	})
}

type profilePayload struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	FullName string `json:"full_name"`
}

func (h *httpHandler) handleGetProfile(c *gin.Context) {
	session, ok := h.sessionFromContext(c)
	if !ok {
		return
	}

	profile, err := h.profiles.Get(c.Request.Context(), session.UserID)
	if err != nil {
		if errors.Is(err, profiles.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "profile_not_found"})
			return
		}
		h.logger.Error("failed to load profile", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "profile_load_failed"})
		return
	}

	c.JSON(http.StatusOK, profilePayload{ID: profile.ID, Username: profile.Username, FullName: profile.FullName})
}

type updateProfilePayload struct {
	FullName string `json:"full_name"`
}

func (h *httpHandler) handleUpdateProfile(c *gin.Context) {
	session, ok := h.sessionFromContext(c)
	if !ok {
		return
	}

	var request updateProfilePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	profile, err := h.profiles.UpdateFullName(c.Request.Context(), session.UserID, request.FullName)
	if err != nil {
		if errors.Is(err, profiles.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "profile_not_found"})
			return
		}
		h.logger.Error("failed to update profile", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "profile_update_failed"})
		return
	}

	c.JSON(http.StatusOK, profilePayload{ID: profile.ID, Username: profile.Username, FullName: profile.FullName})
}

type friendPayload struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	FullName string `json:"full_name"`
}

func (h *httpHandler) handleListFriends(c *gin.Context) {
	session, ok := h.sessionFromContext(c)
	if !ok {
		return
	}

	friendSet, err := h.friends.Friends(c.Request.Context(), session)
	if err != nil {
		h.logger.Error("failed to list friends", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "friends_load_failed"})
		return
	}

	payload := make([]friendPayload, 0, len(friendSet))
	for _, friend := range friendSet {
		payload = append(payload, friendPayload{ID: friend.UserID, Username: friend.Username, FullName: friend.FullName})
	}
	c.JSON(http.StatusOK, gin.H{"friends": payload})
}

type friendRequestPayload struct {
	RequestID   string `json:"request_id"`
	RequesterID string `json:"requester_id"`
	Username    string `json:"username"`
	FullName    string `json:"full_name"`
}

func (h *httpHandler) handleListFriendRequests(c *gin.Context) {
	session, ok := h.sessionFromContext(c)
	if !ok {
		return
	}

	requests, err := h.friends.PendingIncoming(c.Request.Context(), session)
	if err != nil {
		h.logger.Error("failed to list friend requests", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "requests_load_failed"})
		return
	}

	payload := make([]friendRequestPayload, 0, len(requests))
	for _, request := range requests {
		payload = append(payload, friendRequestPayload{
			RequestID:   request.RequestID,
			RequesterID: request.RequesterID,
			Username:    request.Username,
			FullName:    request.FullName,
		})
	}
	c.JSON(http.StatusOK, gin.H{"requests": payload})
}

type sendFriendRequestPayload struct {
	Username string `json:"username"`
}

func (h *httpHandler) handleSendFriendRequest(c *gin.Context) {
	session, ok := h.sessionFromContext(c)
	if !ok {
		return
	}

	var request sendFriendRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Username) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	err := h.friends.SendRequest(c.Request.Context(), session, request.Username)
	if err != nil {
		switch {
		case errors.Is(err, friends.ErrSelfRequest):
			c.JSON(http.StatusBadRequest, gin.H{"error": "self_request"})
		case errors.Is(err, friends.ErrUserNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "user_not_found"})
		case errors.Is(err, friends.ErrAlreadyPending):
			c.JSON(http.StatusConflict, gin.H{"error": "request_already_pending"})
		case errors.Is(err, friends.ErrAlreadyFriends):
			c.JSON(http.StatusConflict, gin.H{"error": "already_friends"})
		default:
			h.logger.Error("failed to send friend request", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "request_send_failed"})
		}
		return
	}

	c.JSON(http.StatusCreated, gin.H{"status": "pending"})
}

type respondFriendRequestPayload struct {
	Accept *bool `json:"accept"`
}

func (h *httpHandler) handleRespondFriendRequest(c *gin.Context) {
	session, ok := h.sessionFromContext(c)
	if !ok {
		return
	}

	var request respondFriendRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.Accept == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	err := h.friends.Respond(c.Request.Context(), session, c.Param("id"), *request.Accept)
	if err != nil {
		switch {
		case errors.Is(err, friends.ErrRequestNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "request_not_found"})
		case errors.Is(err, friends.ErrNotRequestTarget):
			c.JSON(http.StatusForbidden, gin.H{"error": "not_request_target"})
		default:
			h.logger.Error("failed to respond to friend request", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "request_respond_failed"})
		}
		return
	}

	c.Status(http.StatusNoContent)
}

type habitPayload struct {
	ID               string `json:"id"`
	Title            string `json:"title"`
	Description      string `json:"description"`
	CreatedAtSeconds int64  `json:"created_at_s"`
}

type visibleHabitPayload struct {
	AssignmentID   string        `json:"assignment_id"`
	Habit          habitPayload  `json:"habit"`
	Owner          friendPayload `json:"owner"`
	CompletedToday bool          `json:"completed_today"`
}

func toVisibleHabitPayload(entry habits.VisibleHabit) visibleHabitPayload {
	return visibleHabitPayload{
		AssignmentID: entry.AssignmentID,
		Habit: habitPayload{
			ID:               entry.Habit.ID,
			Title:            entry.Habit.Title,
			Description:      entry.Habit.Description,
			CreatedAtSeconds: entry.Habit.CreatedAt.Unix(),
		},
		Owner: friendPayload{
			ID:       entry.Owner.UserID,
			Username: entry.Owner.Username,
			FullName: entry.Owner.FullName,
		},
		CompletedToday: entry.CompletedToday,
	}
}

func (h *httpHandler) handleListOwnHabits(c *gin.Context) {
	session, ok := h.sessionFromContext(c)
	if !ok {
		return
	}

	entries, err := h.habits.VisibleOwn(c.Request.Context(), session, h.clock())
	if err != nil {
		h.logger.Error("failed to list habits", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "habits_load_failed"})
		return
	}

	payload := make([]visibleHabitPayload, 0, len(entries))
	for _, entry := range entries {
		payload = append(payload, toVisibleHabitPayload(entry))
	}
	c.JSON(http.StatusOK, gin.H{"habits": payload})
}

func (h *httpHandler) handleListFriendsHabits(c *gin.Context) {
	session, ok := h.sessionFromContext(c)
	if !ok {
		return
	}

	entries, err := h.habits.VisibleFriends(c.Request.Context(), session, h.clock())
	if err != nil {
		h.logger.Error("failed to list friends habits", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "habits_load_failed"})
		return
	}

	payload := make([]visibleHabitPayload, 0, len(entries))
	for _, entry := range entries {
		payload = append(payload, toVisibleHabitPayload(entry))
	}
	c.JSON(http.StatusOK, gin.H{"habits": payload})
}

type createHabitPayload struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

func (h *httpHandler) handleCreateHabit(c *gin.Context) {
	session, ok := h.sessionFromContext(c)
	if !ok {
		return
	}

	var request createHabitPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	entry, err := h.habits.Create(c.Request.Context(), session, request.Title, request.Description)
	if err != nil {
		if errors.Is(err, habits.ErrInvalidTitle) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_title"})
			return
		}
		h.logger.Error("failed to create habit", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "habit_create_failed"})
		return
	}

	c.JSON(http.StatusCreated, toVisibleHabitPayload(entry))
}

type setCompletionPayload struct {
	Completed *bool `json:"completed"`
}

func (h *httpHandler) handleSetCompletion(c *gin.Context) {
	session, ok := h.sessionFromContext(c)
	if !ok {
		return
	}

	var request setCompletionPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.Completed == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	err := h.habits.SetCompleted(c.Request.Context(), session, c.Param("id"), *request.Completed)
	if err != nil {
		switch {
		case errors.Is(err, habits.ErrAssignmentNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "assignment_not_found"})
		case errors.Is(err, habits.ErrNotAssignmentOwner):
			c.JSON(http.StatusForbidden, gin.H{"error": "not_assignment_owner"})
		default:
			h.logger.Error("failed to set completion", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "completion_failed"})
		}
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	session, err := h.tokens.Validate(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(sessionContextKey, session)
	c.Next()
}

func (h *httpHandler) sessionFromContext(c *gin.Context) (auth.Session, bool) {
	value, exists := c.Get(sessionContextKey)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return auth.Session{}, false
	}
	session, ok := value.(auth.Session)
	if !ok || session.UserID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return auth.Session{}, false
	}
	return session, true
}

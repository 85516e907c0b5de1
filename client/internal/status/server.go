package status

import (
	"context"
	"errors"
	"net/http"

	"feedsync/client/internal/auth"
	"feedsync/client/internal/gate"
	"feedsync/client/internal/model"
	"feedsync/client/internal/remote"
	"feedsync/client/internal/router"
	"feedsync/client/internal/session"
	"feedsync/client/internal/supervisor"
	"feedsync/client/internal/syncer"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server 是本地状态/控制面：展示当前视图，并把用户操作转给同步层。
type Server struct {
	gate      *gate.Gate
	sessions  *session.Manager
	syncer    *syncer.Synchronizer
	router    *router.Router
	connector supervisor.Connector
	gatherer  prometheus.Gatherer
	origins   map[string]bool
}

// Options 构造 Server 所需的组件
type Options struct {
	Gate *gate.Gate
	// Sessions 为 nil 时不挂 /api/session
	Sessions  *session.Manager
	Syncer    *syncer.Synchronizer
	Router    *router.Router
	Connector supervisor.Connector
	// Gatherer 为 nil 时不挂 /metrics
	Gatherer       prometheus.Gatherer
	AllowedOrigins []string
}

func NewServer(opts Options) *Server {
	origins := make(map[string]bool, len(opts.AllowedOrigins))
	for _, o := range opts.AllowedOrigins {
		origins[o] = true
	}
	return &Server{
		gate:      opts.Gate,
		sessions:  opts.Sessions,
		syncer:    opts.Syncer,
		router:    opts.Router,
		connector: opts.Connector,
		gatherer:  opts.Gatherer,
		origins:   origins,
	}
}

func (s *Server) Routes() http.Handler {
	engine := gin.New()
	engine.Use(gin.Logger(), gin.Recovery(), s.corsMiddleware())
	engine.GET("/healthz", s.handleHealthz)
	engine.GET("/api/state", s.handleState)
	engine.GET("/api/connection", s.handleConnection)
	engine.GET("/api/timeline", s.handleTimeline)
	engine.POST("/api/timeline/refresh", s.handleTimelineRefresh)
	engine.GET("/api/users", s.handleUsers)
	engine.POST("/api/users/refresh", s.handleUsersRefresh)
	engine.POST("/api/users/:id/follow", s.handleFollow)
	engine.DELETE("/api/users/:id/follow", s.handleUnfollow)
	engine.GET("/api/users/:id/following", s.handleFollowing)
	engine.GET("/api/users/:id/not-following", s.handleNotFollowing)
	engine.GET("/api/notifications", s.handleNotifications)
	engine.POST("/api/posts", s.handleCreatePost)
	if s.sessions != nil {
		engine.POST("/api/session", s.handleLogin)
		engine.POST("/api/session/signup", s.handleSignup)
		engine.DELETE("/api/session", s.handleLogout)
	}
	if s.gatherer != nil {
		engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}
	return engine
}

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type connectionResponse struct {
	Identity model.Identity        `json:"identity"`
	State    model.ConnectionState `json:"state"`
	Live     bool                  `json:"live"`
}

func (s *Server) connection() connectionResponse {
	state := s.connector.State()
	return connectionResponse{
		Identity: s.gate.Current(),
		State:    state,
		Live:     state.Live(),
	}
}

type stateResponse struct {
	Connection    connectionResponse  `json:"connection"`
	Timeline      []model.Post        `json:"timeline"`
	Users         []model.UserSummary `json:"users"`
	Notifications []router.Entry      `json:"notifications"`
	Queue         *router.Stats       `json:"queue,omitempty"`
}

// handleState 一次返回整个本地视图。
func (s *Server) handleState(c *gin.Context) {
	resp := stateResponse{
		Connection:    s.connection(),
		Timeline:      s.syncer.Timeline(),
		Users:         s.syncer.Users(),
		Notifications: s.router.Recent(),
	}
	if stats, ok := s.gate.QueueStats(); ok {
		resp.Queue = &stats
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleConnection(c *gin.Context) {
	c.JSON(http.StatusOK, s.connection())
}

func (s *Server) handleTimeline(c *gin.Context) {
	c.JSON(http.StatusOK, s.syncer.Timeline())
}

func (s *Server) handleTimelineRefresh(c *gin.Context) {
	if !s.requireSession(c) {
		return
	}
	posts, err := s.syncer.RefreshTimeline(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, posts)
}

func (s *Server) handleUsers(c *gin.Context) {
	c.JSON(http.StatusOK, s.syncer.Users())
}

func (s *Server) handleUsersRefresh(c *gin.Context) {
	if !s.requireSession(c) {
		return
	}
	users, err := s.syncer.RefreshUsers(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, users)
}

// handleFollow 关注后返回对齐后的用户列表；失败时列表也已刷新过。
func (s *Server) handleFollow(c *gin.Context) {
	s.mutate(c, s.syncer.FollowUser)
}

func (s *Server) handleUnfollow(c *gin.Context) {
	s.mutate(c, s.syncer.UnfollowUser)
}

func (s *Server) mutate(c *gin.Context, fn func(context.Context, string) error) {
	if !s.requireSession(c) {
		return
	}
	if err := fn(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.syncer.Users())
}

func (s *Server) handleFollowing(c *gin.Context) {
	s.relationship(c, s.syncer.Following)
}

func (s *Server) handleNotFollowing(c *gin.Context) {
	s.relationship(c, s.syncer.NotFollowing)
}

func (s *Server) relationship(c *gin.Context, fn func(context.Context, string) ([]model.UserSummary, error)) {
	if !s.requireSession(c) {
		return
	}
	users, err := fn(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, users)
}

func (s *Server) handleNotifications(c *gin.Context) {
	c.JSON(http.StatusOK, s.router.Recent())
}

type createPostRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// handleCreatePost 202 表示“已排队”，帖子要等推送通知触发刷新后才出现在时间线里。
func (s *Server) handleCreatePost(c *gin.Context) {
	if !s.requireSession(c) {
		return
	}
	var req createPostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if err := s.syncer.CreatePost(c.Request.Context(), req.Title, req.Description); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
}

type loginRequest struct {
	Token    string `json:"token"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type signupRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type sessionResponse struct {
	Connection   connectionResponse `json:"connection"`
	ChannelError string             `json:"channel_error,omitempty"`
}

// handleLogin 带 token 时直接使用，否则用邮箱密码登录。
func (s *Server) handleLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.Token != "" {
		s.startSession(c, func(ctx context.Context) (auth.Session, error) {
			return s.sessions.UseToken(ctx, req.Token)
		})
		return
	}
	s.startSession(c, func(ctx context.Context) (auth.Session, error) {
		return s.sessions.Login(ctx, req.Email, req.Password)
	})
}

func (s *Server) handleSignup(c *gin.Context) {
	var req signupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	s.startSession(c, func(ctx context.Context) (auth.Session, error) {
		return s.sessions.Signup(ctx, req.Username, req.Email, req.Password)
	})
}

// startSession 会话已切换但通道没打开时仍返回 200，错误放在 channel_error 里。
func (s *Server) startSession(c *gin.Context, start func(context.Context) (auth.Session, error)) {
	sess, err := start(c.Request.Context())
	if !sess.Identity.Valid() {
		var fe *model.FetchError
		if errors.As(err, &fe) && (fe.Status == http.StatusUnauthorized || fe.Status == http.StatusForbidden) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": fe.Error()})
			return
		}
		writeError(c, err)
		return
	}
	resp := sessionResponse{Connection: s.connection()}
	if err != nil {
		resp.ChannelError = err.Error()
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleLogout(c *gin.Context) {
	s.sessions.Logout(c.Request.Context())
	c.JSON(http.StatusOK, s.connection())
}

// requireSession 没有身份时拒绝写操作和远端读取。
func (s *Server) requireSession(c *gin.Context) bool {
	if s.gate.Current().Valid() {
		return true
	}
	c.JSON(http.StatusConflict, gin.H{"error": "no active session"})
	return false
}

// writeError 把同步层的错误映射为 HTTP 状态码。
func writeError(c *gin.Context, err error) {
	var ve *model.ValidationError
	var fe *model.FetchError
	switch {
	case errors.Is(err, remote.ErrNoCredential):
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
	case errors.As(err, &ve):
		c.JSON(http.StatusBadRequest, gin.H{"error": ve.Error(), "field": ve.Field})
	case errors.As(err, &fe):
		body := gin.H{"error": fe.Error()}
		if fe.Status != 0 {
			body["upstream_status"] = fe.Status
		}
		c.JSON(http.StatusBadGateway, body)
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func (s *Server) corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if s.origins[origin] {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
			c.Header("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Content-Type")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

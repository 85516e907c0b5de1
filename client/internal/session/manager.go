package session

import (
	"context"
	"log"

	"feedsync/client/internal/auth"
	"feedsync/client/internal/gate"
	"feedsync/client/internal/model"
)

// Remote 是会话管理需要的远端能力（由 remote.Client 实现）。
type Remote interface {
	auth.Loginer
	Signup(ctx context.Context, username, email, password string) (model.AuthResult, error)
	SetToken(token string)
}

// Manager 负责运行时的登录、注册与登出。
// 凭证切换在 gate 的身份切换内完成：旧会话拆除之后、新会话的首批请求之前。
type Manager struct {
	remote Remote
	gate   *gate.Gate
	logger *log.Logger
}

func NewManager(remote Remote, g *gate.Gate, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.Default()
	}
	return &Manager{remote: remote, gate: g, logger: logger}
}

// Begin 以给定会话替换当前会话。返回的错误只反映通道打开失败。
func (m *Manager) Begin(ctx context.Context, s auth.Session) error {
	if !s.Identity.Valid() {
		return &model.ValidationError{Field: "identity", Reason: "must not be empty"}
	}
	if s.Token == "" {
		return &model.ValidationError{Field: "token", Reason: "must not be empty"}
	}
	m.logger.Printf("[Session] ✅ starting session for %q", s.Identity)
	return m.gate.Switch(ctx, s.Identity, func() { m.remote.SetToken(s.Token) })
}

// Login 用邮箱密码登录并切换到对应身份。
// 登录失败时当前会话不受影响。
func (m *Manager) Login(ctx context.Context, email, password string) (auth.Session, error) {
	if err := required("email", email); err != nil {
		return auth.Session{}, err
	}
	if err := required("password", password); err != nil {
		return auth.Session{}, err
	}
	s, err := auth.Resolve(ctx, m.remote, "", email, password)
	if err != nil {
		m.logger.Printf("[Session] ❌ login failed: %v", err)
		return auth.Session{}, err
	}
	return s, m.Begin(ctx, s)
}

// UseToken 直接使用已有 token（身份从 token 中解析）。
func (m *Manager) UseToken(ctx context.Context, token string) (auth.Session, error) {
	if err := required("token", token); err != nil {
		return auth.Session{}, err
	}
	s, err := auth.Resolve(ctx, m.remote, token, "", "")
	if err != nil {
		return auth.Session{}, &model.ValidationError{Field: "token", Reason: err.Error()}
	}
	return s, m.Begin(ctx, s)
}

// Signup 注册新用户并直接以其身份开始会话。
func (m *Manager) Signup(ctx context.Context, username, email, password string) (auth.Session, error) {
	for _, f := range []struct{ name, value string }{
		{"username", username}, {"email", email}, {"password", password},
	} {
		if err := required(f.name, f.value); err != nil {
			return auth.Session{}, err
		}
	}
	res, err := m.remote.Signup(ctx, username, email, password)
	if err != nil {
		m.logger.Printf("[Session] ❌ signup failed: %v", err)
		return auth.Session{}, err
	}
	s, err := auth.FromResult(res)
	if err != nil {
		return auth.Session{}, err
	}
	return s, m.Begin(ctx, s)
}

// Logout 结束当前会话并清除凭证。没有会话时也可以调用。
func (m *Manager) Logout(ctx context.Context) {
	if prev := m.gate.Current(); prev.Valid() {
		m.logger.Printf("[Session] logging out %q", prev)
	}
	_ = m.gate.Switch(ctx, model.None, func() { m.remote.SetToken("") })
}

func required(field, value string) error {
	if value == "" {
		return &model.ValidationError{Field: field, Reason: "must not be empty"}
	}
	return nil
}

package auth

import (
	"context"
	"errors"
	"fmt"

	"feedsync/client/internal/model"
)

// Loginer 用邮箱密码换取会话 token（由 remote.Client 实现）。
type Loginer interface {
	Login(ctx context.Context, email, password string) (model.AuthResult, error)
}

// Session 是启动同步层之前需要的会话信息。
type Session struct {
	Token    string
	Identity model.Identity
}

// Resolve 得到会话：优先使用已有 token，否则用凭证登录。
func Resolve(ctx context.Context, l Loginer, token, email, password string) (Session, error) {
	if token != "" {
		id, err := IdentityFromToken(token)
		if err != nil {
			return Session{}, err
		}
		return Session{Token: token, Identity: id}, nil
	}

	if email == "" || password == "" {
		return Session{}, errors.New("auth: no token and no credentials")
	}

	res, err := l.Login(ctx, email, password)
	if err != nil {
		return Session{}, fmt.Errorf("login: %w", err)
	}
	return FromResult(res)
}

// FromResult 把登录/注册响应转换为会话。
// token 解析不出身份时，退回使用响应里的用户 ID。
func FromResult(res model.AuthResult) (Session, error) {
	if res.Token == "" {
		return Session{}, errors.New("auth: response carries no token")
	}

	id, err := IdentityFromToken(res.Token)
	if err != nil {
		if res.User.ID == "" {
			return Session{}, err
		}
		id = model.Identity(res.User.ID)
	}
	return Session{Token: res.Token, Identity: id}, nil
}

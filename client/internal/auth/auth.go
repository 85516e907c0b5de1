package auth

import (
	"errors"
	"fmt"

	"feedsync/client/internal/model"

	gojwt "github.com/golang-jwt/jwt/v5"
)

var ErrNoIdentity = errors.New("auth: token carries no user id")

// identityClaims 按优先级排列：不同版本的服务端签发的字段名不一致。
var identityClaims = []string{"id", "userId", "user_id", "sub"}

// IdentityFromToken 从 bearer token 中解析当前用户 ID。
// 不校验签名：签名由远端服务校验，这里只需要一个稳定的身份做连接与代际标记。
func IdentityFromToken(token string) (model.Identity, error) {
	if token == "" {
		return model.None, ErrNoIdentity
	}

	parser := gojwt.NewParser()
	parsed, _, err := parser.ParseUnverified(token, gojwt.MapClaims{})
	if err != nil {
		return model.None, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := parsed.Claims.(gojwt.MapClaims)
	if !ok {
		return model.None, ErrNoIdentity
	}

	for _, name := range identityClaims {
		if v, ok := claims[name].(string); ok && v != "" {
			return model.Identity(v), nil
		}
	}
	return model.None, ErrNoIdentity
}

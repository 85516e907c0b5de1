package model

import "time"

// Identity 是当前登录用户的稳定标识，空字符串表示没有活跃会话。
type Identity string

// None 表示未登录（或已登出）。
const None Identity = ""

// Valid 判断是否存在活跃会话。
func (id Identity) Valid() bool {
	return id != None
}

func (id Identity) String() string {
	return string(id)
}

// Author 帖子作者的展示信息。
type Author struct {
	Username string `json:"username"`
}

// Post 表示时间线中的一条帖子。
// 拉取后不可变：本地时间线只会被一次完整的拉取结果整体替换，不做字段级合并。
type Post struct {
	ID          string    `json:"_id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Author      Author    `json:"author"`
	CreatedAt   time.Time `json:"createdAt"`
}

// UserSummary 表示一个可关注的用户。
// 关注关系不在本地维护，以 /users 拉取结果为准。
type UserSummary struct {
	ID       string `json:"_id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

// NotificationKindPostCreated 是可选的结构化通知类型，等价于文本中的 "created a new post"。
const NotificationKindPostCreated = "post_created"

// NotificationMessage 推送通道送达的一条通知。
type NotificationMessage struct {
	// Message 自由文本，原样展示。
	Message string `json:"message"`
	// Kind 可选的结构化类型，老服务端不会下发。
	Kind string `json:"kind,omitempty"`
	// ReceivedAt 客户端收到的时间（本地打点）。
	ReceivedAt time.Time `json:"received_at"`
}

// AuthResult 是 /auth/login 与 /auth/signup 的返回。
type AuthResult struct {
	Token string      `json:"token"`
	User  UserSummary `json:"user"`
}

// ConnectionState 推送通道的连接状态，同一时刻只有一个为真。
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateErrored      ConnectionState = "errored"
)

// Live 是否存在可用连接（errored 视同 disconnected）。
func (s ConnectionState) Live() bool {
	return s == StateConnected
}

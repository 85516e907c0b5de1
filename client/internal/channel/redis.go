package channel

import (
	"context"
	"errors"
	"log"
	"time"

	"feedsync/client/internal/model"

	"github.com/redis/go-redis/v9"
)

// RedisSource 订阅 redis pub/sub 频道 <prefix><userId> 接收通知。
// 适用于通知服务直接 PUBLISH 到 redis 的部署。
type RedisSource struct {
	client *redis.Client
	prefix string
	logger *log.Logger
}

func NewRedisSource(client *redis.Client, prefix string, logger *log.Logger) *RedisSource {
	if logger == nil {
		logger = log.Default()
	}
	if prefix == "" {
		prefix = "notifications:"
	}
	return &RedisSource{client: client, prefix: prefix, logger: logger}
}

// ChannelName 返回某个身份对应的 pub/sub 频道名。
func (s *RedisSource) ChannelName(id model.Identity) string {
	return s.prefix + id.String()
}

func (s *RedisSource) Open(ctx context.Context, id model.Identity) (Handle, error) {
	if !id.Valid() {
		return nil, errors.New("redis: empty identity")
	}
	h := &redisHandle{
		baseHandle: newBaseHandle(ctx, id),
		source:     s,
		channel:    s.ChannelName(id),
	}
	// Subscribe 是惰性的，真正的订阅确认在 loop 中通过 Receive 获取
	h.pubsub = s.client.Subscribe(h.ctx, h.channel)
	h.onClose = func() { _ = h.pubsub.Close() }
	h.run(h.loop)
	return h, nil
}

type redisHandle struct {
	*baseHandle
	source  *RedisSource
	channel string
	pubsub  *redis.PubSub
}

func (h *redisHandle) loop() {
	logger := h.source.logger

	if _, err := h.pubsub.Receive(h.ctx); err != nil {
		if h.closed() {
			return
		}
		logger.Printf("[Redis:%s] ❌ Subscribe %s failed: %v", h.identity, h.channel, err)
		h.emit(Event{Kind: EventError, Err: err})
		return
	}
	logger.Printf("[Redis:%s] ✅ Subscribed to %s", h.identity, h.channel)
	if !h.emit(Event{Kind: EventConnect}) {
		return
	}

	for {
		m, err := h.pubsub.ReceiveMessage(h.ctx)
		if err != nil {
			if h.closed() {
				return
			}
			logger.Printf("[Redis:%s] Disconnected: %v", h.identity, err)
			h.emit(Event{Kind: EventDisconnect, Reason: err.Error()})
			return
		}

		msg, ok := DecodeNotification([]byte(m.Payload), time.Now())
		if !ok {
			continue
		}
		if !h.emit(Event{Kind: EventNotification, Notification: msg}) {
			return
		}
	}
}

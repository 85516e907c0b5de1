package channel

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"feedsync/client/internal/model"

	"github.com/segmentio/kafka-go"
)

// KafkaConfig kafka 通知主题配置
type KafkaConfig struct {
	Brokers []string
	Topic   string
	GroupID string
}

// KafkaSource 从通知主题读取以 userId 为 key 的消息。
// 每个身份使用独立的消费组，只读取打开之后的新消息。
type KafkaSource struct {
	config KafkaConfig
	logger *log.Logger
}

func NewKafkaSource(config KafkaConfig, logger *log.Logger) *KafkaSource {
	if logger == nil {
		logger = log.Default()
	}
	return &KafkaSource{config: config, logger: logger}
}

func (s *KafkaSource) readerConfig(id model.Identity) kafka.ReaderConfig {
	return kafka.ReaderConfig{
		Brokers:        s.config.Brokers,
		GroupID:        fmt.Sprintf("%s-%s", s.config.GroupID, id),
		Topic:          s.config.Topic,
		MinBytes:       1,
		MaxBytes:       10 << 20,
		StartOffset:    kafka.LastOffset,
		CommitInterval: time.Second,
	}
}

func (s *KafkaSource) Open(ctx context.Context, id model.Identity) (Handle, error) {
	if !id.Valid() {
		return nil, errors.New("kafka: empty identity")
	}
	if len(s.config.Brokers) == 0 || s.config.Topic == "" {
		return nil, errors.New("kafka: brokers and topic are required")
	}

	h := &kafkaHandle{
		baseHandle: newBaseHandle(ctx, id),
		source:     s,
		reader:     kafka.NewReader(s.readerConfig(id)),
	}
	h.onClose = func() { _ = h.reader.Close() }
	h.run(h.loop)
	return h, nil
}

type kafkaHandle struct {
	*baseHandle
	source *KafkaSource
	reader *kafka.Reader
}

func (h *kafkaHandle) loop() {
	logger := h.source.logger
	cfg := h.reader.Config()

	// kafka 没有握手，reader 创建即视为已连接；首次拉取失败会以 disconnect 上报
	logger.Printf("[Kafka:%s] ✅ Consumer started | group=%s | topic=%s | brokers=%v",
		h.identity, cfg.GroupID, cfg.Topic, cfg.Brokers)
	if !h.emit(Event{Kind: EventConnect}) {
		return
	}

	for {
		m, err := h.reader.FetchMessage(h.ctx)
		if err != nil {
			if h.closed() {
				return
			}
			logger.Printf("[Kafka:%s] Fetch error: %v", h.identity, err)
			h.emit(Event{Kind: EventDisconnect, Reason: err.Error()})
			return
		}

		if err := h.reader.CommitMessages(h.ctx, m); err != nil && !h.closed() {
			logger.Printf("[Kafka:%s] Commit error: %v", h.identity, err)
		}

		msg, ok := FilterKafkaMessage(h.identity, m.Key, m.Value, time.Now())
		if !ok {
			continue
		}
		if !h.emit(Event{Kind: EventNotification, Notification: msg}) {
			return
		}
	}
}

// FilterKafkaMessage 只保留 key 为当前身份的消息并解析负载。
func FilterKafkaMessage(id model.Identity, key, value []byte, now time.Time) (model.NotificationMessage, bool) {
	if string(key) != id.String() {
		return model.NotificationMessage{}, false
	}
	return DecodeNotification(value, now)
}

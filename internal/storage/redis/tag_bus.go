package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// TagBus 通过 Redis Pub/Sub 在实例之间广播 Tier B 标签失效
type TagBus struct {
	rdb     goredis.UniversalClient
	channel string
	origin  string
	log     *zap.Logger
}

type tagMessage struct {
	Origin string   `json:"origin"`
	User   string   `json:"user"`
	Tags   []string `json:"tags"`
}

// NewTagBus 创建标签广播
func NewTagBus(c *Client, channel string, log *zap.Logger) *TagBus {
	return &TagBus{
		rdb:     c.rdb,
		channel: channel,
		origin:  uuid.NewString(),
		log:     log,
	}
}

// PublishInvalidation 广播一次失效
func (b *TagBus) PublishInvalidation(ctx context.Context, user string, tags []string) error {
	payload, err := json.Marshal(tagMessage{Origin: b.origin, User: user, Tags: tags})
	if err != nil {
		return err
	}
	if err := b.rdb.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", b.channel, err)
	}
	return nil
}

// Subscribe 订阅其他实例的失效广播并调用 apply，直到 ctx 结束。
// 本实例发出的消息会被忽略。
func (b *TagBus) Subscribe(ctx context.Context, apply func(user string, tags []string)) error {
	sub := b.rdb.Subscribe(ctx, b.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", b.channel, err)
	}
	b.log.Info("tag bus subscribed", zap.String("channel", b.channel))

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var m tagMessage
			if err := json.Unmarshal([]byte(msg.Payload), &m); err != nil {
				b.log.Warn("invalid tag bus message", zap.Error(err))
				continue
			}
			if m.Origin == b.origin {
				continue
			}
			apply(m.User, m.Tags)
		}
	}
}

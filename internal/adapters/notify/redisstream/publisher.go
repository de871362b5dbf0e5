// Package redisstream は通知を Redis Streams に発行します。配信は外部の通知サービスが行います。
package redisstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/ogurasousui/codex-offboarding/internal/core/notification"
)

// ErrStreamRequired は発行先のストリーム名が空の場合に返却されます。
var ErrStreamRequired = errors.New("redisstream: stream name is required")

// Options は Redis 接続設定です。
type Options struct {
	Addr     string
	Password string
	DB       int
}

// Connect は Redis に接続し、疎通を確認したクライアントを返します。
func Connect(ctx context.Context, opts Options) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redisstream: ping %s: %w", opts.Addr, err)
	}
	return client, nil
}

// Publisher は notification.Notifier の Redis Streams 実装です。
type Publisher struct {
	client redis.Cmdable
	stream string
	maxLen int64
	newID  func() string
}

// NewPublisher は Publisher を生成します。maxLen が正の場合ストリームを概ねその長さに保ちます。
func NewPublisher(client redis.Cmdable, stream string, maxLen int64) (*Publisher, error) {
	stream = strings.TrimSpace(stream)
	if stream == "" {
		return nil, ErrStreamRequired
	}
	return &Publisher{client: client, stream: stream, maxLen: maxLen, newID: uuid.NewString}, nil
}

// Notify は通知を 1 エントリとしてストリームに追加します。
func (p *Publisher) Notify(ctx context.Context, n notification.Notification) error {
	content := n.Content
	if content == nil {
		content = map[string]any{}
	}
	body, err := json.Marshal(content)
	if err != nil {
		return fmt.Errorf("redisstream: encode content: %w", err)
	}
	recipients := n.Recipients
	if recipients == nil {
		recipients = []string{}
	}
	to, err := json.Marshal(recipients)
	if err != nil {
		return fmt.Errorf("redisstream: encode recipients: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]any{
			"id":         p.newID(),
			"kind":       string(n.Kind),
			"channel":    string(n.Channel),
			"recipients": string(to),
			"address":    n.Address,
			"subject":    n.Subject,
			"content":    string(body),
		},
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}

	if err := p.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("redisstream: xadd %s: %w", p.stream, err)
	}
	return nil
}

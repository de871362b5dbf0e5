package redisstream

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/ogurasousui/codex-offboarding/internal/core/notification"
)

func setupMiniRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr := miniredis.NewMiniRedis()
	if err := mr.Start(); err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		mr.Close()
	})
	return mr, client
}

func TestPublisher_Notify(t *testing.T) {
	t.Parallel()

	_, client := setupMiniRedis(t)
	pub, err := NewPublisher(client, "offboarding:test", 0)
	if err != nil {
		t.Fatalf("NewPublisher returned error: %v", err)
	}
	pub.newID = func() string { return "msg-1" }

	err = pub.Notify(context.Background(), notification.Notification{
		Kind:       notification.KindClearanceReminder,
		Channel:    notification.ChannelInApp,
		Recipients: []string{"it-1", "it-2"},
		Subject:    "Clearance pending: IT",
		Content:    map[string]any{"checklist_id": "chk-1"},
	})
	if err != nil {
		t.Fatalf("Notify returned error: %v", err)
	}

	entries, err := client.XRange(context.Background(), "offboarding:test", "-", "+").Result()
	if err != nil {
		t.Fatalf("XRange returned error: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(entries))
	}

	values := entries[0].Values
	if values["id"] != "msg-1" || values["kind"] != "clearance_reminder" || values["channel"] != "in_app" {
		t.Fatalf("unexpected entry: %+v", values)
	}

	var recipients []string
	if err := json.Unmarshal([]byte(values["recipients"].(string)), &recipients); err != nil {
		t.Fatalf("recipients are not JSON: %v", err)
	}
	if len(recipients) != 2 || recipients[1] != "it-2" {
		t.Fatalf("unexpected recipients: %v", recipients)
	}

	var content map[string]any
	if err := json.Unmarshal([]byte(values["content"].(string)), &content); err != nil {
		t.Fatalf("content is not JSON: %v", err)
	}
	if content["checklist_id"] != "chk-1" {
		t.Fatalf("unexpected content: %v", content)
	}
}

func TestPublisher_Notify_TrimsStream(t *testing.T) {
	t.Parallel()

	_, client := setupMiniRedis(t)
	pub, err := NewPublisher(client, "offboarding:capped", 2)
	if err != nil {
		t.Fatalf("NewPublisher returned error: %v", err)
	}

	for i := 0; i < 5; i++ {
		if err := pub.Notify(context.Background(), notification.Notification{Kind: notification.KindClearanceUpdated, Address: "hr@example.com"}); err != nil {
			t.Fatalf("Notify returned error: %v", err)
		}
	}

	length, err := client.XLen(context.Background(), "offboarding:capped").Result()
	if err != nil {
		t.Fatalf("XLen returned error: %v", err)
	}
	if length > 5 || length < 2 {
		t.Fatalf("unexpected stream length %d", length)
	}
}

func TestPublisher_Notify_ServerDown(t *testing.T) {
	t.Parallel()

	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1, DialTimeout: 200 * time.Millisecond})
	t.Cleanup(func() { _ = client.Close() })
	pub, err := NewPublisher(client, "offboarding:test", 0)
	if err != nil {
		t.Fatalf("NewPublisher returned error: %v", err)
	}

	if err := pub.Notify(context.Background(), notification.Notification{Kind: notification.KindClearanceUpdated, Recipients: []string{"hr-1"}}); err == nil {
		t.Fatalf("expected error when redis is unavailable")
	}
}

func TestNewPublisher_RequiresStream(t *testing.T) {
	t.Parallel()

	if _, err := NewPublisher(redis.NewClient(&redis.Options{}), "  ", 0); !errors.Is(err, ErrStreamRequired) {
		t.Fatalf("expected ErrStreamRequired, got %v", err)
	}
}

func TestConnect(t *testing.T) {
	t.Parallel()

	mr, _ := setupMiniRedis(t)
	client, err := Connect(context.Background(), Options{Addr: mr.Addr()})
	if err != nil {
		t.Fatalf("Connect returned error: %v", err)
	}
	_ = client.Close()
}

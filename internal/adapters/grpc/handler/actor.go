package handler

import (
	"context"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/ogurasousui/codex-offboarding/internal/core/actor"
)

const (
	actorIDHeader           = "x-actor-id"
	actorCapabilitiesHeader = "x-actor-capabilities"
)

// actorFromContext はゲートウェイが付与したメタデータから操作主体を復元します。
func actorFromContext(ctx context.Context) (actor.Actor, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return actor.Actor{}, status.Error(codes.Unauthenticated, "actor metadata is required")
	}

	ids := md.Get(actorIDHeader)
	if len(ids) == 0 || strings.TrimSpace(ids[0]) == "" {
		return actor.Actor{}, status.Error(codes.Unauthenticated, actorIDHeader+" is required")
	}

	var caps []actor.Capability
	for _, raw := range md.Get(actorCapabilitiesHeader) {
		for _, name := range strings.Split(raw, ",") {
			if strings.TrimSpace(name) == "" {
				continue
			}
			c, err := actor.ParseCapability(name)
			if err != nil {
				return actor.Actor{}, status.Error(codes.Unauthenticated, err.Error())
			}
			caps = append(caps, c)
		}
	}

	return actor.New(ids[0], caps...), nil
}

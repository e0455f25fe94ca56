package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/Amund211/chessoverlay/internal/adapters/twitchchat"
	"github.com/Amund211/chessoverlay/internal/domain"
	"github.com/Amund211/chessoverlay/internal/logging"
	"github.com/Amund211/chessoverlay/internal/ratelimiting"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type chatSession interface {
	Adjust(ctx context.Context, adjustmentType domain.AdjustmentType, action domain.AdjustmentAction) (domain.Snapshot, error)
	Reset(ctx context.Context) (domain.Snapshot, error)
}

var chatAdjustments = map[string]domain.AdjustmentType{
	"!win":  domain.AdjustWins,
	"!loss": domain.AdjustLosses,
	"!draw": domain.AdjustDraws,
}

const chatResetCommand = "!reset"

// BuildHandleChatMessage returns a chat handler that lets moderators adjust the stats.
//
// Badges are self reported by the chat relay, so this only keeps casual viewers out.
func BuildHandleChatMessage(session chatSession, limiter ratelimiting.RateLimiter) (twitchchat.Handler, error) {
	commandCount, err := otel.Meter("chessoverlay/app").Int64Counter("chat/command_count")
	if err != nil {
		return nil, fmt.Errorf("failed to create command count metric: %w", err)
	}

	return func(ctx context.Context, msg twitchchat.ChatMessage) {
		command := strings.ToLower(strings.TrimSpace(msg.Text))
		adjustmentType, isAdjustment := chatAdjustments[command]
		if !isAdjustment && command != chatResetCommand {
			return
		}

		count := func(outcome string) {
			commandCount.Add(ctx, 1, metric.WithAttributes(
				attribute.String("command", command),
				attribute.String("outcome", outcome),
			))
		}

		logger := logging.FromContext(ctx).With("chatUser", msg.User, "command", command)

		if !msg.IsModerator {
			count("not_moderator")
			return
		}
		if !limiter.Consume(ratelimiting.ChatUserKey(msg.User)) {
			logger.InfoContext(ctx, "Chat command rate limited")
			count("rate_limited")
			return
		}

		var err error
		if isAdjustment {
			_, err = session.Adjust(ctx, adjustmentType, domain.ActionIncrease)
		} else {
			_, err = session.Reset(ctx)
		}
		if err != nil {
			logger.ErrorContext(ctx, "Chat command failed", "error", err.Error())
			count("error")
			return
		}

		logger.InfoContext(ctx, "Applied chat command")
		count("ok")
	}, nil
}

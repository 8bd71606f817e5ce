package data

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/whatsuit/replybridge/internal/biz/repo"
)

// TextSender is the part of the Feishu client used to deliver replies
type TextSender interface {
	SendText(ctx context.Context, chatID, text string) error
}

// feishuRepo implements the Messenger with outbound pacing
type feishuRepo struct {
	client  TextSender
	limiter *rate.Limiter
}

// NewFeishuRepo creates a Messenger that sends at most qps messages per second.
// qps <= 0 disables pacing.
func NewFeishuRepo(client TextSender, qps float64) repo.Messenger {
	limit := rate.Inf
	burst := 1
	if qps > 0 {
		limit = rate.Limit(qps)
		burst = int(qps)
		if burst < 1 {
			burst = 1
		}
	}
	return &feishuRepo{client: client, limiter: rate.NewLimiter(limit, burst)}
}

// SendText waits for a send slot, then sends
func (r *feishuRepo) SendText(ctx context.Context, chatID, text string) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("failed to wait for send slot: %w", err)
	}
	return r.client.SendText(ctx, chatID, text)
}

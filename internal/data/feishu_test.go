package data

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []string
}

func (f *fakeSender) SendText(_ context.Context, chatID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, chatID+":"+text)
	return nil
}

func TestFeishuRepo_SendText(t *testing.T) {
	sender := &fakeSender{}
	m := NewFeishuRepo(sender, 0)

	require.NoError(t, m.SendText(context.Background(), "oc_1", "hello"))
	require.NoError(t, m.SendText(context.Background(), "oc_1", "again"))
	assert.Equal(t, []string{"oc_1:hello", "oc_1:again"}, sender.sent)
}

func TestFeishuRepo_CancelledWhileWaiting(t *testing.T) {
	sender := &fakeSender{}
	m := NewFeishuRepo(sender, 0.001)

	require.NoError(t, m.SendText(context.Background(), "oc_1", "first"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, m.SendText(ctx, "oc_1", "second"))
	assert.Len(t, sender.sent, 1)
}

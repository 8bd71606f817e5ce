package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whatsuit/replybridge/internal/app/apptest"
	"github.com/whatsuit/replybridge/internal/biz/domain"
	"github.com/whatsuit/replybridge/internal/biz/usecase"
	"github.com/whatsuit/replybridge/internal/service"
)

func TestMaintenance_Cleanup(t *testing.T) {
	a := apptest.New(t, apptest.NewGenerator(), false)
	ctx := context.Background()

	_, err := a.Notifications.Ingest(ctx, &domain.Notification{
		PackageName: "com.whatsapp", Title: "Old", Content: "old", Timestamp: time.Now().Add(-48 * time.Hour),
	})
	require.NoError(t, err)
	fresh, err := a.Notifications.Ingest(ctx, &domain.Notification{
		PackageName: "com.whatsapp", Title: "New", Content: "new",
	})
	require.NoError(t, err)

	r := service.NewMaintenanceRunner(nil, nil, nil, a.Notifications, service.MaintenanceConfig{Retention: 24 * time.Hour}, zerolog.Nop())
	assert.Equal(t, int64(1), r.Cleanup(ctx))

	_, err = a.Notifications.Get(ctx, fresh.ID)
	assert.NoError(t, err)
}

func TestMaintenance_CleanupDisabled(t *testing.T) {
	a := apptest.New(t, apptest.NewGenerator(), false)
	r := service.NewMaintenanceRunner(nil, nil, nil, a.Notifications, service.MaintenanceConfig{}, zerolog.Nop())
	assert.Equal(t, int64(0), r.Cleanup(context.Background()))
}

func TestMaintenance_Sweep(t *testing.T) {
	dedup := usecase.NewDeduper(time.Millisecond)
	throttle := usecase.NewConversationThrottle(time.Millisecond)
	dedup.Register(1)
	require.True(t, throttle.Acquire("c1"))

	r := service.NewMaintenanceRunner(dedup, throttle, usecase.NewEchoGuard(time.Minute, 5), nil, service.DefaultMaintenanceConfig(), zerolog.Nop())
	time.Sleep(5 * time.Millisecond)
	r.Sweep()

	assert.Equal(t, 0, dedup.Len())
	assert.True(t, throttle.Acquire("c1"))
}

func TestMaintenance_StartStop(t *testing.T) {
	r := service.NewMaintenanceRunner(nil, nil, nil, nil, service.MaintenanceConfig{SweepSpec: "@every 1h", RetentionSpec: "@every 1h"}, zerolog.Nop())
	require.NoError(t, r.Start())
	r.Stop()

	bad := service.NewMaintenanceRunner(nil, nil, nil, nil, service.MaintenanceConfig{SweepSpec: "not a spec"}, zerolog.Nop())
	assert.Error(t, bad.Start())
}

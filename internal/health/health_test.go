package health

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

type togglePinger struct{ failing atomic.Bool }

func (p *togglePinger) Ping(context.Context) error {
	if p.failing.Load() {
		return errors.New("database is closed")
	}
	return nil
}

func TestCheckFollowsProbe(t *testing.T) {
	t.Parallel()
	probe := &togglePinger{}
	s := NewServer(probe, time.Hour, nil)

	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, s.Check(context.Background()))
	probe.failing.Store(true)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, s.Check(context.Background()))

	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, NewServer(nil, 0, nil).Check(context.Background()))
}

func TestServeAnswersHealthChecks(t *testing.T) {
	t.Parallel()
	probe := &togglePinger{}
	s := NewServer(probe, 20*time.Millisecond, nil)

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.ServeListener(ctx, lis) }()

	conn, err := grpc.NewClient(lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()
	client := healthpb.NewHealthClient(conn)

	status := func() healthpb.HealthCheckResponse_ServingStatus {
		callCtx, callCancel := context.WithTimeout(context.Background(), time.Second)
		defer callCancel()
		resp, err := client.Check(callCtx, &healthpb.HealthCheckRequest{Service: ServiceName})
		if err != nil {
			return healthpb.HealthCheckResponse_UNKNOWN
		}
		return resp.GetStatus()
	}

	require.Eventually(t, func() bool { return status() == healthpb.HealthCheckResponse_SERVING }, 2*time.Second, 20*time.Millisecond)
	probe.failing.Store(true)
	require.Eventually(t, func() bool { return status() == healthpb.HealthCheckResponse_NOT_SERVING }, 2*time.Second, 20*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

package redis

import (
	"context"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

type Testing interface {
	require.TestingT
	Context() context.Context
	Logf(format string, args ...any)
	Cleanup(func())
}

// NewTestContainer starts a Redis server for the duration of the test and
// returns its redis:// URL.
func NewTestContainer(t Testing) string {
	ctx := t.Context()
	redisC, err := testcontainers.Run(
		ctx, "redis:7-alpine",
		testcontainers.WithExposedPorts("6379/tcp"),
		testcontainers.WithWaitStrategy(
			wait.ForListeningPort("6379/tcp"),
			wait.ForLog("Ready to accept connections"),
		),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(redisC); err != nil {
			t.Errorf("terminate redis container: %s", err.Error())
		}
	})

	endpoint, err := redisC.PortEndpoint(ctx, "6379/tcp", "redis")
	require.NoError(t, err)
	t.Logf("redis endpoint: %s", endpoint)
	return endpoint
}

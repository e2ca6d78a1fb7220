package libbus

import (
	"context"
	"time"

	"github.com/testcontainers/testcontainers-go"
	tcnats "github.com/testcontainers/testcontainers-go/modules/nats"
)

// SetupNatsInstance starts a throwaway NATS container for system tests.
func SetupNatsInstance(ctx context.Context) (string, testcontainers.Container, func(), error) {
	cleanup := func() {}

	container, err := tcnats.Run(ctx, "docker.io/nats:2.10")
	if err != nil {
		return "", nil, cleanup, err
	}
	cleanup = func() {
		timeout := time.Second
		_ = container.Stop(context.Background(), &timeout)
	}

	url, err := container.ConnectionString(ctx)
	if err != nil {
		return "", container, cleanup, err
	}
	return url, container, cleanup, nil
}

// NewTestPubSub spins up a NATS container and connects a Messenger to it.
// The returned cleanup stops the container.
func NewTestPubSub() (Messenger, func(), error) {
	ctx := context.Background()
	url, _, cleanup, err := SetupNatsInstance(ctx)
	if err != nil {
		return nil, cleanup, err
	}
	ps, err := NewPubSub(ctx, &Config{NATSURL: url})
	if err != nil {
		return nil, cleanup, err
	}
	combined := func() {
		_ = ps.Close()
		cleanup()
	}
	return ps, combined, nil
}

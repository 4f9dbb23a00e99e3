package testutil

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
)

// sharedContainer starts one container per test binary. Tests that need it
// are skipped when no container runtime is reachable or the start fails.
type sharedContainer struct {
	name     string
	once     sync.Once
	endpoint string
	err      error
}

func (s *sharedContainer) endpointFor(t *testing.T, start func(ctx context.Context) (testcontainers.Container, error)) string {
	t.Helper()
	testcontainers.SkipIfProviderIsNotHealthy(t)

	s.once.Do(func() {
		// The provider panics instead of returning an error on some hosts.
		defer func() {
			if r := recover(); r != nil {
				s.err = fmt.Errorf("start %s: %v", s.name, r)
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
		defer cancel()

		c, err := start(ctx)
		if err != nil {
			s.err = err
			return
		}
		endpoint, err := c.Endpoint(ctx, "")
		if err != nil {
			_ = c.Terminate(context.Background())
			s.err = err
			return
		}
		s.endpoint = endpoint
	})

	if s.err != nil {
		t.Skipf("%s container unavailable: %v", s.name, s.err)
	}
	return s.endpoint
}

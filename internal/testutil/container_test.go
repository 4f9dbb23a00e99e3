package testutil

import (
	"context"
	"errors"
	"testing"

	"github.com/testcontainers/testcontainers-go"
)

func TestSharedContainer_PanicSkipsInsteadOfCrashing(t *testing.T) {
	c := &sharedContainer{name: "broken"}
	start := func(ctx context.Context) (testcontainers.Container, error) {
		panic("rootless Docker not found")
	}

	for i := 0; i < 2; i++ {
		var sub *testing.T
		reached := false
		ok := t.Run("needs container", func(t *testing.T) {
			sub = t
			c.endpointFor(t, start)
			reached = true
		})
		if !ok {
			t.Fatalf("run %d: subtest failed, want skipped", i)
		}
		if !sub.Skipped() {
			t.Fatalf("run %d: subtest was not skipped", i)
		}
		if reached {
			t.Fatalf("run %d: endpointFor returned instead of skipping", i)
		}
	}
}

func TestSharedContainer_StartErrorSkips(t *testing.T) {
	c := &sharedContainer{name: "failing"}
	var sub *testing.T
	t.Run("needs container", func(t *testing.T) {
		sub = t
		c.endpointFor(t, func(ctx context.Context) (testcontainers.Container, error) {
			return nil, errors.New("pull denied")
		})
		t.Fatalf("endpointFor returned instead of skipping")
	})
	if !sub.Skipped() {
		t.Fatalf("subtest was not skipped")
	}
}

package main

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestIgnoreCanceled(t *testing.T) {
	if err := ignoreCanceled(nil); err != nil {
		t.Errorf("nil: got %v", err)
	}
	if err := ignoreCanceled(context.Canceled); err != nil {
		t.Errorf("canceled: got %v", err)
	}
	wrapped := fmt.Errorf("process record r1: %w", context.Canceled)
	if err := ignoreCanceled(wrapped); err != nil {
		t.Errorf("wrapped canceled: got %v", err)
	}

	boom := errors.New("api: bind: address already in use")
	if err := ignoreCanceled(boom); !errors.Is(err, boom) {
		t.Errorf("real failure: got %v, want %v", err, boom)
	}
	if err := ignoreCanceled(context.DeadlineExceeded); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("deadline: got %v", err)
	}
}

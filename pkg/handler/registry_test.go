package handler

import (
	"context"
	"testing"

	"github.com/ridgeline-oss/ridgeline"
)

func noop(ctx context.Context, evt ridgeline.RawEvent) error { return nil }

func TestCaseInsensitiveLookupAndDefault(t *testing.T) {
	h1 := Func([]string{"ADDR_X"}, 0, noop)
	def := Func(nil, 0, noop)

	reg, err := New([]ridgeline.Handler{h1, def}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if reg.GetHandler("addr_x") != h1 {
		t.Error("expected case-insensitive match to h1")
	}
	if reg.GetHandler("UNKNOWN") != def {
		t.Error("expected unknown type to resolve to default")
	}
}

func TestMissingDefaultIsConfigError(t *testing.T) {
	h1 := Func([]string{"ADDR_X"}, 0, noop)
	_, err := New([]ridgeline.Handler{h1}, nil)
	if err == nil {
		t.Fatal("expected ConfigError for missing default handler")
	}
	if _, ok := err.(*ridgeline.ConfigError); !ok {
		t.Errorf("expected *ridgeline.ConfigError, got %T", err)
	}
}

func TestDuplicateDefaultIsConfigError(t *testing.T) {
	def1 := Func(nil, 0, noop)
	def2 := Func(nil, 0, noop)
	_, err := New([]ridgeline.Handler{def1, def2}, nil)
	if err == nil {
		t.Fatal("expected ConfigError for duplicate default handlers")
	}
}

func TestCollisionResolvedByPriorityThenDeclarationOrder(t *testing.T) {
	low := Func([]string{"ADDR_X"}, 1, noop)
	high := Func([]string{"ADDR_X"}, 5, noop)
	def := Func(nil, 0, noop)

	reg, err := New([]ridgeline.Handler{low, high, def}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if reg.GetHandler("ADDR_X") != high {
		t.Error("expected higher-priority handler to win")
	}

	tie1 := Func([]string{"ADDR_Y"}, 2, noop)
	tie2 := Func([]string{"ADDR_Y"}, 2, noop)
	reg2, err := New([]ridgeline.Handler{tie1, tie2, def}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if reg2.GetHandler("ADDR_Y") != tie2 {
		t.Error("expected later-declared handler to win a priority tie")
	}
}

package store

import (
	"context"
	"testing"
)

func TestOpenRejectsMissingKind(t *testing.T) {
	if _, err := Open(context.Background(), Config{}); err == nil {
		t.Fatal("empty kind must be rejected")
	}
	if _, err := Open(context.Background(), Config{Kind: "no_such_backend"}); err == nil {
		t.Fatal("unregistered kind must be rejected")
	}
}

func TestRegisterPanics(t *testing.T) {
	mustPanic := func(name string, fn func()) {
		t.Helper()
		defer func() {
			if recover() == nil {
				t.Fatalf("%s: expected panic", name)
			}
		}()
		fn()
	}

	mustPanic("empty kind", func() { Register("", func(context.Context, Config) (Store, error) { return nil, nil }) })
	mustPanic("nil factory", func() { Register("k", nil) })

	Register("dup_test_kind", func(context.Context, Config) (Store, error) { return nil, nil })
	mustPanic("duplicate kind", func() {
		Register("dup_test_kind", func(context.Context, Config) (Store, error) { return nil, nil })
	})
}

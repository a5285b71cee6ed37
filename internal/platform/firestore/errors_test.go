package firestore

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestWrapErrorCategorises(t *testing.T) {
	notFound := WrapError("kv.get", status.Error(codes.NotFound, "missing"))
	if !IsNotFound(notFound) {
		t.Fatalf("expected not found, got %v", notFound)
	}

	unavailable := WrapError("kv.put", status.Error(codes.Unavailable, "down"))
	var fsErr *Error
	if !errors.As(unavailable, &fsErr) || !fsErr.IsUnavailable() {
		t.Fatalf("expected unavailable error, got %v", unavailable)
	}
	if fsErr.Error() != "kv.put: rpc error: code = Unavailable desc = down" {
		t.Fatalf("unexpected message %q", fsErr.Error())
	}

	if got := WrapError("kv.get", status.Error(codes.DeadlineExceeded, "slow")); !errors.Is(got, context.DeadlineExceeded) {
		t.Fatalf("expected deadline passthrough, got %v", got)
	}
	if WrapError("noop", nil) != nil {
		t.Fatalf("expected nil for nil error")
	}
}

func TestProviderRequiresProject(t *testing.T) {
	t.Setenv(envGoogleProjectID, "")
	p := NewProvider(Config{})
	if _, err := p.Client(context.Background()); err == nil {
		t.Fatalf("expected error without project id")
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := p.Client(context.Background()); !errors.Is(err, ErrProviderClosed) {
		t.Fatalf("expected closed error, got %v", err)
	}
}

func TestKindOfUnwrapsAnnotatedErrors(t *testing.T) {
	wrapped := fmt.Errorf("repo: %w", WrapError("kv.list", status.Error(codes.ResourceExhausted, "quota")))
	if KindOf(wrapped) != KindUnavailable {
		t.Fatalf("expected unavailable kind, got %v", KindOf(wrapped))
	}
	if KindOf(errors.New("plain")) != KindOther {
		t.Fatalf("expected other kind for non-status error")
	}
	if IsNotFound(nil) {
		t.Fatalf("nil is not a not-found error")
	}
}

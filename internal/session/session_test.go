package session

import (
	"context"
	"testing"
)

func TestWithContextFromContext(t *testing.T) {
	sc := Context{UserID: "u1", Username: "alice", Role: "admin", ProfileID: "p1"}
	ctx := WithContext(context.Background(), sc)

	got, ok := FromContext(ctx)
	if !ok {
		t.Fatal("expected session context to be present")
	}
	if got != sc {
		t.Errorf("got %+v, want %+v", got, sc)
	}
}

func TestSnapshotDefaultsAnonymous(t *testing.T) {
	got := Snapshot(context.Background())
	if got.Role != "anonymous" {
		t.Errorf("expected anonymous default role, got %q", got.Role)
	}
}

func TestSnapshotIndependentOfLaterMutation(t *testing.T) {
	sc := Context{UserID: "u1"}
	ctx := WithContext(context.Background(), sc)

	sc.UserID = "mutated"

	got := Snapshot(ctx)
	if got.UserID != "u1" {
		t.Errorf("snapshot leaked later mutation: got %q", got.UserID)
	}
}

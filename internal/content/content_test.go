package content

import (
	"errors"
	"testing"
)

func TestNewTurnRejectsEmpty(t *testing.T) {
	if _, err := NewTurn(RoleUser); !errors.Is(err, ErrEmptyTurn) {
		t.Fatalf("expected ErrEmptyTurn, got %v", err)
	}
	if _, err := NewTurn(Role("system"), Text{Body: "x"}); err == nil {
		t.Fatal("expected unknown role to fail")
	}
	if _, err := NewTurn(RoleModel, nil); err == nil {
		t.Fatal("expected nil part to fail")
	}
}

func TestTurnPartsAreCopied(t *testing.T) {
	parts := []Part{Text{Body: "a"}, Text{Body: "b"}}
	turn := MustTurn(RoleUser, parts...)
	parts[0] = Text{Body: "mutated"}

	got := turn.Parts()
	if got[0].(Text).Body != "a" {
		t.Fatalf("turn shares caller slice: %+v", got)
	}
	got[1] = Text{Body: "changed"}
	if turn.Parts()[1].(Text).Body != "b" {
		t.Fatal("Parts returned internal slice")
	}
	if turn.Text() != "ab" {
		t.Fatalf("unexpected text %q", turn.Text())
	}
	if turn.Len() != 2 || turn.IsZero() {
		t.Fatalf("unexpected len=%d zero=%v", turn.Len(), turn.IsZero())
	}
}

func TestReferenceKey(t *testing.T) {
	r := Reference{Platform: "slack", ChatID: "C1", MessageID: "171.2"}
	if r.Key() != "slack/C1/171.2" {
		t.Fatalf("unexpected key %q", r.Key())
	}
}

package command

import "testing"

func TestNewRegistry_RejectsDuplicateNames(t *testing.T) {
	_, err := NewRegistry(NewPlan(), NewPlan())
	if err == nil {
		t.Fatal("expected duplicate name error")
	}
}

func TestNewRegistry_GetAndNames(t *testing.T) {
	reg, err := NewRegistry(NewPlan(), NewEdit(nil))
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := reg.Get("plan"); !ok {
		t.Fatal("expected plan to be registered")
	}
	if _, ok := reg.Get("missing"); ok {
		t.Fatal("expected missing command to be absent")
	}
	if len(reg.Names()) != 2 {
		t.Fatalf("expected 2 names, got %d", len(reg.Names()))
	}
}

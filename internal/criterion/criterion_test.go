package criterion

import (
	"fmt"
	"testing"
)

type fakeLookup map[string]bool

func (f fakeLookup) IsTriggered(name string) (bool, error) {
	v, ok := f[name]
	if !ok {
		return false, fmt.Errorf("unknown sensor %q", name)
	}
	return v, nil
}

func TestLeaf(t *testing.T) {
	lookup := fakeLookup{"door": true, "window": false}

	ok, err := NewLeaf("door", true).Evaluate(lookup)
	if err != nil || !ok {
		t.Fatalf("door==true leaf: got %v, %v", ok, err)
	}

	ok, err = NewLeaf("window", true).Evaluate(lookup)
	if err != nil || ok {
		t.Fatalf("window==true leaf: got %v, %v", ok, err)
	}

	ok, err = NewLeaf("window", false).Evaluate(lookup)
	if err != nil || !ok {
		t.Fatalf("window==false leaf: got %v, %v", ok, err)
	}
}

func TestAndOr(t *testing.T) {
	lookup := fakeLookup{"door": true, "window": false, "motion": true}

	and := And{Children: []Criterion{
		NewLeaf("door", true),
		NewLeaf("motion", true),
	}}
	if ok, err := and.Evaluate(lookup); err != nil || !ok {
		t.Fatalf("and: got %v, %v", ok, err)
	}

	and2 := And{Children: []Criterion{
		NewLeaf("door", true),
		NewLeaf("window", true),
	}}
	if ok, err := and2.Evaluate(lookup); err != nil || ok {
		t.Fatalf("and2: got %v, %v", ok, err)
	}

	or := Or{Children: []Criterion{
		NewLeaf("window", true),
		NewLeaf("motion", true),
	}}
	if ok, err := or.Evaluate(lookup); err != nil || !ok {
		t.Fatalf("or: got %v, %v", ok, err)
	}
}

func TestEmptyCombinators(t *testing.T) {
	lookup := fakeLookup{}
	if ok, err := (And{}).Evaluate(lookup); err != nil || !ok {
		t.Fatalf("empty And should be vacuously true, got %v, %v", ok, err)
	}
	if ok, err := (Or{}).Evaluate(lookup); err != nil || ok {
		t.Fatalf("empty Or should be vacuously false, got %v, %v", ok, err)
	}
}

func TestUnknownSensor(t *testing.T) {
	lookup := fakeLookup{}
	if _, err := NewLeaf("ghost", true).Evaluate(lookup); err == nil {
		t.Fatal("expected error for unknown sensor")
	}
}

func TestAlways(t *testing.T) {
	lookup := fakeLookup{}
	if ok, _ := Always(true).Evaluate(lookup); !ok {
		t.Fatal("Always(true) should evaluate true")
	}
	if ok, _ := Always(false).Evaluate(lookup); ok {
		t.Fatal("Always(false) should evaluate false")
	}
}

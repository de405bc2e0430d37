package extensions_test

import (
	"testing"

	"modvm/internal/extensions"
)

type counter struct{ n int }

type label string

func TestInsertGetReplace(t *testing.T) {
	b := extensions.New()
	if _, ok := extensions.Get[counter](b); ok {
		t.Fatal("empty bag returned a value")
	}

	extensions.Insert(b, counter{n: 1})
	extensions.Insert(b, label("a"))
	if got, ok := extensions.Get[counter](b); !ok || got.n != 1 {
		t.Fatalf("Get = %v, %v", got, ok)
	}

	// same type replaces
	extensions.Insert(b, counter{n: 5})
	if got, _ := extensions.Get[counter](b); got.n != 5 {
		t.Fatalf("after replace n = %d, want 5", got.n)
	}
	if b.Len() != 2 {
		t.Fatalf("Len = %d, want 2", b.Len())
	}
}

func TestGetMutUpdatesInPlace(t *testing.T) {
	b := extensions.New()
	extensions.Insert(b, counter{})
	for range 3 {
		c, ok := extensions.GetMut[counter](b)
		if !ok {
			t.Fatal("GetMut missed")
		}
		c.n++
	}
	if got, _ := extensions.Get[counter](b); got.n != 3 {
		t.Fatalf("n = %d, want 3", got.n)
	}
}

func TestPointerAndValueTypesAreDistinct(t *testing.T) {
	b := extensions.New()
	extensions.Insert(b, &counter{n: 7})
	if _, ok := extensions.Get[counter](b); ok {
		t.Fatal("value type found under pointer key")
	}
	p, ok := extensions.Get[*counter](b)
	if !ok || p.n != 7 {
		t.Fatalf("Get[*counter] = %v, %v", p, ok)
	}
	if _, err := extensions.MustGet[label](b); err == nil {
		t.Fatal("MustGet on missing type should fail")
	}
	if v, ok := extensions.Remove[*counter](b); !ok || v.n != 7 || b.Len() != 0 {
		t.Fatalf("Remove = %v, %v, len %d", v, ok, b.Len())
	}
}

package jsonfast

import (
	"encoding/json"
	"testing"
)

func TestNew(t *testing.T) {
	t.Run("with positive capacity", func(t *testing.T) {
		b := New(512)
		if cap(b.buf) < 512 {
			t.Errorf("Expected capacity >= 512, got %d", cap(b.buf))
		}
	})

	t.Run("with zero capacity", func(t *testing.T) {
		b := New(0)
		if cap(b.buf) < 256 {
			t.Errorf("Expected default capacity >= 256, got %d", cap(b.buf))
		}
	})
}

func TestReset(t *testing.T) {
	b := New(256)
	b.BeginObject()
	b.AddStringField("test", "value")
	b.EndObject()

	b.Reset()

	if len(b.Bytes()) != 0 {
		t.Errorf("Expected empty buffer after reset, got length %d", len(b.Bytes()))
	}
	if b.opened || !b.first {
		t.Error("Expected builder state to be reset")
	}
}

func TestAddStringField(t *testing.T) {
	b := New(0)
	b.BeginObject()
	b.AddStringField("a", "1")
	b.AddStringField("b", "2")
	b.EndObject()

	if got := string(b.Bytes()); got != `{"a":"1","b":"2"}` {
		t.Errorf("got %s", got)
	}
}

func TestImplicitOpen(t *testing.T) {
	b := New(0)
	b.AddStringField("k", "v")
	b.EndObject()
	if got := string(b.Bytes()); got != `{"k":"v"}` {
		t.Errorf("got %s", got)
	}
}

func TestEmptyObject(t *testing.T) {
	if got := string(Object(nil)); got != `{}` {
		t.Errorf("Object(nil) = %s; want {}", got)
	}
}

func TestObjectIsSortedAndValid(t *testing.T) {
	in := map[string]string{
		"zeta":  "last",
		"alpha": "first",
		"mid":   "quote \" backslash \\ newline \n tab \t ctrl \x01",
	}

	out := Object(in)

	want := `{"alpha":"first","mid":"quote \" backslash \\ newline \n tab \t ctrl \u0001","zeta":"last"}`
	if string(out) != want {
		t.Errorf("Object() = %s\nwant      %s", out, want)
	}

	var decoded map[string]string
	if err := json.Unmarshal(out, &decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	for k, v := range in {
		if decoded[k] != v {
			t.Errorf("round trip of %s = %q; want %q", k, decoded[k], v)
		}
	}
}

func TestObjectReturnsCopy(t *testing.T) {
	a := Object(map[string]string{"k": "one"})
	b := Object(map[string]string{"k": "two"})
	if string(a) == string(b) {
		t.Error("expected distinct buffers")
	}
}

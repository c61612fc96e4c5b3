package canon

import "testing"

func TestCanonicalizeSortsKeys(t *testing.T) {
	a := Canonicalize(Fields{
		"b": String("2"),
		"a": String("1"),
	})
	want := `{"a":"1","b":"2"}`
	if string(a) != want {
		t.Fatalf("got %q, want %q", a, want)
	}
}

func TestCanonicalizeOmitsAbsentFields(t *testing.T) {
	withOptional := Canonicalize(Fields{
		"id":     Int(1),
		"commit": String("abc"),
	})
	withoutOptional := Canonicalize(Fields{
		"id": Int(1),
	})
	if string(withoutOptional) != `{"id":1}` {
		t.Fatalf("got %q", withoutOptional)
	}
	if string(withOptional) == string(withoutOptional) {
		t.Fatalf("expected optional field to change output")
	}
}

func TestCanonicalizeDeterministic(t *testing.T) {
	f := Fields{
		"type":      String("claim"),
		"id":        Int(2),
		"timestamp": TimestampRFC3339Micro("2026-02-23T10:00:00.000000Z"),
	}
	a := Canonicalize(f)
	b := Canonicalize(f)
	if string(a) != string(b) {
		t.Fatalf("canonicalization is not deterministic: %q vs %q", a, b)
	}
}

func TestSHA256HexLength(t *testing.T) {
	h := SHA256Hex([]byte("hello"))
	if len(h) != 64 {
		t.Fatalf("expected 64-char hex digest, got %d chars: %s", len(h), h)
	}
}

func TestEncodeJSONStringEscaping(t *testing.T) {
	got := encodeJSONString(`a"b\c`)
	want := `"a\"b\\c"`
	if string(got) != want {
		t.Fatalf("got %s, want %s", got, want)
	}
}

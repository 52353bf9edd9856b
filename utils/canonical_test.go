package utils

import (
	"testing"
)

func TestCanonicalJSON_KeyOrderIndependent(t *testing.T) {
	a := []byte(`{"b":2,"a":1,"c":{"z":true,"y":[1,2,3]}}`)
	b := []byte(`{"c":{"y":[1,2,3],"z":true},"a":1,"b":2}`)

	ca, err := CanonicalizeRawJSON(a)
	if err != nil {
		t.Fatal(err)
	}
	cb, err := CanonicalizeRawJSON(b)
	if err != nil {
		t.Fatal(err)
	}
	if ca != cb {
		t.Fatalf("same structure, different encodings:\n%s\n%s", ca, cb)
	}
	want := `{"a":1,"b":2,"c":{"y":[1,2,3],"z":true}}`
	if ca != want {
		t.Fatalf("got %s want %s", ca, want)
	}
}

func TestCanonicalJSON_ArrayOrderPreserved(t *testing.T) {
	got, err := CanonicalizeRawJSON([]byte(`[3,1,2]`))
	if err != nil {
		t.Fatal(err)
	}
	if got != `[3,1,2]` {
		t.Fatalf("array order changed: %s", got)
	}
}

func TestCanonicalJSON_NumbersKeepTextualForm(t *testing.T) {
	// 20.40 must not become 20.4 through a float64 round-trip.
	got, err := CanonicalizeRawJSON([]byte(`{"fee":20.40,"big":12345678901234567890}`))
	if err != nil {
		t.Fatal(err)
	}
	want := `{"big":12345678901234567890,"fee":20.40}`
	if got != want {
		t.Fatalf("got %s want %s", got, want)
	}
}

func TestCanonicalJSON_NullAndAbsence(t *testing.T) {
	fromNil, err := CanonicalJSON(nil)
	if err != nil {
		t.Fatal(err)
	}
	fromNull, err := CanonicalizeRawJSON([]byte(`null`))
	if err != nil {
		t.Fatal(err)
	}
	fromEmpty, err := CanonicalizeRawJSON(nil)
	if err != nil {
		t.Fatal(err)
	}
	if fromNil != "null" || fromNull != "null" || fromEmpty != "null" {
		t.Fatalf("null forms diverge: %q %q %q", fromNil, fromNull, fromEmpty)
	}
}

func TestCanonicalizeRawJSON_RejectsTrailingData(t *testing.T) {
	if _, err := CanonicalizeRawJSON([]byte(`{"a":1}garbage`)); err == nil {
		t.Fatal("trailing garbage accepted")
	}
	if _, err := CanonicalizeRawJSON([]byte(`{"a":1}{"b":2}`)); err == nil {
		t.Fatal("second document accepted")
	}
	// Trailing whitespace is still fine.
	got, err := CanonicalizeRawJSON([]byte("{\"a\":1}  \n"))
	if err != nil {
		t.Fatal(err)
	}
	if got != `{"a":1}` {
		t.Fatalf("got %s", got)
	}
}

func TestCanonicalJSON_StructInput(t *testing.T) {
	type payload struct {
		B int    `json:"b"`
		A string `json:"a"`
	}
	got, err := CanonicalJSON(payload{B: 2, A: "x"})
	if err != nil {
		t.Fatal(err)
	}
	if got != `{"a":"x","b":2}` {
		t.Fatalf("got %s", got)
	}
}

func TestSha256Hex_Stable(t *testing.T) {
	if Sha256Hex("abc") != "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad" {
		t.Fatal("sha256 mismatch against known vector")
	}
}

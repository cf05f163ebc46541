package benor_test

import (
	"encoding/json"
	"testing"

	"github.com/usernamenenad/bft-benor/impl/benor"
)

func TestValueJSON(t *testing.T) {
	t.Run("encode", func(t *testing.T) {
		cases := map[benor.Value]string{
			benor.ValueZero:    `0`,
			benor.ValueOne:     `1`,
			benor.ValueUnknown: `"?"`,
		}
		for v, want := range cases {
			data, err := json.Marshal(v)
			if err != nil {
				t.Fatalf("marshal %s: %v", v, err)
			}
			if string(data) != want {
				t.Errorf("marshal %s: got %s, want %s", v, data, want)
			}
		}

		if _, err := json.Marshal(benor.Value(5)); err == nil {
			t.Error("expected error for out of domain value")
		}
	})

	t.Run("decode", func(t *testing.T) {
		cases := map[string]benor.Value{
			`0`:    benor.ValueZero,
			`1`:    benor.ValueOne,
			`"?"`:  benor.ValueUnknown,
			`null`: benor.ValueUnknown,
			`"0"`:  benor.ValueZero,
			`"1"`:  benor.ValueOne,
		}
		for data, want := range cases {
			var v benor.Value
			if err := json.Unmarshal([]byte(data), &v); err != nil {
				t.Fatalf("unmarshal %s: %v", data, err)
			}
			if v != want {
				t.Errorf("unmarshal %s: got %s, want %s", data, v, want)
			}
		}
	})

	t.Run("decode invalid", func(t *testing.T) {
		for _, data := range []string{`2`, `-1`, `"x"`, `true`, `0.5`} {
			var v benor.Value
			if err := json.Unmarshal([]byte(data), &v); err == nil {
				t.Errorf("unmarshal %s: expected error", data)
			}
		}
	})

	t.Run("nullable state", func(t *testing.T) {
		x, decided := benor.ValueOne, true

		data, err := json.Marshal(benor.NodeState{})
		if err != nil {
			t.Fatal(err)
		}
		if want := `{"killed":false,"x":null,"decided":null,"k":null}`; string(data) != want {
			t.Errorf("got %s, want %s", data, want)
		}

		data, err = json.Marshal(benor.NodeState{Killed: true, X: &x, Decided: &decided})
		if err != nil {
			t.Fatal(err)
		}
		if want := `{"killed":true,"x":1,"decided":true,"k":null}`; string(data) != want {
			t.Errorf("got %s, want %s", data, want)
		}
	})
}

func TestParseValue(t *testing.T) {
	for _, s := range []string{"0", "1", "?"} {
		v, err := benor.ParseValue(s)
		if err != nil {
			t.Fatalf("ParseValue(%q): %v", s, err)
		}
		if v.String() != s {
			t.Errorf("ParseValue(%q).String() = %q", s, v.String())
		}
	}
	if _, err := benor.ParseValue("2"); err == nil {
		t.Error("expected error")
	}
}

func TestIsBinary(t *testing.T) {
	for v, want := range map[benor.Value]bool{
		benor.ValueZero:    true,
		benor.ValueOne:     true,
		benor.ValueUnknown: false,
		benor.Value(5):     false,
	} {
		if got := v.IsBinary(); got != want {
			t.Errorf("%s.IsBinary() = %v, want %v", v, got, want)
		}
	}
}

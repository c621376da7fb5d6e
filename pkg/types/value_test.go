package types

import (
	"math"
	"testing"
)

func TestValueStrictEquality(t *testing.T) {
	if Int(1).Equal(Float(1.0)) {
		t.Error("Int(1) must not equal Float(1.0): no implicit coercion")
	}
	if !Int(1).Equal(Int(1)) {
		t.Error("Int(1) == Int(1)")
	}
	if Int(1).Equal(Int(2)) {
		t.Error("Int(1) != Int(2)")
	}
	if !Str("a").Equal(Str("a")) {
		t.Error("equal strings")
	}
	if Str("a").Equal(Bytes([]byte("a"))) {
		t.Error("String must not equal Bytes")
	}
	if !Null().Equal(Null()) {
		t.Error("Null == Null")
	}
	if Null().Equal(Bool(false)) {
		t.Error("Null != Bool(false)")
	}
}

func TestValueFloatEdgeCases(t *testing.T) {
	nan := Float(math.NaN())
	if nan.Equal(nan) {
		t.Error("NaN must never equal anything, including itself")
	}
	if !Float(0.0).Equal(Float(math.Copysign(0, -1))) {
		t.Error("-0.0 == 0.0 under IEEE-754")
	}
}

func TestValueCompositeEquality(t *testing.T) {
	a := Object(map[string]Value{
		"name":  Str("Alice"),
		"score": Int(10),
		"tags":  Array(Str("x"), Str("y")),
	})
	b := Object(map[string]Value{
		"name":  Str("Alice"),
		"score": Int(10),
		"tags":  Array(Str("x"), Str("y")),
	})
	if !a.Equal(b) {
		t.Errorf("deep equality mismatch.\nExpected: %v\nGot: %v", a, b)
	}

	c := Object(map[string]Value{
		"name":  Str("Alice"),
		"score": Float(10),
		"tags":  Array(Str("x"), Str("y")),
	})
	if a.Equal(c) {
		t.Error("Int(10) inside object must not equal Float(10)")
	}

	if Array(Int(1)).Equal(Array(Int(1), Int(2))) {
		t.Error("arrays of different length")
	}
}

func TestValueClone(t *testing.T) {
	inner := map[string]Value{"n": Int(1)}
	orig := Object(map[string]Value{"obj": Object(inner), "arr": Array(Int(1))})
	cp := orig.Clone()

	inner["n"] = Int(99)
	if !cp.Equal(Object(map[string]Value{
		"obj": Object(map[string]Value{"n": Int(1)}),
		"arr": Array(Int(1)),
	})) {
		t.Error("clone must not alias the original's maps")
	}
}

func TestValueBSONRoundTrip(t *testing.T) {
	cases := []Value{
		Null(),
		Bool(true),
		Bool(false),
		Int(-42),
		Int(math.MaxInt64),
		Float(3.25),
		Str("hello"),
		Str(""),
		Bytes([]byte{0x00, 0xFF, 0x10}),
		Array(Int(1), Str("two"), Null()),
		Object(map[string]Value{
			"nested": Object(map[string]Value{"deep": Array(Float(1.5))}),
			"flag":   Bool(true),
		}),
	}
	for _, v := range cases {
		data, err := MarshalValue(v)
		if err != nil {
			t.Fatalf("marshal %v: %v", v, err)
		}
		back, err := UnmarshalValue(data)
		if err != nil {
			t.Fatalf("unmarshal %v: %v", v, err)
		}
		if !v.Equal(back) {
			t.Errorf("roundtrip mismatch.\nExpected: %v\nGot: %v", v, back)
		}
		if v.Kind() != back.Kind() {
			t.Errorf("kind changed in roundtrip: %v → %v", v.Kind(), back.Kind())
		}
	}
}

func TestValueBSONPreservesIntFloat(t *testing.T) {
	data, err := MarshalValue(Int(7))
	if err != nil {
		t.Fatal(err)
	}
	back, _ := UnmarshalValue(data)
	if back.Kind() != KindInt {
		t.Errorf("Int(7) decoded as %v", back.Kind())
	}

	data, err = MarshalValue(Float(7))
	if err != nil {
		t.Fatal(err)
	}
	back, _ = UnmarshalValue(data)
	if back.Kind() != KindFloat {
		t.Errorf("Float(7) decoded as %v", back.Kind())
	}
}

func TestValueBSONDeterministic(t *testing.T) {
	v := Object(map[string]Value{"b": Int(2), "a": Int(1), "c": Int(3)})
	first, err := MarshalValue(v)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 10; i++ {
		again, err := MarshalValue(v)
		if err != nil {
			t.Fatal(err)
		}
		if string(first) != string(again) {
			t.Fatal("object encoding must be byte-deterministic (sorted keys)")
		}
	}
}

func TestValueNaNStorable(t *testing.T) {
	data, err := MarshalValue(Float(math.NaN()))
	if err != nil {
		t.Fatalf("NaN must be storable: %v", err)
	}
	back, err := UnmarshalValue(data)
	if err != nil {
		t.Fatal(err)
	}
	f, ok := back.Float()
	if !ok || !math.IsNaN(f) {
		t.Error("NaN lost in roundtrip")
	}
}

package value

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// wireValue is the tagged-union shape Value marshals to/from CBOR (and
// JSON, for snapshot payloads) as, since Value's fields are unexported.
// Kept deliberately flat (one field per variant) rather than an
// interface{} payload so decoding never needs type switches on arbitrary
// decoded Go types.
type wireValue struct {
	K    uint8                `cbor:"k" json:"k"`
	I    int64                `cbor:"i,omitempty" json:"i,omitempty"`
	F    float64              `cbor:"f,omitempty" json:"f,omitempty"`
	B    bool                 `cbor:"b,omitempty" json:"b,omitempty"`
	S    string               `cbor:"s,omitempty" json:"s,omitempty"`
	TMs  int64                `cbor:"t,omitempty" json:"t,omitempty"`
	Blob []byte               `cbor:"blob,omitempty" json:"blob,omitempty"`
	List []wireValue          `cbor:"list,omitempty" json:"list,omitempty"`
	Map  map[string]wireValue `cbor:"map,omitempty" json:"map,omitempty"`
}

func toWire(v Value) wireValue {
	w := wireValue{K: uint8(v.kind)}
	switch v.kind {
	case KindInt:
		w.I = v.i
	case KindFloat:
		w.F = v.f
	case KindBool:
		w.B = v.b
	case KindString:
		w.S = v.s
	case KindTime:
		w.TMs = v.t.UnixMilli()
	case KindBlob:
		w.Blob = v.blob
	case KindList:
		w.List = make([]wireValue, len(v.list))
		for i, e := range v.list {
			w.List[i] = toWire(e)
		}
	case KindMap:
		w.Map = make(map[string]wireValue, len(v.m))
		for k, e := range v.m {
			w.Map[k] = toWire(e)
		}
	}
	return w
}

func fromWire(w wireValue) (Value, error) {
	switch Kind(w.K) {
	case KindNull:
		return Null(), nil
	case KindInt:
		return Int(w.I), nil
	case KindFloat:
		return Float(w.F), nil
	case KindBool:
		return Bool(w.B), nil
	case KindString:
		return String(w.S), nil
	case KindTime:
		return Time(time.UnixMilli(w.TMs).UTC()), nil
	case KindBlob:
		return Blob(w.Blob), nil
	case KindList:
		vs := make([]Value, len(w.List))
		for i, e := range w.List {
			v, err := fromWire(e)
			if err != nil {
				return Value{}, err
			}
			vs[i] = v
		}
		return List(vs), nil
	case KindMap:
		m := make(map[string]Value, len(w.Map))
		for k, e := range w.Map {
			v, err := fromWire(e)
			if err != nil {
				return Value{}, err
			}
			m[k] = v
		}
		return Map(m), nil
	default:
		return Value{}, fmt.Errorf("value: unknown wire kind %d", w.K)
	}
}

// MarshalCBOR implements cbor.Marshaler.
func (v Value) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal(toWire(v))
}

// UnmarshalCBOR implements cbor.Unmarshaler.
func (v *Value) UnmarshalCBOR(data []byte) error {
	var w wireValue
	if err := cbor.Unmarshal(data, &w); err != nil {
		return err
	}
	decoded, err := fromWire(w)
	if err != nil {
		return err
	}
	*v = decoded
	return nil
}

// MarshalJSON implements json.Marshaler, used by the snapshot package's
// UTF-8 JSON payload encoding.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(toWire(v))
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Value) UnmarshalJSON(data []byte) error {
	var w wireValue
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	decoded, err := fromWire(w)
	if err != nil {
		return err
	}
	*v = decoded
	return nil
}

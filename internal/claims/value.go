// Package claims implements the tagged value type used to normalize
// upstream IdP and client attribute-mapping claims without resorting to
// bare interface{} juggling at every call site.
package claims

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind discriminates the underlying shape of a Value.
type Kind int

const (
	KindNull Kind = iota
	KindString
	KindNumber
	KindBool
	KindArray
	KindObject
)

// Value is a tagged union over the claim shapes that show up in JWT/JSON
// bodies: string, number, bool, array, object, or null. It exists so
// FederationEngine's attribute_mapping and PolicyEngine's claims requests
// can walk dot-paths without repeated type assertions.
type Value struct {
	kind Kind
	str  string
	num  float64
	b    bool
	arr  []Value
	obj  map[string]Value
}

func Null() Value { return Value{kind: KindNull} }

func String(s string) Value { return Value{kind: KindString, str: s} }

func Number(n float64) Value { return Value{kind: KindNumber, num: n} }

func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

func Array(vs ...Value) Value { return Value{kind: KindArray, arr: vs} }

func Object(m map[string]Value) Value { return Value{kind: KindObject, obj: m} }

func (v Value) Kind() Kind { return v.kind }

func (v Value) IsNull() bool { return v.kind == KindNull }

// FromAny converts an already-decoded JSON value (as produced by
// encoding/json.Unmarshal into interface{}) into a Value tree.
func FromAny(in interface{}) Value {
	switch t := in.(type) {
	case nil:
		return Null()
	case string:
		return String(t)
	case float64:
		return Number(t)
	case bool:
		return Bool(t)
	case []interface{}:
		out := make([]Value, len(t))
		for i, e := range t {
			out[i] = FromAny(e)
		}
		return Array(out...)
	case map[string]interface{}:
		out := make(map[string]Value, len(t))
		for k, e := range t {
			out[k] = FromAny(e)
		}
		return Object(out)
	default:
		return String(fmt.Sprintf("%v", t))
	}
}

// Get walks a dot-separated path ("address.country" or "emails.0.value")
// through object and array levels. The second return is false if any
// segment is missing or the path traverses a non-container value.
func (v Value) Get(path string) (Value, bool) {
	if path == "" {
		return v, true
	}
	segments := strings.Split(path, ".")
	cur := v
	for _, seg := range segments {
		switch cur.kind {
		case KindObject:
			next, ok := cur.obj[seg]
			if !ok {
				return Value{}, false
			}
			cur = next
		case KindArray:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(cur.arr) {
				return Value{}, false
			}
			cur = cur.arr[idx]
		default:
			return Value{}, false
		}
	}
	return cur, true
}

// AsSubject coerces any Value to a string, the rule OIDC's `sub` claim
// mapping requires regardless of the upstream representation.
func (v Value) AsSubject() string {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		if v.num == float64(int64(v.num)) {
			return strconv.FormatInt(int64(v.num), 10)
		}
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindNull:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}

func (v Value) AsString() (string, bool) {
	if v.kind != KindString {
		return "", false
	}
	return v.str, true
}

func (v Value) AsBool() (bool, bool) {
	if v.kind != KindBool {
		return false, false
	}
	return v.b, true
}

func (v Value) AsNumber() (float64, bool) {
	if v.kind != KindNumber {
		return 0, false
	}
	return v.num, true
}

func (v Value) AsArray() ([]Value, bool) {
	if v.kind != KindArray {
		return nil, false
	}
	return v.arr, true
}

// AsObject returns the underlying map for KindObject values. Useful for
// membership checks on keys that themselves contain "." (e.g. event type
// URIs), where Get's dot-path splitting would misfire.
func (v Value) AsObject() (map[string]Value, bool) {
	if v.kind != KindObject {
		return nil, false
	}
	return v.obj, true
}

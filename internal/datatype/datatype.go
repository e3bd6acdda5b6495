// Package datatype defines the closed numeric/text taxonomy the codec
// engine narrows wire values into, and the textual<->numeric<->enum
// coercions ("value casting") fields and converters rely on.
package datatype

import (
	"fmt"
	"math/big"
	"reflect"
	"strconv"
	"strings"

	"github.com/foundryfieldworks/tagwire/internal/codecerr"
)

// Kind enumerates the closed set of wire/field value shapes the engine
// understands. It mirrors spec.md's DataType taxonomy.
type Kind int

const (
	Byte Kind = iota
	Short
	Integer
	Long
	Float
	Double
	BigInteger
	BigDecimal
	String
	BitSet
)

func (k Kind) String() string {
	switch k {
	case Byte:
		return "Byte"
	case Short:
		return "Short"
	case Integer:
		return "Integer"
	case Long:
		return "Long"
	case Float:
		return "Float"
	case Double:
		return "Double"
	case BigInteger:
		return "BigInteger"
	case BigDecimal:
		return "BigDecimal"
	case String:
		return "String"
	case BitSet:
		return "BitSet"
	default:
		return "Unknown"
	}
}

// castError builds a codecerr.Error for a failed value cast, carrying the
// source/target type names as spec.md §4.2 requires.
func castError(value interface{}, target Kind, cause error) *codecerr.Error {
	return codecerr.Wrap(codecerr.Codec, "value-cast", cause,
		fmt.Sprintf("cannot cast %T to %s", value, target))
}

// IsDecimalNumber reports whether s matches the strict decimal-number
// grammar: an optional leading sign followed by one or more ASCII digits.
// No fractional part, no exponent, no grouping separators.
func IsDecimalNumber(s string) bool {
	if s == "" {
		return false
	}
	i := 0
	if s[0] == '+' || s[0] == '-' {
		i++
	}
	if i >= len(s) {
		return false
	}
	for ; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// ParseBool recognizes the boolean literals "true"/"false" (case-insensitive).
func ParseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true":
		return true, nil
	case "false":
		return false, nil
	default:
		return false, castError(s, Byte, fmt.Errorf("not a boolean literal"))
	}
}

// ParseNumber parses s as an integer in the given base (0 = auto-detect
// 0x/0o/0b/decimal prefixes, matching strconv.ParseInt's base-0 rules) into
// the numeric representation for kind.
func ParseNumber(s string, kind Kind, base int) (interface{}, error) {
	s = strings.TrimSpace(s)
	switch kind {
	case Byte:
		v, err := strconv.ParseInt(s, base, 8)
		if err != nil {
			return nil, castError(s, kind, err)
		}
		return int8(v), nil
	case Short:
		v, err := strconv.ParseInt(s, base, 16)
		if err != nil {
			return nil, castError(s, kind, err)
		}
		return int16(v), nil
	case Integer:
		v, err := strconv.ParseInt(s, base, 32)
		if err != nil {
			return nil, castError(s, kind, err)
		}
		return int32(v), nil
	case Long:
		v, err := strconv.ParseInt(s, base, 64)
		if err != nil {
			return nil, castError(s, kind, err)
		}
		return v, nil
	case Float:
		v, err := strconv.ParseFloat(s, 32)
		if err != nil {
			return nil, castError(s, kind, err)
		}
		return float32(v), nil
	case Double:
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, castError(s, kind, err)
		}
		return v, nil
	case BigInteger:
		bi, ok := new(big.Int).SetString(s, base)
		if !ok {
			return nil, castError(s, kind, fmt.Errorf("invalid big integer literal"))
		}
		return bi, nil
	case BigDecimal:
		bf, ok := new(big.Float).SetString(s)
		if !ok {
			return nil, castError(s, kind, fmt.Errorf("invalid big decimal literal"))
		}
		return bf, nil
	default:
		return nil, codecerr.New(codecerr.Codec, "unsupported-type", "ParseNumber: unsupported kind "+kind.String())
	}
}

// Cast converts value (of any Go numeric type or string) to the
// representation associated with target. *big.Int converts only to
// BigInteger, and any value converts to String via its %v form; other
// sources, such as *big.Float or a bit set, are rejected. This is the
// primitive<->object<->enum coercion spec.md §4.2 calls ValueCaster.
func Cast(value interface{}, target Kind) (interface{}, error) {
	if value == nil {
		return nil, castError(value, target, fmt.Errorf("nil value"))
	}

	switch target {
	case String:
		return fmt.Sprintf("%v", value), nil
	case BigInteger:
		switch v := value.(type) {
		case *big.Int:
			return v, nil
		default:
			bi := new(big.Int)
			if rv, ok := asInt64(value); ok {
				bi.SetInt64(rv)
				return bi, nil
			}
			if s, ok := value.(string); ok {
				if parsed, ok := bi.SetString(strings.TrimSpace(s), 0); ok {
					return parsed, nil
				}
			}
			return nil, castError(value, target, fmt.Errorf("not convertible to BigInteger"))
		}
	}

	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.String:
		n, err := ParseNumber(rv.String(), target, 0)
		if err != nil {
			return nil, err
		}
		return n, nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return castInt(rv.Int(), target)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return castInt(int64(rv.Uint()), target)
	case reflect.Float32, reflect.Float64:
		return castFloat(rv.Float(), target)
	}

	if bi, ok := value.(*big.Int); ok {
		return castInt(bi.Int64(), target)
	}

	return nil, castError(value, target, fmt.Errorf("unsupported source type"))
}

func asInt64(value interface{}) (int64, bool) {
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int64(rv.Uint()), true
	}
	return 0, false
}

func castInt(v int64, target Kind) (interface{}, error) {
	switch target {
	case Byte:
		return int8(v), nil
	case Short:
		return int16(v), nil
	case Integer:
		return int32(v), nil
	case Long:
		return v, nil
	case Float:
		return float32(v), nil
	case Double:
		return float64(v), nil
	case BigInteger:
		return big.NewInt(v), nil
	case String:
		return strconv.FormatInt(v, 10), nil
	default:
		return nil, castError(v, target, fmt.Errorf("incompatible target"))
	}
}

func castFloat(v float64, target Kind) (interface{}, error) {
	switch target {
	case Float:
		return float32(v), nil
	case Double:
		return v, nil
	case BigDecimal:
		return big.NewFloat(v), nil
	case String:
		return strconv.FormatFloat(v, 'g', -1, 64), nil
	default:
		return nil, castError(v, target, fmt.Errorf("incompatible target"))
	}
}

// BitsToBytes packs a little-endian-ordered bit slice (bit i = bit i of the
// logical value, bit 0 first) into a byte slice such that
// (byte[i/8] >> (i%8)) & 1 == bits[i], per spec.md's BitSet codec invariant.
func BitsToBytes(bits []bool) []byte {
	out := make([]byte, (len(bits)+7)/8)
	for i, b := range bits {
		if b {
			out[i/8] |= 1 << uint(i%8)
		}
	}
	return out
}

// BytesToBits is the inverse of BitsToBytes for n logical bits.
func BytesToBits(data []byte, n int) []bool {
	out := make([]bool, n)
	for i := 0; i < n; i++ {
		out[i] = (data[i/8]>>uint(i%8))&1 == 1
	}
	return out
}

package Expr

import (
	"context"
	"crypto/md5"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"math"
	"math/rand"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"arrowframe/operators"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/compute"
	"github.com/apache/arrow/go/v17/arrow/memory"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/blake2s"
	"lukechampine.com/blake3"
)

var (
	ErrWrongArity = func(kernel string, want, got int) error {
		return fmt.Errorf("%s expects %d argument(s), got %d", kernel, want, got)
	}
	ErrKernelNotImplemented = func(kernel string) error {
		return fmt.Errorf("scalar kernel %q is not implemented by the engine", kernel)
	}
	ErrUnknownDigestAlgorithm = func(alg string) error {
		return fmt.Errorf("digest: unknown algorithm %q", alg)
	}
)

// evalScalarCall executes a registered scalar kernel against one batch.
// Arity is enforced here, not in the constructors.
func evalScalarCall(c *ScalarCall, batch *operators.RecordBatch) (arrow.Array, error) {
	args := make([]arrow.Array, len(c.Args))
	for i, a := range c.Args {
		arr, err := EvalExpression(a, batch)
		if err != nil {
			operators.ReleaseArrays(args[:i])
			return nil, err
		}
		args[i] = arr
	}
	defer operators.ReleaseArrays(args)

	n := int(batch.RowCount)

	switch c.Kernel {
	// math, one numeric argument
	case "abs":
		if err := wantArity(c.Kernel, args, 1); err != nil {
			return nil, err
		}
		datum, err := compute.AbsoluteValue(context.TODO(), compute.ArithmeticOptions{}, compute.NewDatum(args[0]))
		if err != nil {
			return nil, err
		}
		return unpackDatum(datum)
	case "round":
		if err := wantArity(c.Kernel, args, 1); err != nil {
			return nil, err
		}
		datum, err := compute.Round(context.TODO(), compute.DefaultRoundOptions, compute.NewDatum(args[0]))
		if err != nil {
			return nil, err
		}
		return unpackDatum(datum)
	case "acos":
		return mapFloatUnary(c.Kernel, args, math.Acos)
	case "asin":
		return mapFloatUnary(c.Kernel, args, math.Asin)
	case "atan":
		return mapFloatUnary(c.Kernel, args, math.Atan)
	case "ceil":
		return mapFloatUnary(c.Kernel, args, math.Ceil)
	case "cos":
		return mapFloatUnary(c.Kernel, args, math.Cos)
	case "exp":
		return mapFloatUnary(c.Kernel, args, math.Exp)
	case "floor":
		return mapFloatUnary(c.Kernel, args, math.Floor)
	case "ln":
		return mapFloatUnary(c.Kernel, args, math.Log)
	case "log10":
		return mapFloatUnary(c.Kernel, args, math.Log10)
	case "log2":
		return mapFloatUnary(c.Kernel, args, math.Log2)
	case "signum":
		return mapFloatUnary(c.Kernel, args, func(v float64) float64 {
			switch {
			case v > 0:
				return 1
			case v < 0:
				return -1
			default:
				return 0
			}
		})
	case "sin":
		return mapFloatUnary(c.Kernel, args, math.Sin)
	case "sqrt":
		return mapFloatUnary(c.Kernel, args, math.Sqrt)
	case "tan":
		return mapFloatUnary(c.Kernel, args, math.Tan)
	case "trunc":
		return mapFloatUnary(c.Kernel, args, math.Trunc)
	case "atan2":
		return mapFloatBinary(c.Kernel, args, math.Atan2)
	case "power":
		return mapFloatBinary(c.Kernel, args, math.Pow)
	case "log":
		// log(x) is base 10; log(base, x) uses an explicit base
		if len(args) == 1 {
			return mapFloatUnary(c.Kernel, args, math.Log10)
		}
		return mapFloatBinary(c.Kernel, args, func(base, x float64) float64 {
			return math.Log(x) / math.Log(base)
		})
	case "random":
		if err := wantArity(c.Kernel, args, 0); err != nil {
			return nil, err
		}
		b := array.NewFloat64Builder(memory.DefaultAllocator)
		defer b.Release()
		for i := 0; i < n; i++ {
			b.Append(rand.Float64())
		}
		return b.NewArray(), nil

	// strings
	case "upper":
		return mapStringUnary(c.Kernel, args, strings.ToUpper)
	case "lower":
		return mapStringUnary(c.Kernel, args, strings.ToLower)
	case "reverse":
		return mapStringUnary(c.Kernel, args, reverseString)
	case "initcap":
		return mapStringUnary(c.Kernel, args, initcapString)
	case "trim", "btrim":
		return evalTrim(c.Kernel, args, strings.Trim, func(s string) string { return strings.TrimSpace(s) })
	case "ltrim":
		return evalTrim(c.Kernel, args, strings.TrimLeft, func(s string) string {
			return strings.TrimLeft(s, " ")
		})
	case "rtrim":
		return evalTrim(c.Kernel, args, strings.TrimRight, func(s string) string {
			return strings.TrimRight(s, " ")
		})
	case "character_length":
		return mapStringToInt(c.Kernel, args, func(s string) int64 { return int64(len([]rune(s))) })
	case "bit_length":
		return mapStringToInt(c.Kernel, args, func(s string) int64 { return int64(len(s) * 8) })
	case "octet_length":
		return mapStringToInt(c.Kernel, args, func(s string) int64 { return int64(len(s)) })
	case "ascii":
		return mapStringToInt(c.Kernel, args, func(s string) int64 {
			if s == "" {
				return 0
			}
			return int64([]rune(s)[0])
		})
	case "strpos":
		return evalStrpos(c.Kernel, args)
	case "starts_with":
		return evalStartsWith(c.Kernel, args)
	case "chr":
		return evalChr(c.Kernel, args)
	case "left":
		return evalLeftRight(c.Kernel, args, true)
	case "right":
		return evalLeftRight(c.Kernel, args, false)
	case "lpad":
		return evalPad(c.Kernel, args, true)
	case "rpad":
		return evalPad(c.Kernel, args, false)
	case "repeat":
		return evalRepeat(c.Kernel, args)
	case "replace":
		return evalReplace(c.Kernel, args)
	case "translate":
		return evalTranslate(c.Kernel, args)
	case "split_part":
		return evalSplitPart(c.Kernel, args)
	case "substr":
		return evalSubstr(c.Kernel, args)
	case "to_hex":
		return evalToHex(c.Kernel, args)
	case "concat":
		return evalConcat(args, n, "")
	case "concat_ws":
		return evalConcatWS(c.Kernel, args, n)
	case "regexp_replace":
		return evalRegexpReplace(c.Kernel, args)
	case "regexp_match":
		return evalRegexpMatch(c.Kernel, args)

	// hashing
	case "md5":
		if err := wantArity(c.Kernel, args, 1); err != nil {
			return nil, err
		}
		return mapStringUnary(c.Kernel, args, func(s string) string {
			sum := md5.Sum([]byte(s))
			return hex.EncodeToString(sum[:])
		})
	case "sha224", "sha256", "sha384", "sha512":
		return evalFixedDigest(c.Kernel, args)
	case "digest":
		return evalDigest(c.Kernel, args)

	// date & time
	case "now":
		return constantTimestamp(n, time.Now().UnixNano())
	case "current_date":
		return constantDate(n, time.Now())
	case "current_time":
		return constantTime(n, time.Now())
	case "to_timestamp":
		return evalToTimestamp(c.Kernel, args, time.Nanosecond)
	case "to_timestamp_millis":
		return evalToTimestamp(c.Kernel, args, time.Millisecond)
	case "to_timestamp_micros":
		return evalToTimestamp(c.Kernel, args, time.Microsecond)
	case "to_timestamp_seconds":
		return evalToTimestamp(c.Kernel, args, time.Second)
	case "from_unixtime":
		return evalToTimestamp(c.Kernel, args, time.Second)
	case "date_part":
		return evalDatePart(c.Kernel, args)
	case "date_trunc":
		return evalDateTrunc(c.Kernel, args)

	// misc
	case "coalesce":
		return evalCoalesce(c.Kernel, args, n)
	case "nullif":
		return evalNullIf(c.Kernel, args)
	case "arrow_typeof":
		if err := wantArity(c.Kernel, args, 1); err != nil {
			return nil, err
		}
		b := array.NewStringBuilder(memory.DefaultAllocator)
		defer b.Release()
		name := args[0].DataType().String()
		for i := 0; i < n; i++ {
			b.Append(name)
		}
		return b.NewArray(), nil

	default:
		return nil, ErrKernelNotImplemented(c.Kernel)
	}
}

func wantArity(kernel string, args []arrow.Array, want int) error {
	if len(args) != want {
		return ErrWrongArity(kernel, want, len(args))
	}
	return nil
}

func castFloat64(arr arrow.Array) (*array.Float64, error) {
	out, err := compute.CastArray(context.TODO(), arr, compute.NewCastOptions(&arrow.Float64Type{}, true))
	if err != nil {
		return nil, err
	}
	return out.(*array.Float64), nil
}

func castInt64(arr arrow.Array) (*array.Int64, error) {
	out, err := compute.CastArray(context.TODO(), arr, compute.NewCastOptions(&arrow.Int64Type{}, true))
	if err != nil {
		return nil, err
	}
	return out.(*array.Int64), nil
}

func asString(kernel string, arr arrow.Array) (*array.String, error) {
	s, ok := arr.(*array.String)
	if !ok {
		return nil, fmt.Errorf("%s only supports string arrays, got %s", kernel, arr.DataType())
	}
	return s, nil
}

func mapFloatUnary(kernel string, args []arrow.Array, f func(float64) float64) (arrow.Array, error) {
	if err := wantArity(kernel, args, 1); err != nil {
		return nil, err
	}
	in, err := castFloat64(args[0])
	if err != nil {
		return nil, err
	}
	defer in.Release()
	b := array.NewFloat64Builder(memory.DefaultAllocator)
	defer b.Release()
	for i := 0; i < in.Len(); i++ {
		if in.IsNull(i) {
			b.AppendNull()
			continue
		}
		b.Append(f(in.Value(i)))
	}
	return b.NewArray(), nil
}

func mapFloatBinary(kernel string, args []arrow.Array, f func(x, y float64) float64) (arrow.Array, error) {
	if err := wantArity(kernel, args, 2); err != nil {
		return nil, err
	}
	x, err := castFloat64(args[0])
	if err != nil {
		return nil, err
	}
	defer x.Release()
	y, err := castFloat64(args[1])
	if err != nil {
		return nil, err
	}
	defer y.Release()
	b := array.NewFloat64Builder(memory.DefaultAllocator)
	defer b.Release()
	for i := 0; i < x.Len(); i++ {
		if x.IsNull(i) || y.IsNull(i) {
			b.AppendNull()
			continue
		}
		b.Append(f(x.Value(i), y.Value(i)))
	}
	return b.NewArray(), nil
}

func mapStringUnary(kernel string, args []arrow.Array, f func(string) string) (arrow.Array, error) {
	if err := wantArity(kernel, args, 1); err != nil {
		return nil, err
	}
	in, err := asString(kernel, args[0])
	if err != nil {
		return nil, err
	}
	b := array.NewStringBuilder(memory.DefaultAllocator)
	defer b.Release()
	for i := 0; i < in.Len(); i++ {
		if in.IsNull(i) {
			b.AppendNull()
			continue
		}
		b.Append(f(in.Value(i)))
	}
	return b.NewArray(), nil
}

func mapStringToInt(kernel string, args []arrow.Array, f func(string) int64) (arrow.Array, error) {
	if err := wantArity(kernel, args, 1); err != nil {
		return nil, err
	}
	in, err := asString(kernel, args[0])
	if err != nil {
		return nil, err
	}
	b := array.NewInt64Builder(memory.DefaultAllocator)
	defer b.Release()
	for i := 0; i < in.Len(); i++ {
		if in.IsNull(i) {
			b.AppendNull()
			continue
		}
		b.Append(f(in.Value(i)))
	}
	return b.NewArray(), nil
}

func reverseString(s string) string {
	runes := []rune(s)
	for i, j := 0, len(runes)-1; i < j; i, j = i+1, j-1 {
		runes[i], runes[j] = runes[j], runes[i]
	}
	return string(runes)
}

func initcapString(s string) string {
	var b strings.Builder
	prevAlnum := false
	for _, r := range s {
		alnum := unicode.IsLetter(r) || unicode.IsDigit(r)
		if alnum && !prevAlnum {
			b.WriteRune(unicode.ToUpper(r))
		} else if alnum {
			b.WriteRune(unicode.ToLower(r))
		} else {
			b.WriteRune(r)
		}
		prevAlnum = alnum
	}
	return b.String()
}

// evalTrim handles the optional character-set second argument shared by
// trim, btrim, ltrim and rtrim.
func evalTrim(kernel string, args []arrow.Array, withSet func(string, string) string, plain func(string) string) (arrow.Array, error) {
	if len(args) != 1 && len(args) != 2 {
		return nil, ErrWrongArity(kernel, 1, len(args))
	}
	in, err := asString(kernel, args[0])
	if err != nil {
		return nil, err
	}
	var set *array.String
	if len(args) == 2 {
		set, err = asString(kernel, args[1])
		if err != nil {
			return nil, err
		}
	}
	b := array.NewStringBuilder(memory.DefaultAllocator)
	defer b.Release()
	for i := 0; i < in.Len(); i++ {
		if in.IsNull(i) {
			b.AppendNull()
			continue
		}
		if set == nil || set.IsNull(i) {
			b.Append(plain(in.Value(i)))
			continue
		}
		b.Append(withSet(in.Value(i), set.Value(i)))
	}
	return b.NewArray(), nil
}

func evalStrpos(kernel string, args []arrow.Array) (arrow.Array, error) {
	if err := wantArity(kernel, args, 2); err != nil {
		return nil, err
	}
	str, err := asString(kernel, args[0])
	if err != nil {
		return nil, err
	}
	sub, err := asString(kernel, args[1])
	if err != nil {
		return nil, err
	}
	b := array.NewInt64Builder(memory.DefaultAllocator)
	defer b.Release()
	for i := 0; i < str.Len(); i++ {
		if str.IsNull(i) || sub.IsNull(i) {
			b.AppendNull()
			continue
		}
		idx := strings.Index(str.Value(i), sub.Value(i))
		b.Append(int64(idx + 1)) // 1-based, 0 when absent
	}
	return b.NewArray(), nil
}

func evalStartsWith(kernel string, args []arrow.Array) (arrow.Array, error) {
	if err := wantArity(kernel, args, 2); err != nil {
		return nil, err
	}
	str, err := asString(kernel, args[0])
	if err != nil {
		return nil, err
	}
	prefix, err := asString(kernel, args[1])
	if err != nil {
		return nil, err
	}
	b := array.NewBooleanBuilder(memory.DefaultAllocator)
	defer b.Release()
	for i := 0; i < str.Len(); i++ {
		if str.IsNull(i) || prefix.IsNull(i) {
			b.AppendNull()
			continue
		}
		b.Append(strings.HasPrefix(str.Value(i), prefix.Value(i)))
	}
	return b.NewArray(), nil
}

func evalChr(kernel string, args []arrow.Array) (arrow.Array, error) {
	if err := wantArity(kernel, args, 1); err != nil {
		return nil, err
	}
	codes, err := castInt64(args[0])
	if err != nil {
		return nil, err
	}
	defer codes.Release()
	b := array.NewStringBuilder(memory.DefaultAllocator)
	defer b.Release()
	for i := 0; i < codes.Len(); i++ {
		if codes.IsNull(i) {
			b.AppendNull()
			continue
		}
		b.Append(string(rune(codes.Value(i))))
	}
	return b.NewArray(), nil
}

func evalLeftRight(kernel string, args []arrow.Array, fromLeft bool) (arrow.Array, error) {
	if err := wantArity(kernel, args, 2); err != nil {
		return nil, err
	}
	str, err := asString(kernel, args[0])
	if err != nil {
		return nil, err
	}
	counts, err := castInt64(args[1])
	if err != nil {
		return nil, err
	}
	defer counts.Release()
	b := array.NewStringBuilder(memory.DefaultAllocator)
	defer b.Release()
	for i := 0; i < str.Len(); i++ {
		if str.IsNull(i) || counts.IsNull(i) {
			b.AppendNull()
			continue
		}
		runes := []rune(str.Value(i))
		n := counts.Value(i)
		// negative n drops |n| characters from the other end
		keep := int(n)
		if n < 0 {
			keep = len(runes) + int(n)
		}
		if keep < 0 {
			keep = 0
		}
		if keep > len(runes) {
			keep = len(runes)
		}
		if fromLeft {
			b.Append(string(runes[:keep]))
		} else {
			b.Append(string(runes[len(runes)-keep:]))
		}
	}
	return b.NewArray(), nil
}

func evalPad(kernel string, args []arrow.Array, left bool) (arrow.Array, error) {
	if len(args) != 2 && len(args) != 3 {
		return nil, ErrWrongArity(kernel, 2, len(args))
	}
	str, err := asString(kernel, args[0])
	if err != nil {
		return nil, err
	}
	lengths, err := castInt64(args[1])
	if err != nil {
		return nil, err
	}
	defer lengths.Release()
	var fill *array.String
	if len(args) == 3 {
		fill, err = asString(kernel, args[2])
		if err != nil {
			return nil, err
		}
	}
	b := array.NewStringBuilder(memory.DefaultAllocator)
	defer b.Release()
	for i := 0; i < str.Len(); i++ {
		if str.IsNull(i) || lengths.IsNull(i) {
			b.AppendNull()
			continue
		}
		pad := " "
		if fill != nil && !fill.IsNull(i) {
			pad = fill.Value(i)
		}
		b.Append(padString(str.Value(i), int(lengths.Value(i)), pad, left))
	}
	return b.NewArray(), nil
}

func padString(s string, length int, fill string, left bool) string {
	runes := []rune(s)
	if length <= len(runes) {
		if length < 0 {
			length = 0
		}
		return string(runes[:length])
	}
	if fill == "" {
		return s
	}
	need := length - len(runes)
	padRunes := []rune(strings.Repeat(fill, need/len([]rune(fill))+1))[:need]
	if left {
		return string(padRunes) + s
	}
	return s + string(padRunes)
}

func evalRepeat(kernel string, args []arrow.Array) (arrow.Array, error) {
	if err := wantArity(kernel, args, 2); err != nil {
		return nil, err
	}
	str, err := asString(kernel, args[0])
	if err != nil {
		return nil, err
	}
	counts, err := castInt64(args[1])
	if err != nil {
		return nil, err
	}
	defer counts.Release()
	b := array.NewStringBuilder(memory.DefaultAllocator)
	defer b.Release()
	for i := 0; i < str.Len(); i++ {
		if str.IsNull(i) || counts.IsNull(i) {
			b.AppendNull()
			continue
		}
		n := counts.Value(i)
		if n < 0 {
			n = 0
		}
		b.Append(strings.Repeat(str.Value(i), int(n)))
	}
	return b.NewArray(), nil
}

func evalReplace(kernel string, args []arrow.Array) (arrow.Array, error) {
	if err := wantArity(kernel, args, 3); err != nil {
		return nil, err
	}
	str, err := asString(kernel, args[0])
	if err != nil {
		return nil, err
	}
	from, err := asString(kernel, args[1])
	if err != nil {
		return nil, err
	}
	to, err := asString(kernel, args[2])
	if err != nil {
		return nil, err
	}
	b := array.NewStringBuilder(memory.DefaultAllocator)
	defer b.Release()
	for i := 0; i < str.Len(); i++ {
		if str.IsNull(i) || from.IsNull(i) || to.IsNull(i) {
			b.AppendNull()
			continue
		}
		b.Append(strings.ReplaceAll(str.Value(i), from.Value(i), to.Value(i)))
	}
	return b.NewArray(), nil
}

func evalTranslate(kernel string, args []arrow.Array) (arrow.Array, error) {
	if err := wantArity(kernel, args, 3); err != nil {
		return nil, err
	}
	str, err := asString(kernel, args[0])
	if err != nil {
		return nil, err
	}
	from, err := asString(kernel, args[1])
	if err != nil {
		return nil, err
	}
	to, err := asString(kernel, args[2])
	if err != nil {
		return nil, err
	}
	b := array.NewStringBuilder(memory.DefaultAllocator)
	defer b.Release()
	for i := 0; i < str.Len(); i++ {
		if str.IsNull(i) || from.IsNull(i) || to.IsNull(i) {
			b.AppendNull()
			continue
		}
		b.Append(translateString(str.Value(i), from.Value(i), to.Value(i)))
	}
	return b.NewArray(), nil
}

func translateString(s, from, to string) string {
	fromRunes := []rune(from)
	toRunes := []rune(to)
	mapping := make(map[rune]rune, len(fromRunes))
	drop := make(map[rune]struct{})
	for i, r := range fromRunes {
		if i < len(toRunes) {
			mapping[r] = toRunes[i]
		} else {
			drop[r] = struct{}{}
		}
	}
	var b strings.Builder
	for _, r := range s {
		if _, gone := drop[r]; gone {
			continue
		}
		if repl, ok := mapping[r]; ok {
			b.WriteRune(repl)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func evalSplitPart(kernel string, args []arrow.Array) (arrow.Array, error) {
	if err := wantArity(kernel, args, 3); err != nil {
		return nil, err
	}
	str, err := asString(kernel, args[0])
	if err != nil {
		return nil, err
	}
	delim, err := asString(kernel, args[1])
	if err != nil {
		return nil, err
	}
	idx, err := castInt64(args[2])
	if err != nil {
		return nil, err
	}
	defer idx.Release()
	b := array.NewStringBuilder(memory.DefaultAllocator)
	defer b.Release()
	for i := 0; i < str.Len(); i++ {
		if str.IsNull(i) || delim.IsNull(i) || idx.IsNull(i) {
			b.AppendNull()
			continue
		}
		parts := strings.Split(str.Value(i), delim.Value(i))
		n := int(idx.Value(i)) // counting from one
		if n < 1 || n > len(parts) {
			b.Append("")
			continue
		}
		b.Append(parts[n-1])
	}
	return b.NewArray(), nil
}

func evalSubstr(kernel string, args []arrow.Array) (arrow.Array, error) {
	if len(args) != 2 && len(args) != 3 {
		return nil, ErrWrongArity(kernel, 2, len(args))
	}
	str, err := asString(kernel, args[0])
	if err != nil {
		return nil, err
	}
	start, err := castInt64(args[1])
	if err != nil {
		return nil, err
	}
	defer start.Release()
	var length *array.Int64
	if len(args) == 3 {
		length, err = castInt64(args[2])
		if err != nil {
			return nil, err
		}
		defer length.Release()
	}
	b := array.NewStringBuilder(memory.DefaultAllocator)
	defer b.Release()
	for i := 0; i < str.Len(); i++ {
		if str.IsNull(i) || start.IsNull(i) || (length != nil && length.IsNull(i)) {
			b.AppendNull()
			continue
		}
		runes := []rune(str.Value(i))
		from := int(start.Value(i)) - 1 // 1-based
		if from < 0 {
			from = 0
		}
		if from > len(runes) {
			from = len(runes)
		}
		end := len(runes)
		if length != nil {
			end = from + int(length.Value(i))
			if end < from {
				end = from
			}
			if end > len(runes) {
				end = len(runes)
			}
		}
		b.Append(string(runes[from:end]))
	}
	return b.NewArray(), nil
}

func evalToHex(kernel string, args []arrow.Array) (arrow.Array, error) {
	if err := wantArity(kernel, args, 1); err != nil {
		return nil, err
	}
	in, err := castInt64(args[0])
	if err != nil {
		return nil, err
	}
	defer in.Release()
	b := array.NewStringBuilder(memory.DefaultAllocator)
	defer b.Release()
	for i := 0; i < in.Len(); i++ {
		if in.IsNull(i) {
			b.AppendNull()
			continue
		}
		b.Append(strconv.FormatInt(in.Value(i), 16))
	}
	return b.NewArray(), nil
}

// evalConcat joins the text representation of every argument row-wise.
// NULL arguments are skipped, not propagated.
func evalConcat(args []arrow.Array, n int, sep string) (arrow.Array, error) {
	b := array.NewStringBuilder(memory.DefaultAllocator)
	defer b.Release()
	for i := 0; i < n; i++ {
		parts := make([]string, 0, len(args))
		for _, a := range args {
			if a.IsNull(i) {
				continue
			}
			parts = append(parts, a.ValueStr(i))
		}
		b.Append(strings.Join(parts, sep))
	}
	return b.NewArray(), nil
}

func evalConcatWS(kernel string, args []arrow.Array, n int) (arrow.Array, error) {
	if len(args) < 1 {
		return nil, ErrWrongArity(kernel, 1, len(args))
	}
	sepArr, err := asString(kernel, args[0])
	if err != nil {
		return nil, err
	}
	sep := ""
	if sepArr.Len() > 0 && !sepArr.IsNull(0) {
		sep = sepArr.Value(0)
	}
	return evalConcat(args[1:], n, sep)
}

func evalRegexpReplace(kernel string, args []arrow.Array) (arrow.Array, error) {
	if err := wantArity(kernel, args, 3); err != nil {
		return nil, err
	}
	str, err := asString(kernel, args[0])
	if err != nil {
		return nil, err
	}
	pattern, err := asString(kernel, args[1])
	if err != nil {
		return nil, err
	}
	repl, err := asString(kernel, args[2])
	if err != nil {
		return nil, err
	}
	b := array.NewStringBuilder(memory.DefaultAllocator)
	defer b.Release()
	for i := 0; i < str.Len(); i++ {
		if str.IsNull(i) || pattern.IsNull(i) || repl.IsNull(i) {
			b.AppendNull()
			continue
		}
		re, err := regexp.Compile(pattern.Value(i))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", kernel, err)
		}
		b.Append(re.ReplaceAllString(str.Value(i), repl.Value(i)))
	}
	return b.NewArray(), nil
}

func evalRegexpMatch(kernel string, args []arrow.Array) (arrow.Array, error) {
	if err := wantArity(kernel, args, 2); err != nil {
		return nil, err
	}
	str, err := asString(kernel, args[0])
	if err != nil {
		return nil, err
	}
	pattern, err := asString(kernel, args[1])
	if err != nil {
		return nil, err
	}
	b := array.NewStringBuilder(memory.DefaultAllocator)
	defer b.Release()
	for i := 0; i < str.Len(); i++ {
		if str.IsNull(i) || pattern.IsNull(i) {
			b.AppendNull()
			continue
		}
		re, err := regexp.Compile(pattern.Value(i))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", kernel, err)
		}
		m := re.FindString(str.Value(i))
		if m == "" && !re.MatchString(str.Value(i)) {
			b.AppendNull()
			continue
		}
		b.Append(m)
	}
	return b.NewArray(), nil
}

func evalFixedDigest(alg string, args []arrow.Array) (arrow.Array, error) {
	if err := wantArity(alg, args, 1); err != nil {
		return nil, err
	}
	str, err := asString(alg, args[0])
	if err != nil {
		return nil, err
	}
	b := array.NewBinaryBuilder(memory.DefaultAllocator, arrow.BinaryTypes.Binary)
	defer b.Release()
	for i := 0; i < str.Len(); i++ {
		if str.IsNull(i) {
			b.AppendNull()
			continue
		}
		sum, err := digestBytes(alg, []byte(str.Value(i)))
		if err != nil {
			return nil, err
		}
		b.Append(sum)
	}
	return b.NewArray(), nil
}

func evalDigest(kernel string, args []arrow.Array) (arrow.Array, error) {
	if err := wantArity(kernel, args, 2); err != nil {
		return nil, err
	}
	str, err := asString(kernel, args[0])
	if err != nil {
		return nil, err
	}
	methods, err := asString(kernel, args[1])
	if err != nil {
		return nil, err
	}
	b := array.NewBinaryBuilder(memory.DefaultAllocator, arrow.BinaryTypes.Binary)
	defer b.Release()
	for i := 0; i < str.Len(); i++ {
		if str.IsNull(i) || methods.IsNull(i) {
			b.AppendNull()
			continue
		}
		sum, err := digestBytes(methods.Value(i), []byte(str.Value(i)))
		if err != nil {
			return nil, err
		}
		b.Append(sum)
	}
	return b.NewArray(), nil
}

func digestBytes(alg string, data []byte) ([]byte, error) {
	switch alg {
	case "md5":
		sum := md5.Sum(data)
		return sum[:], nil
	case "sha224":
		sum := sha256.Sum224(data)
		return sum[:], nil
	case "sha256":
		sum := sha256.Sum256(data)
		return sum[:], nil
	case "sha384":
		sum := sha512.Sum384(data)
		return sum[:], nil
	case "sha512":
		sum := sha512.Sum512(data)
		return sum[:], nil
	case "blake2s":
		sum := blake2s.Sum256(data)
		return sum[:], nil
	case "blake2b":
		sum := blake2b.Sum512(data)
		return sum[:], nil
	case "blake3":
		sum := blake3.Sum256(data)
		return sum[:], nil
	default:
		return nil, ErrUnknownDigestAlgorithm(alg)
	}
}

func constantTimestamp(n int, ns int64) (arrow.Array, error) {
	b := array.NewTimestampBuilder(memory.DefaultAllocator, arrow.FixedWidthTypes.Timestamp_ns.(*arrow.TimestampType))
	defer b.Release()
	for i := 0; i < n; i++ {
		b.Append(arrow.Timestamp(ns))
	}
	return b.NewArray(), nil
}

func constantDate(n int, t time.Time) (arrow.Array, error) {
	b := array.NewDate32Builder(memory.DefaultAllocator)
	defer b.Release()
	days := int32(t.UTC().Unix() / 86400)
	for i := 0; i < n; i++ {
		b.Append(arrow.Date32(days))
	}
	return b.NewArray(), nil
}

func constantTime(n int, t time.Time) (arrow.Array, error) {
	b := array.NewTime64Builder(memory.DefaultAllocator, arrow.FixedWidthTypes.Time64ns.(*arrow.Time64Type))
	defer b.Release()
	u := t.UTC()
	ns := int64(u.Hour())*3600*1e9 + int64(u.Minute())*60*1e9 + int64(u.Second())*1e9 + int64(u.Nanosecond())
	for i := 0; i < n; i++ {
		b.Append(arrow.Time64(ns))
	}
	return b.NewArray(), nil
}

// evalToTimestamp accepts integer epochs in the given unit or RFC3339
// strings; output is always nanosecond timestamps.
func evalToTimestamp(kernel string, args []arrow.Array, unit time.Duration) (arrow.Array, error) {
	if err := wantArity(kernel, args, 1); err != nil {
		return nil, err
	}
	b := array.NewTimestampBuilder(memory.DefaultAllocator, arrow.FixedWidthTypes.Timestamp_ns.(*arrow.TimestampType))
	defer b.Release()
	if str, ok := args[0].(*array.String); ok {
		for i := 0; i < str.Len(); i++ {
			if str.IsNull(i) {
				b.AppendNull()
				continue
			}
			t, err := time.Parse(time.RFC3339, str.Value(i))
			if err != nil {
				return nil, fmt.Errorf("%s: %w", kernel, err)
			}
			b.Append(arrow.Timestamp(t.UnixNano()))
		}
		return b.NewArray(), nil
	}
	ints, err := castInt64(args[0])
	if err != nil {
		return nil, err
	}
	defer ints.Release()
	for i := 0; i < ints.Len(); i++ {
		if ints.IsNull(i) {
			b.AppendNull()
			continue
		}
		b.Append(arrow.Timestamp(ints.Value(i) * int64(unit)))
	}
	return b.NewArray(), nil
}

func timestampValues(kernel string, arr arrow.Array) (*array.Timestamp, error) {
	ts, ok := arr.(*array.Timestamp)
	if !ok {
		return nil, fmt.Errorf("%s expects a timestamp argument, got %s", kernel, arr.DataType())
	}
	return ts, nil
}

func evalDatePart(kernel string, args []arrow.Array) (arrow.Array, error) {
	if err := wantArity(kernel, args, 2); err != nil {
		return nil, err
	}
	part, err := asString(kernel, args[0])
	if err != nil {
		return nil, err
	}
	ts, err := timestampValues(kernel, args[1])
	if err != nil {
		return nil, err
	}
	b := array.NewFloat64Builder(memory.DefaultAllocator)
	defer b.Release()
	for i := 0; i < ts.Len(); i++ {
		if ts.IsNull(i) || part.IsNull(i) {
			b.AppendNull()
			continue
		}
		t := time.Unix(0, int64(ts.Value(i))).UTC()
		v, err := extractDatePart(part.Value(i), t)
		if err != nil {
			return nil, err
		}
		b.Append(v)
	}
	return b.NewArray(), nil
}

func extractDatePart(part string, t time.Time) (float64, error) {
	switch strings.ToLower(part) {
	case "year":
		return float64(t.Year()), nil
	case "month":
		return float64(t.Month()), nil
	case "day":
		return float64(t.Day()), nil
	case "hour":
		return float64(t.Hour()), nil
	case "minute":
		return float64(t.Minute()), nil
	case "second":
		return float64(t.Second()), nil
	case "dow":
		return float64(t.Weekday()), nil
	case "doy":
		return float64(t.YearDay()), nil
	case "week":
		_, week := t.ISOWeek()
		return float64(week), nil
	default:
		return 0, fmt.Errorf("date_part: unsupported field %q", part)
	}
}

func evalDateTrunc(kernel string, args []arrow.Array) (arrow.Array, error) {
	if err := wantArity(kernel, args, 2); err != nil {
		return nil, err
	}
	part, err := asString(kernel, args[0])
	if err != nil {
		return nil, err
	}
	ts, err := timestampValues(kernel, args[1])
	if err != nil {
		return nil, err
	}
	b := array.NewTimestampBuilder(memory.DefaultAllocator, arrow.FixedWidthTypes.Timestamp_ns.(*arrow.TimestampType))
	defer b.Release()
	for i := 0; i < ts.Len(); i++ {
		if ts.IsNull(i) || part.IsNull(i) {
			b.AppendNull()
			continue
		}
		t := time.Unix(0, int64(ts.Value(i))).UTC()
		truncated, err := truncateDate(part.Value(i), t)
		if err != nil {
			return nil, err
		}
		b.Append(arrow.Timestamp(truncated.UnixNano()))
	}
	return b.NewArray(), nil
}

func truncateDate(part string, t time.Time) (time.Time, error) {
	switch strings.ToLower(part) {
	case "year":
		return time.Date(t.Year(), 1, 1, 0, 0, 0, 0, time.UTC), nil
	case "month":
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC), nil
	case "day":
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
	case "hour":
		return t.Truncate(time.Hour), nil
	case "minute":
		return t.Truncate(time.Minute), nil
	case "second":
		return t.Truncate(time.Second), nil
	default:
		return time.Time{}, fmt.Errorf("date_trunc: unsupported field %q", part)
	}
}

func evalCoalesce(kernel string, args []arrow.Array, n int) (arrow.Array, error) {
	if len(args) == 0 {
		return nil, ErrWrongArity(kernel, 1, 0)
	}
	b := array.NewBuilder(memory.DefaultAllocator, args[0].DataType())
	defer b.Release()
	for i := 0; i < n; i++ {
		appended := false
		for _, a := range args {
			if a.IsNull(i) {
				continue
			}
			if err := copyValue(b, a, i); err != nil {
				return nil, err
			}
			appended = true
			break
		}
		if !appended {
			b.AppendNull()
		}
	}
	return b.NewArray(), nil
}

func evalNullIf(kernel string, args []arrow.Array) (arrow.Array, error) {
	if err := wantArity(kernel, args, 2); err != nil {
		return nil, err
	}
	a, other := args[0], args[1]
	b := array.NewBuilder(memory.DefaultAllocator, a.DataType())
	defer b.Release()
	for i := 0; i < a.Len(); i++ {
		if a.IsNull(i) {
			b.AppendNull()
			continue
		}
		if !other.IsNull(i) && a.ValueStr(i) == other.ValueStr(i) {
			b.AppendNull()
			continue
		}
		if err := copyValue(b, a, i); err != nil {
			return nil, err
		}
	}
	return b.NewArray(), nil
}

// copyValue appends row i of arr onto a builder of the same type.
func copyValue(b array.Builder, arr arrow.Array, i int) error {
	switch src := arr.(type) {
	case *array.Boolean:
		b.(*array.BooleanBuilder).Append(src.Value(i))
	case *array.Int8:
		b.(*array.Int8Builder).Append(src.Value(i))
	case *array.Int16:
		b.(*array.Int16Builder).Append(src.Value(i))
	case *array.Int32:
		b.(*array.Int32Builder).Append(src.Value(i))
	case *array.Int64:
		b.(*array.Int64Builder).Append(src.Value(i))
	case *array.Uint8:
		b.(*array.Uint8Builder).Append(src.Value(i))
	case *array.Uint16:
		b.(*array.Uint16Builder).Append(src.Value(i))
	case *array.Uint32:
		b.(*array.Uint32Builder).Append(src.Value(i))
	case *array.Uint64:
		b.(*array.Uint64Builder).Append(src.Value(i))
	case *array.Float32:
		b.(*array.Float32Builder).Append(src.Value(i))
	case *array.Float64:
		b.(*array.Float64Builder).Append(src.Value(i))
	case *array.String:
		b.(*array.StringBuilder).Append(src.Value(i))
	case *array.Binary:
		b.(*array.BinaryBuilder).Append(src.Value(i))
	case *array.Timestamp:
		b.(*array.TimestampBuilder).Append(src.Value(i))
	default:
		return fmt.Errorf("cannot copy value of type %s", arr.DataType())
	}
	return nil
}

// Package hashing computes content hashes over nested configuration
// documents. Provider APIs return maps and lists in arbitrary order, so
// every document is canonicalized before hashing: map keys are sorted and
// list elements are sorted by a total order over mixed primitive types.
package hashing

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Canonicalize returns a deterministic serialized form of v. Two documents
// that differ only in map key order or list element order canonicalize to
// identical bytes.
func Canonicalize(v any) []byte {
	var sb strings.Builder
	writeCanonical(&sb, v)
	return []byte(sb.String())
}

// CompleteHash returns the sha256 hex digest of the canonicalized document.
func CompleteHash(doc any) string {
	sum := sha256.Sum256(Canonicalize(doc))
	return hex.EncodeToString(sum[:])
}

// DurableHash returns the complete hash of the document with every
// configured ephemeral path removed. The input document is not modified.
func DurableHash(doc map[string]any, paths []Path) string {
	durable := DeepCopy(doc).(map[string]any)
	for _, p := range paths {
		p.Delete(durable)
	}
	return CompleteHash(durable)
}

// DeepCopy clones a document tree of maps, slices and primitives.
func DeepCopy(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, e := range val {
			out[k] = DeepCopy(e)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = DeepCopy(e)
		}
		return out
	default:
		return v
	}
}

func writeCanonical(sb *strings.Builder, v any) {
	switch val := v.(type) {
	case nil:
		sb.WriteString("null")
	case bool:
		sb.WriteString(strconv.FormatBool(val))
	case string:
		sb.WriteByte('"')
		sb.WriteString(norm.NFC.String(val))
		sb.WriteByte('"')
	case int:
		sb.WriteString(strconv.FormatInt(int64(val), 10))
	case int64:
		sb.WriteString(strconv.FormatInt(val, 10))
	case float64:
		writeFloat(sb, val)
	case float32:
		writeFloat(sb, float64(val))
	case []any:
		sorted := sortedList(val)
		sb.WriteByte('[')
		for i, e := range sorted {
			if i > 0 {
				sb.WriteByte(',')
			}
			writeCanonical(sb, e)
		}
		sb.WriteByte(']')
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sb.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				sb.WriteByte(',')
			}
			sb.WriteByte('"')
			sb.WriteString(norm.NFC.String(k))
			sb.WriteString(`":`)
			writeCanonical(sb, val[k])
		}
		sb.WriteByte('}')
	default:
		// Unknown types fall back to their fmt representation.
		sb.WriteString(fmt.Sprintf("%v", val))
	}
}

func writeFloat(sb *strings.Builder, f float64) {
	// Whole-valued floats serialize as integers so that a provider
	// flip-flopping between 5 and 5.0 does not register as a change.
	// Only within exact-integer range: past 2^53 the int64 conversion
	// would collapse distinct values onto one serialization.
	if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		sb.WriteString(strconv.FormatInt(int64(f), 10))
		return
	}
	sb.WriteString(strconv.FormatFloat(f, 'g', -1, 64))
}

// sortedList returns a copy of the list ordered by a total order over mixed
// element types: type rank first, then canonical form within the rank.
func sortedList(in []any) []any {
	out := make([]any, len(in))
	copy(out, in)
	sort.SliceStable(out, func(i, j int) bool {
		ri, rj := typeRank(out[i]), typeRank(out[j])
		if ri != rj {
			return ri < rj
		}
		return string(Canonicalize(out[i])) < string(Canonicalize(out[j]))
	})
	return out
}

func typeRank(v any) int {
	switch v.(type) {
	case nil:
		return 0
	case bool:
		return 1
	case int, int64, float32, float64:
		return 2
	case string:
		return 3
	case []any:
		return 4
	case map[string]any:
		return 5
	default:
		return 6
	}
}

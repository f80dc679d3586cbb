package models

import "strings"

// Order keys are non-empty strings of lowercase ASCII letters. Siblings in
// one table sort lexicographically by key, and a new key can always be
// interpolated between two neighbors without renumbering the rest, so a
// row move touches exactly one row.

const (
	orderKeyFirst = 'a'
	orderKeyLast  = 'z'
)

// alphabetMidpoint is the single character halfway between 'a' and 'z'.
const alphabetMidpoint = byte('n')

// ValidateOrderKey reports whether s is a well-formed order key.
func ValidateOrderKey(s string) error {
	if s == "" {
		return orderKeyError("empty order key")
	}
	for i := 0; i < len(s); i++ {
		if s[i] < orderKeyFirst || s[i] > orderKeyLast {
			return orderKeyError("order key %q contains %q", s, s[i])
		}
	}
	return nil
}

// OrderKeyMidpoint returns a key strictly between the two bounds. A nil
// lower bound means the beginning of the alphabet, a nil upper bound the
// end. Equal, out-of-order or empty bounds indicate corrupted sibling
// keys and fail with ErrorOrderKey.
func OrderKeyMidpoint(lower *string, upper *string) (string, error) {
	if lower == nil && upper == nil {
		return string(alphabetMidpoint), nil
	}
	lo := ""
	hi := ""
	if lower != nil {
		if err := ValidateOrderKey(*lower); err != nil {
			return "", err
		}
		lo = *lower
	}
	if upper != nil {
		if err := ValidateOrderKey(*upper); err != nil {
			return "", err
		}
		hi = *upper
	}
	if lower == nil {
		lo = string(orderKeyFirst)
	}
	if upper == nil {
		hi = string(orderKeyLast)
		// "z" itself is a legal key, so a missing upper bound must sit
		// above every real key; extend until it does.
		for strings.HasPrefix(lo, hi) {
			hi += string(orderKeyLast)
		}
	}
	if lo == hi {
		return "", orderKeyError("equal bounds %q", lo)
	}
	if lo > hi {
		return "", orderKeyError("bounds out of order (%q >= %q)", lo, hi)
	}

	result, err := orderKeyBetween(lo, hi)
	if err != nil {
		return "", err
	}
	// postcondition: never equal to either bound
	if err := ValidateOrderKey(result); err != nil {
		return "", err
	}
	if result <= lo || result >= hi {
		return "", orderKeyError("midpoint %q not strictly inside (%q, %q)", result, lo, hi)
	}
	return result, nil
}

func orderKeyBetween(lower string, upper string) (string, error) {
	// copy the shared prefix
	i := 0
	for i < len(lower) && i < len(upper) && lower[i] == upper[i] {
		i++
	}
	base := lower[:i]

	if i >= len(upper) {
		// upper is a proper prefix of lower, so upper < lower
		return "", orderKeyError("bounds out of order (%q >= %q)", lower, upper)
	}
	hiChar := upper[i]

	// Case A: lower is exhausted and the differing character of upper is
	// near the bottom of the alphabet, so there is no room strictly below
	// it at this position. Descend along upper instead.
	if i >= len(lower) && (hiChar == 'a' || hiChar == 'b') {
		var sb strings.Builder
		sb.WriteString(base)
		j := i
		for j < len(upper) && (upper[j] == 'a' || upper[j] == 'b') {
			sb.WriteByte(upper[j])
			j++
		}
		if j < len(upper) {
			sb.WriteByte(upper[j])
		}
		out := []byte(sb.String())
		last := out[len(out)-1]
		out[len(out)-1] = midChar(orderKeyFirst, last, false)
		if c := out[len(out)-1]; c == 'a' || c == 'b' {
			out = append(out, alphabetMidpoint)
		}
		return string(out), nil
	}

	// lower exhausted at the differing position reads as 'a'
	loChar := byte(orderKeyFirst)
	if i < len(lower) {
		loChar = lower[i]
	}

	// Case B: consecutive characters leave no room at this position;
	// descend along the tail of lower.
	if loChar+1 == hiChar {
		var sb strings.Builder
		sb.WriteString(base)
		sb.WriteByte(loChar)
		j := i + 1
		for j < len(lower) && lower[j] == orderKeyLast {
			sb.WriteByte(orderKeyLast)
			j++
		}
		if j < len(lower) {
			sb.WriteByte(midChar(lower[j], orderKeyLast, true))
		} else {
			sb.WriteByte(alphabetMidpoint)
		}
		return sb.String(), nil
	}

	// Case C: room exists at the differing position.
	return base + string(midChar(loChar, hiChar, true)), nil
}

// midChar returns the character halfway between lo and hi, rounding up
// when ceil is set and down otherwise.
func midChar(lo byte, hi byte, ceil bool) byte {
	sum := int(lo-orderKeyFirst) + int(hi-orderKeyFirst)
	if ceil {
		return orderKeyFirst + byte((sum+1)/2)
	}
	return orderKeyFirst + byte(sum/2)
}

// OrderKeysAfter returns n keys, each strictly greater than the previous,
// all strictly greater than last. A nil last starts at the alphabet
// midpoint.
func OrderKeysAfter(n int, last *string) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}
	keys := make([]string, 0, n)
	prev := last
	for len(keys) < n {
		var key string
		var err error
		if prev == nil {
			key = string(alphabetMidpoint)
		} else {
			key, err = OrderKeyMidpoint(prev, nil)
			if err != nil {
				return nil, err
			}
		}
		keys = append(keys, key)
		prev = &keys[len(keys)-1]
	}
	return keys, nil
}

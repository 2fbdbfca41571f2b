// Package natord orders strings the way people expect file names to be
// ordered: embedded digit runs compare by numeric value, so "page2" sorts
// before "page10".
package natord

import (
	"slices"
	"strings"
)

// Compare returns -1, 0 or +1 depending on whether a sorts before, equal to,
// or after b in natural order.
//
// Outside digit runs bytes are compared as-is (no case folding). Digit runs
// are compared by value without parsing, so runs of any length work. When two
// names differ only in leading zeros the one with fewer zeros sorts first,
// which keeps the order total: Compare(a, b) == 0 only if a == b.
func Compare(a, b string) int {
	i, j := 0, 0
	zeros := 0
	for i < len(a) && j < len(b) {
		ca, cb := a[i], b[j]
		if isDigit(ca) && isDigit(cb) {
			ei := digitRunEnd(a, i)
			ej := digitRunEnd(b, j)
			na, za := trimZeros(a[i:ei])
			nb, zb := trimZeros(b[j:ej])
			if len(na) != len(nb) {
				return sign(len(na) - len(nb))
			}
			if c := strings.Compare(na, nb); c != 0 {
				return c
			}
			if zeros == 0 && za != zb {
				zeros = sign(za - zb)
			}
			i, j = ei, ej
			continue
		}
		if ca != cb {
			if ca < cb {
				return -1
			}
			return 1
		}
		i++
		j++
	}
	switch {
	case i < len(a):
		return 1
	case j < len(b):
		return -1
	}
	if zeros != 0 {
		return zeros
	}
	return strings.Compare(a, b)
}

// Sort sorts s in natural order.
func Sort(s []string) {
	slices.SortStableFunc(s, Compare)
}

// SortFunc sorts s in natural order of key(elem). Elements with equal keys
// keep their original relative position.
func SortFunc[T any](s []T, key func(T) string) {
	slices.SortStableFunc(s, func(x, y T) int {
		return Compare(key(x), key(y))
	})
}

func isDigit(c byte) bool { return '0' <= c && c <= '9' }

func digitRunEnd(s string, i int) int {
	for i < len(s) && isDigit(s[i]) {
		i++
	}
	return i
}

// trimZeros strips leading zeros from a digit run and reports how many were
// removed. A run of only zeros keeps its last digit.
func trimZeros(run string) (string, int) {
	n := 0
	for n < len(run)-1 && run[n] == '0' {
		n++
	}
	return run[n:], n
}

func sign(n int) int {
	switch {
	case n < 0:
		return -1
	case n > 0:
		return 1
	}
	return 0
}

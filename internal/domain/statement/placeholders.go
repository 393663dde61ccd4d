package statement

import (
	"fmt"
	"regexp"
	"strconv"
)

var placeholderRe = regexp.MustCompile(`\$(\d+)`)

// countPlaceholders returns the number of distinct positional parameters in
// body. Positions must run from $1 without gaps.
func countPlaceholders(body string) (int, error) {
	seen := make(map[int]bool)
	highest := 0
	for _, m := range placeholderRe.FindAllStringSubmatch(body, -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil || n == 0 {
			return 0, fmt.Errorf("%w: invalid placeholder $%s", ErrPlaceholderMismatch, m[1])
		}
		seen[n] = true
		if n > highest {
			highest = n
		}
	}
	if len(seen) != highest {
		return 0, fmt.Errorf("%w: placeholders are not contiguous up to $%d", ErrPlaceholderMismatch, highest)
	}
	return highest, nil
}

// CheckBinding verifies that body takes exactly len(bound) parameters.
func CheckBinding(body string, bound []any) error {
	n, err := countPlaceholders(body)
	if err != nil {
		return err
	}
	if n != len(bound) {
		return fmt.Errorf("%w: body has %d, bound %d", ErrPlaceholderMismatch, n, len(bound))
	}
	return nil
}

package statement

import (
	libinjection "github.com/corazawaf/libinjection-go"
)

// ScreenParameters returns the positions of bound string values that look
// like SQL injection. Values are always bound, never spliced, so a hit is
// only worth recording.
func ScreenParameters(bound []any) []int {
	var suspect []int
	for i, v := range bound {
		s, ok := v.(string)
		if !ok || s == "" {
			continue
		}
		if isSQLi, _ := libinjection.IsSQLi(s); isSQLi {
			suspect = append(suspect, i)
		}
	}
	return suspect
}

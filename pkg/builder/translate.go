package builder

import "strings"

// TranslatePath rewrites forward slashes to backslashes for Windows and
// returns token unchanged for every other family.
func TranslatePath(token string, os OSFamily) string {
	if os != Windows {
		return token
	}
	return strings.ReplaceAll(token, "/", `\`)
}

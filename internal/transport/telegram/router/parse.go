package router

import (
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
)

// newReqID returns 12 hex chars of a random UUID for log correlation.
func newReqID() string {
	id := uuid.New()
	return hex.EncodeToString(id[:6])
}

// tokenizeCommandLine splits on whitespace. Single or double quotes group
// words and a backslash escapes the next rune:
//
//	/pagado "981001"
//	/folios --status=PENDIENTE
func tokenizeCommandLine(s string) []string {
	var (
		out     []string
		cur     []rune
		started bool
		quote   rune
		escaped bool
	)
	for _, r := range s {
		switch {
		case escaped:
			cur, escaped = append(cur, r), false
		case r == '\\':
			escaped, started = true, true
		case quote != 0 && r == quote:
			quote = 0
		case quote != 0:
			cur = append(cur, r)
		case r == '"' || r == '\'':
			quote, started = r, true
		case r == ' ' || r == '\t' || r == '\n' || r == '\r':
			if started && len(cur) > 0 {
				out = append(out, string(cur))
			}
			cur, started = cur[:0], false
		default:
			cur, started = append(cur, r), true
		}
	}
	if len(cur) > 0 {
		out = append(out, string(cur))
	}
	return out
}

// parseFlags separates positionals from flags. Accepted forms are --k=v,
// --k v, --k, -k=v, -k v, -k and -abc (bools a, b and c). A flag followed
// by another dash token is a bool.
func parseFlags(args []string) (pos []string, flags map[string]string, bools map[string]bool) {
	flags = map[string]string{}
	bools = map[string]bool{}
	for i := 0; i < len(args); i++ {
		a := args[i]
		long := strings.HasPrefix(a, "--")
		key := strings.TrimLeft(a, "-")
		if key == "" || key == a {
			pos = append(pos, a)
			continue
		}
		if k, v, ok := strings.Cut(key, "="); ok {
			flags[k] = v
			continue
		}
		if !long && len(key) > 1 {
			for _, r := range key {
				bools[string(r)] = true
			}
			continue
		}
		if i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
			flags[key] = args[i+1]
			i++
			continue
		}
		bools[key] = true
	}
	return pos, flags, bools
}

package database

import (
	"regexp"
	"strconv"
	"strings"
)

// The rewrite is textual. A '?' inside a string literal, or a backtick inside
// a quoted identifier, is rewritten too; callers must not rely on either.

var (
	backtickIdent = regexp.MustCompile("`([^`]*)`")
	typedAutoInc  = regexp.MustCompile(`(?i)\b(BIG)?INT(?:EGER)?(?:\(\d+\))?(?:\s+UNSIGNED)?((?:\s+NOT\s+NULL)?)\s+AUTO_INCREMENT\b`)
	bareAutoInc   = regexp.MustCompile(`(?i)\bAUTO_INCREMENT\b`)
)

var functionRewrites = []struct {
	re   *regexp.Regexp
	repl string
}{
	{regexp.MustCompile(`(?i)\bUNIX_TIMESTAMP\(\s*\)`), "EXTRACT(EPOCH FROM CURRENT_TIMESTAMP)::BIGINT"},
	{regexp.MustCompile(`(?i)\bNOW\(\s*\)`), "CURRENT_TIMESTAMP"},
	{regexp.MustCompile(`(?i)\bCURDATE\(\s*\)`), "CURRENT_DATE"},
	{regexp.MustCompile(`(?i)\bCURTIME\(\s*\)`), "CURRENT_TIME"},
	{regexp.MustCompile(`(?i)\bUUID\(\s*\)`), "gen_random_uuid()"},
}

func toPostgres(query string) string {
	out := numberPlaceholders(query)
	out = backtickIdent.ReplaceAllString(out, `"$1"`)
	out = typedAutoInc.ReplaceAllStringFunc(out, func(m string) string {
		sub := typedAutoInc.FindStringSubmatch(m)
		typ := "SERIAL"
		if sub[1] != "" {
			typ = "BIGSERIAL"
		}
		return typ + sub[2]
	})
	out = bareAutoInc.ReplaceAllString(out, "SERIAL")
	for _, fr := range functionRewrites {
		out = fr.re.ReplaceAllString(out, fr.repl)
	}
	return out
}

// numberPlaceholders replaces the nth '?' with $n, counting from 1 per call.
func numberPlaceholders(query string) string {
	if !strings.Contains(query, "?") {
		return query
	}
	var (
		b strings.Builder
		n int
	)
	b.Grow(len(query) + 8)
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// normalize collapses whitespace for log output.
func normalize(query string) string {
	return strings.Join(strings.Fields(query), " ")
}

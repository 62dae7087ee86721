package rewrite

import (
	"regexp"
	"sync"
)

const (
	// white space as Unicode defines it, not just ASCII
	spaceClass = `[\t\n\v\f\r \x{85}\p{Z}]`
	wordClass  = `[\p{L}\p{M}\p{N}\p{Pc}]`
)

// capture is one prefix+name occurrence found in a message.
type capture struct {
	space  string // white space run before the prefix, empty at start of text
	prefix string
	name   string
	local  bool
}

func (c capture) literal() string {
	return c.space + c.prefix + c.name
}

var patterns sync.Map // "local\x00remote" -> *regexp.Regexp

// pattern compiles (once per prefix pair) the combined scanner. Empty
// prefixes are left out; the longer prefix is tried first so that a prefix
// which starts another one cannot shadow it.
func pattern(local, remote string) *regexp.Regexp {
	key := local + "\x00" + remote
	if re, ok := patterns.Load(key); ok {
		return re.(*regexp.Regexp)
	}
	var alts []string
	switch {
	case local == "":
		alts = []string{remote}
	case remote == "" || remote == local:
		alts = []string{local}
	case len(remote) > len(local):
		alts = []string{remote, local}
	default:
		alts = []string{local, remote}
	}
	expr := `(^|` + spaceClass + `+)(`
	for i, p := range alts {
		if i > 0 {
			expr += "|"
		}
		expr += regexp.QuoteMeta(p)
	}
	expr += `)(` + wordClass + `+)`
	re, _ := patterns.LoadOrStore(key, regexp.MustCompile(expr))
	return re.(*regexp.Regexp)
}

// tokenize splits content into the literal segments around every capture.
// len(segments) is always len(captures)+1.
func tokenize(content, local, remote string) (segments []string, captures []capture) {
	if local == "" && remote == "" {
		return []string{content}, nil
	}
	last := 0
	for _, m := range pattern(local, remote).FindAllStringSubmatchIndex(content, -1) {
		segments = append(segments, content[last:m[0]])
		prefix := content[m[4]:m[5]]
		captures = append(captures, capture{
			space:  content[m[2]:m[3]],
			prefix: prefix,
			name:   content[m[6]:m[7]],
			local:  local != "" && prefix == local,
		})
		last = m[1]
	}
	segments = append(segments, content[last:])
	return segments, captures
}

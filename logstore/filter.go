package logstore

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Filter selects entries for retrieval. An entry passes only when it matches
// every set field. Stderr entries never match a tool filter because they are
// not attributable to a tool.
type Filter struct {
	Tool    string
	Kind    Kind
	Keyword string
}

// IsZero reports whether no filter fields are set.
func (f Filter) IsZero() bool {
	return f.Tool == "" && f.Kind == "" && f.Keyword == ""
}

func (f Filter) matches(e Entry) bool {
	if f.Tool != "" {
		if e.Kind == KindStderr || e.Tool != f.Tool {
			return false
		}
	}
	if f.Kind != "" && e.Kind != f.Kind {
		return false
	}
	if f.Keyword != "" && !matchKeyword(f.Keyword, e) {
		return false
	}
	return true
}

// matchKeyword treats the keyword as a regular expression over the entry's
// serialized form, falling back to literal substring search when the pattern
// does not compile.
func matchKeyword(keyword string, e Entry) bool {
	data, err := json.Marshal(e)
	if err != nil {
		return false
	}
	body := string(data)

	re, err := regexp.Compile(keyword)
	if err != nil {
		return strings.Contains(body, keyword)
	}
	return re.MatchString(body)
}

package kiln

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/ghetzel/go-stockutil/log"
	"github.com/ghetzel/go-stockutil/stringutil"
)

// A FilterCondition is one "method condition" rule of a filter line, e.g.
// "get is starts path_url /private" or "all always".
type FilterCondition struct {
	Method   string
	Always   bool
	Negate   bool
	Function string
	Variable string
	Pattern  string
	invalid  bool
}

// A FilterRule is one line of a "flt" section: conditions joined by [+], all of which must
// hold, followed by "> target".
type FilterRule struct {
	Conditions []*FilterCondition
	Target     string
}

// ParseFilterRule parses "condition [+] condition ... > target".
func ParseFilterRule(line string) *FilterRule {
	var rule = new(FilterRule)

	line, rule.Target = stringutil.SplitPairTrimSpace(line, `>`)

	for _, part := range strings.Split(line, `[+]`) {
		var words = strings.Fields(strings.ToLower(part))

		// tolerates empty conditions between separators
		if len(words) < 2 {
			continue
		}

		var condition = &FilterCondition{
			Method: words[0],
		}

		switch words[1] {
		case `always`:
			condition.Always = true
		case `is`, `not`:
			condition.Negate = (words[1] == `not`)

			if len(words) < 4 {
				condition.invalid = true
			} else {
				condition.Function = words[2]
				condition.Variable = words[3]

				if len(words) > 4 {
					condition.Pattern = words[4]
				}
			}
		default:
			condition.invalid = true
		}

		rule.Conditions = append(rule.Conditions, condition)
	}

	return rule
}

// Matches evaluates the condition against the request method and environment. A value is
// compared both as it is and URL/UTF-8 decoded.
func (self *FilterCondition) Matches(method string, env *Section) bool {
	if self.invalid {
		return false
	} else if self.Method != `` && self.Method != `all` && self.Method != strings.ToLower(method) {
		return false
	} else if self.Always {
		return true
	}

	var raw = strings.ToLower(env.Get(self.Variable))
	var decoded = DecodeText(raw)
	var result bool

	switch self.Function {
	case `starts`:
		result = strings.HasPrefix(raw, self.Pattern) || strings.HasPrefix(decoded, self.Pattern)
	case `contains`:
		result = strings.Contains(raw, self.Pattern) || strings.Contains(decoded, self.Pattern)
	case `equals`:
		result = raw == self.Pattern || decoded == self.Pattern
	case `ends`:
		result = strings.HasSuffix(raw, self.Pattern) || strings.HasSuffix(decoded, self.Pattern)
	case `match`:
		if rx, err := regexp.Compile(`^(?:` + self.Pattern + `)$`); err == nil {
			result = rx.MatchString(raw) || rx.MatchString(decoded)
		} else {
			log.Warningf("bad filter pattern %q: %v", self.Pattern, err)
			return false
		}
	case `empty`:
		result = (raw == ``)
	default:
		return true
	}

	return result != self.Negate
}

// Matches reports whether every condition holds, stopping at the first that does not.
func (self *FilterRule) Matches(method string, env *Section) bool {
	if len(self.Conditions) == 0 {
		return false
	}

	for _, condition := range self.Conditions {
		if !condition.Matches(method, env) {
			return false
		} else if condition.Always {
			return true
		}
	}

	return true
}

// filter applies the filter rules of the request in order and returns the resource the
// request continues with. A matching rule redirects ([R]), hands the request to a module
// filter ([M]), swaps the resource for an existing file, or forbids the request.
func (self *Worker) filter(req *Request) string {
	if req.Status == http.StatusBadRequest || req.Status >= 500 {
		return req.Resource
	}

	var method = req.Environment.Get(`request_method`)

	for _, line := range req.filters.Values() {
		var rule = ParseFilterRule(line)

		if !rule.Matches(method, req.Environment) {
			continue
		}

		var target = CleanOptions(rule.Target)

		if isModuleTarget(rule.Target) && target != `` {
			var control, status = req.Control, req.Status

			if err := self.server.instance.Modules.invoke(req, rule.Target, true); err != nil {
				log.Warningf("SERVER %s: filter %s: %v", self.server.Caption(), target, err)
				req.Status = StatusOf(err, http.StatusInternalServerError)
			}

			if req.Control != control || req.Status != status {
				return req.Resource
			}

			continue
		}

		if hasOption(rule.Target, `R`) && target != `` {
			req.Environment.Set(`script_uri`, target)
			req.Status = http.StatusFound
			return req.Resource
		}

		if target != `` && exists(target) {
			return canonicalPath(target)
		}

		req.Status = http.StatusForbidden
		return req.Resource
	}

	return req.Resource
}

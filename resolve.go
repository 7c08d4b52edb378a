package kiln

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/ghetzel/go-stockutil/stringutil"
)

var rxAccessOption = regexp.MustCompile(`(?i)\[\s*(acc|realm)\s*:([^\[\]]*?)\s*\]`)
var rxDigestOption = regexp.MustCompile(`(?i)\[\s*d\s*\]`)

// A ReferenceRule maps a URL prefix (the alias) onto a target. Options are the bracketed
// flags following the target: [A] absolute, [M] module, [R] redirect, [C] closed,
// [X] all methods, and any [acc:...], [realm:...] or [D] access annotation.
type ReferenceRule struct {
	Alias   string
	Target  string
	Options string
}

// ParseReferenceRule parses "alias > target [flags]" or "alias [flags]". Rules without an
// alias, forwarding rules without a target and rules carrying neither target nor flags are
// rejected.
func ParseReferenceRule(value string) (*ReferenceRule, bool) {
	var alias, rest string

	if strings.Contains(value, `>`) {
		alias, rest = stringutil.SplitPairTrimSpace(value, `>`)
	} else if i := strings.IndexAny(value, `[]`); i >= 0 {
		alias = strings.TrimSpace(value[:i])
		rest = strings.TrimSpace(value[i:])
	} else {
		return nil, false
	}

	var rule = &ReferenceRule{
		Alias:   NormalizePath(alias),
		Target:  CleanOptions(rest),
		Options: rest,
	}

	if rule.Alias == `` {
		return nil, false
	} else if rule.forward() && rule.Target == `` {
		return nil, false
	} else if rest == `` {
		return nil, false
	}

	if !strings.HasPrefix(rule.Alias, `/`) {
		rule.Alias = `/` + rule.Alias
	}

	return rule, true
}

func (self *ReferenceRule) IsModule() bool {
	return hasOption(self.Options, `M`)
}

// virtual rules match their alias as a plain prefix; all others match whole path segments
func (self *ReferenceRule) virtual() bool {
	return hasOption(self.Options, `A`) || self.IsModule()
}

func (self *ReferenceRule) forward() bool {
	return self.IsModule() || hasOption(self.Options, `R`)
}

// segment-terminated form of the alias used for prefix matching
func (self *ReferenceRule) buffer(virtual bool) string {
	var buffer = self.Alias

	if !virtual && !strings.HasSuffix(buffer, `/`) {
		buffer += `/`
	}

	return strings.ToLower(buffer)
}

// An AccessRule is the access annotation of a reference: the credential groups a client
// must belong to, the realm shown to it and whether Digest is required over Basic.
type AccessRule struct {
	Groups []string
	Realm  string
	Digest bool
}

// ParseAccessRule extracts the [acc:...], [realm:...] and [D] options of a rule. The result
// is nil when the rule carries no well-formed [acc:...] option.
func ParseAccessRule(options string) *AccessRule {
	var rule AccessRule
	var found bool

	for _, match := range rxAccessOption.FindAllStringSubmatch(options, -1) {
		switch strings.ToLower(match[1]) {
		case `acc`:
			found = true
			rule.Groups = append(rule.Groups, strings.Fields(strings.ToLower(match[2]))...)
		case `realm`:
			if rule.Realm == `` {
				rule.Realm = strings.TrimSpace(match[2])
			}
		}
	}

	if !found {
		return nil
	}

	rule.Digest = rxDigestOption.MatchString(options)

	return &rule
}

// A Resolution is the outcome of matching a request path against the reference rules.
type Resolution struct {
	// physical path, redirect URL or module descriptor
	Location string

	// alias of the rule that supplied the location, empty when none matched
	Reference string

	Options   string
	Absolute  bool
	Module    bool
	Redirect  bool
	Forbidden bool

	// set for absolute and module references, which split the path at the alias
	ScriptName string
	PathInfo   string

	// access annotation of the longest access-bearing rule, independent of Reference
	Access *AccessRule
}

func (self *Resolution) Virtual() bool {
	return self.Absolute || self.Module
}

func (self *Resolution) Forward() bool {
	return self.Module || self.Redirect
}

// AllMethods reports whether a module reference opted out of the methods allow-list.
func (self *Resolution) AllMethods() bool {
	return self.Module && hasOption(self.Options, `X`)
}

// A Resolver holds the reference rules of one (virtual) server in declaration order.
type Resolver struct {
	DocumentRoot string
	Rules        []*ReferenceRule
}

// NewResolver parses every value of the given "ref" section into a rule; invalid values
// are skipped.
func NewResolver(references *Section, docroot string) *Resolver {
	var resolver = &Resolver{
		DocumentRoot: strings.TrimSuffix(filepath.ToSlash(docroot), `/`),
	}

	for _, value := range references.Values() {
		if rule, ok := ParseReferenceRule(value); ok {
			resolver.Rules = append(resolver.Rules, rule)
		}
	}

	return resolver
}

// Resolve selects the rule with the longest matching alias (comparison is case-insensitive;
// of two aliases of equal length the later one wins) and maps path onto its target. Without
// a matching rule the path is mapped into the document root.
func (self *Resolver) Resolve(path string) *Resolution {
	path = strings.TrimSpace(strings.ReplaceAll(path, `\`, `/`))

	var locale = strings.ToLower(path)
	var result = new(Resolution)
	var winner *ReferenceRule
	var target string
	var matched int
	var shadowed = -1

	if !strings.HasSuffix(locale, `/`) {
		locale += `/`
	}

	for _, rule := range self.Rules {
		var virtual = rule.virtual()
		var buffer = rule.buffer(virtual)

		if strings.HasPrefix(locale, buffer) && len(buffer) >= matched {
			matched = len(buffer)
			winner = rule
			target = rule.Target

			if target == `` {
				target = self.DocumentRoot + rule.Alias
			}

			if !rule.forward() {
				target = physicalPath(target)
			}
		}

		if access := ParseAccessRule(rule.Options); access != nil {
			if strings.HasPrefix(locale, buffer) && len(buffer) >= shadowed {
				shadowed = len(buffer)
				result.Access = access
			}
		}
	}

	if winner == nil {
		result.Location = self.DocumentRoot + path
		return result
	}

	result.Reference = winner.Alias
	result.Options = winner.Options
	result.Module = winner.IsModule()
	result.Absolute = hasOption(winner.Options, `A`) && !result.Module
	result.Redirect = hasOption(winner.Options, `R`) && !result.Module
	result.Forbidden = hasOption(winner.Options, `C`)

	if result.Virtual() {
		var split = len(winner.Alias)

		if split > len(path) {
			split = len(path)
		}

		result.ScriptName = path[:split]
		result.PathInfo = path[split:]
	}

	switch {
	case result.Module:
		result.Location = winner.Options
	case result.Absolute:
		result.Location = target
	default:
		var rest string
		var alias = strings.TrimSuffix(winner.Alias, `/`)

		if len(alias) < len(path) {
			rest = path[len(alias):]
		}

		if strings.HasSuffix(target, `/`) {
			rest = strings.TrimPrefix(rest, `/`)
		}

		result.Location = target + rest
	}

	return result
}

// absolute form of a filesystem target; directories are slash-terminated
func physicalPath(target string) string {
	if abs, err := filepath.Abs(filepath.FromSlash(target)); err == nil {
		target = filepath.ToSlash(abs)

		if stat, err := os.Stat(abs); err == nil && stat.IsDir() && !strings.HasSuffix(target, `/`) {
			target += `/`
		}
	}

	return target
}

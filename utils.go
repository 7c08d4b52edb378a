package kiln

import (
	"strings"
	"sync"

	"github.com/ghetzel/go-stockutil/log"
	"github.com/gobwas/glob"
)

var globcache sync.Map

// Return whether the given host name matches a virtual host pattern, an extended glob as
// described at https://pkg.go.dev/github.com/gobwas/glob#Compile with "." as separator.
func IsGlobMatch(host string, pattern string) bool {
	var globber glob.Glob

	pattern = strings.ToLower(pattern)

	if v, ok := globcache.Load(pattern); ok && v != nil {
		globber = v.(glob.Glob)
	} else if g, err := glob.Compile(pattern, '.'); err == nil {
		globber = g
		globcache.Store(pattern, g)
	} else {
		log.Warningf("bad host pattern %q: %v", pattern, err)
		return false
	}

	return globber.Match(strings.ToLower(host))
}

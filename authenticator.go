package kiln

import (
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/ghetzel/go-stockutil/log"
	"github.com/ghetzel/go-stockutil/stringutil"
)

var rxDigestField = regexp.MustCompile(`(\w+)\s*=\s*(?:"(.*?)"|([^,]*))`)

// The Authenticator verifies Basic and Digest credentials against the credential groups of
// an "acc" section, where each key is a group name and each value a space-separated list
// of "user:password" entries.
type Authenticator struct {
	Access *Section
}

func NewAuthenticator(access *Section) *Authenticator {
	return &Authenticator{
		Access: access,
	}
}

// Scheme returns the authentication scheme the rule asks for.
func (self *AccessRule) Scheme() string {
	if self.Digest {
		return `Digest`
	} else {
		return `Basic`
	}
}

// Cancelled reports whether the rule lists the pseudo-group "none", which lifts any
// authentication for the paths it covers.
func (self *AccessRule) Cancelled() bool {
	for _, group := range self.Groups {
		if group == `none` {
			return true
		}
	}

	return false
}

// Credentials expands the groups of rule into the list of credentials they grant.
func (self *Authenticator) Credentials(rule *AccessRule) []string {
	var credentials []string

	for _, group := range rule.Groups {
		credentials = append(credentials, strings.Fields(self.Access.Get(group))...)
	}

	return credentials
}

// Authenticate verifies an Authorization header value for the given request method. It
// returns the authenticated user, or an empty user and no error when the rule does not
// require authentication at all. Any failure is a 401 status error.
func (self *Authenticator) Authenticate(rule *AccessRule, method string, authorization string) (string, error) {
	if rule == nil || rule.Cancelled() || len(rule.Groups) == 0 {
		return ``, nil
	}

	var credentials = self.Credentials(rule)

	if len(credentials) == 0 {
		return ``, ErrorCode(http.StatusUnauthorized, "no credentials for groups %v", rule.Groups)
	}

	var scheme, payload = stringutil.SplitPair(strings.TrimSpace(authorization), ` `)

	switch {
	case rule.Digest && strings.EqualFold(scheme, `digest`):
		var fields = ParseDigestFields(payload)
		var username = fields[`username`]

		for _, credential := range credentials {
			var password string

			if credential == username {
				password = ``
			} else if strings.HasPrefix(credential, username+`:`) {
				password = credential[len(username)+1:]
			} else {
				continue
			}

			var expected = DigestResponse(
				username,
				rule.Realm,
				password,
				method,
				fields[`uri`],
				fields[`nonce`],
				fields[`nc`],
				fields[`cnonce`],
				fields[`qop`],
			)

			if expected == fields[`response`] {
				return username, nil
			}
		}

	case !rule.Digest && strings.EqualFold(scheme, `basic`):
		if decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(payload)); err == nil {
			var pair = strings.TrimSpace(string(decoded))

			for _, credential := range credentials {
				if pair != `` && pair == credential {
					username, _ := stringutil.SplitPair(pair, `:`)
					return strings.TrimSpace(username), nil
				}
			}
		} else {
			log.Debugf("malformed basic authorization: %v", err)
		}
	}

	return ``, ErrorCode(http.StatusUnauthorized, "%s authentication failed", rule.Scheme())
}

// Challenge builds the WWW-Authenticate value for a 401 response. Digest nonces are the
// request's unique id, so nothing has to be remembered between the challenge and the
// answer.
func (self *AccessRule) Challenge(nonce string) string {
	var challenge = fmt.Sprintf("%s realm=%q", self.Scheme(), self.Realm)

	if self.Digest {
		challenge += fmt.Sprintf(
			", qop=\"auth\", nonce=%q, opaque=%q, algorithm=\"MD5\"",
			nonce,
			md5hex(nonce+`:`+self.Realm),
		)
	}

	return challenge
}

// ParseDigestFields splits the key=value list of a Digest authorization header.
func ParseDigestFields(payload string) map[string]string {
	var fields = make(map[string]string)

	for _, match := range rxDigestField.FindAllStringSubmatch(payload, -1) {
		var key = strings.ToLower(match[1])

		if _, ok := fields[key]; !ok {
			fields[key] = strings.TrimSpace(match[2] + match[3])
		}
	}

	return fields
}

// DigestResponse computes the RFC 2617 response digest for qop=auth and algorithm MD5.
func DigestResponse(username, realm, password, method, uri, nonce, nc, cnonce, qop string) string {
	var ha1 = md5hex(username + `:` + realm + `:` + password)
	var ha2 = md5hex(method + `:` + uri)

	return md5hex(strings.Join([]string{ha1, nonce, nc, cnonce, qop, ha2}, `:`))
}

func md5hex(in string) string {
	var sum = md5.Sum([]byte(in))
	return hex.EncodeToString(sum[:])
}

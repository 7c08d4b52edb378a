package kiln

import (
	"sort"
	"strings"

	"github.com/ghetzel/go-stockutil/typeutil"
)

// A Section is one named block of configuration: an ordered set of case-insensitive keys
// mapped to trimmed string values. Missing keys read as the empty string.
type Section struct {
	keys   []string
	values map[string]string
}

func NewSection() *Section {
	return &Section{
		values: make(map[string]string),
	}
}

// SectionFromMap builds a section from a map; keys are added in sorted order.
func SectionFromMap(in map[string]string) *Section {
	var section = NewSection()
	var keys = make([]string, 0, len(in))

	for k := range in {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	for _, k := range keys {
		section.Set(k, in[k])
	}

	return section
}

func sectionKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

// Get returns the value of key, the first fallback if the key is absent, or the empty string.
func (self *Section) Get(key string, fallback ...string) string {
	if self != nil {
		if v, ok := self.values[sectionKey(key)]; ok {
			return v
		}
	}

	if len(fallback) > 0 {
		return fallback[0]
	}

	return ``
}

func (self *Section) Set(key string, value string) {
	if key = sectionKey(key); key == `` {
		return
	}

	if self.values == nil {
		self.values = make(map[string]string)
	}

	if _, ok := self.values[key]; !ok {
		self.keys = append(self.keys, key)
	}

	self.values[key] = strings.TrimSpace(value)
}

func (self *Section) Contains(key string) bool {
	if self == nil {
		return false
	}

	_, ok := self.values[sectionKey(key)]
	return ok
}

func (self *Section) Remove(key string) {
	if self == nil {
		return
	}

	key = sectionKey(key)

	if _, ok := self.values[key]; ok {
		delete(self.values, key)

		for i, k := range self.keys {
			if k == key {
				self.keys = append(self.keys[:i], self.keys[i+1:]...)
				break
			}
		}
	}
}

// Keys returns the keys in insertion order.
func (self *Section) Keys() []string {
	if self == nil {
		return nil
	}

	return append([]string(nil), self.keys...)
}

// Values returns the values in key order.
func (self *Section) Values() []string {
	var values = make([]string, 0, self.Len())

	for _, k := range self.Keys() {
		values = append(values, self.values[k])
	}

	return values
}

func (self *Section) Len() int {
	if self == nil {
		return 0
	}

	return len(self.keys)
}

func (self *Section) Clone() *Section {
	var clone = NewSection()

	if self != nil {
		for _, k := range self.keys {
			clone.Set(k, self.values[k])
		}
	}

	return clone
}

// Merge copies every entry of other into this section; entries of other win.
func (self *Section) Merge(other *Section) *Section {
	if other != nil {
		for _, k := range other.keys {
			self.Set(k, other.values[k])
		}
	}

	return self
}

// Int returns the value of key without its options as an integer; anything that does not
// parse is 0.
func (self *Section) Int(key string) int64 {
	return typeutil.Int(CleanOptions(self.Get(key)))
}

// Enabled reports whether the value of key without its options is "on".
func (self *Section) Enabled(key string) bool {
	return strings.EqualFold(CleanOptions(self.Get(key)), `on`)
}

// Map returns a copy of the entries keyed by their upper-case names, the way they are
// exported to gateways and templates.
func (self *Section) Map() map[string]string {
	var out = make(map[string]string, self.Len())

	for _, k := range self.Keys() {
		out[strings.ToUpper(k)] = self.values[k]
	}

	return out
}

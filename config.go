package kiln

import (
	_ "embed"
	"encoding/hex"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/ghetzel/go-stockutil/typeutil"
	yaml "gopkg.in/yaml.v2"
)

var DefaultConfigFile = `kiln.yml`

//go:embed defaults.yml
var defaultSettings []byte

var rxHexValue = regexp.MustCompile(`^(?i)0x([0-9a-f]{2})+$`)

// Settings holds every configuration section by (case-insensitive) name. Inheritance between
// sections is resolved when the settings are parsed, so sections are flat at request time.
type Settings struct {
	names    []string
	sections map[string]*Section
}

func NewSettings() *Settings {
	return &Settings{
		sections: make(map[string]*Section),
	}
}

// LoadSettings reads the named YAML file and merges it over the built-in defaults.
func LoadSettings(filename string) (*Settings, error) {
	if data, err := os.ReadFile(filename); err == nil {
		if settings, err := ParseSettings(data); err == nil {
			return DefaultSettings().Merge(settings), nil
		} else {
			return nil, fmt.Errorf("config %s: %v", filename, err)
		}
	} else {
		return nil, err
	}
}

// DefaultSettings returns the built-in media types and status codes.
func DefaultSettings() *Settings {
	if settings, err := ParseSettings(defaultSettings); err == nil {
		return settings
	} else {
		panic(fmt.Sprintf("invalid built-in settings: %v", err))
	}
}

type rawSection struct {
	name    string
	extends []string
	entries *Section
}

// ParseSettings parses a YAML document whose top-level keys are section names. A name may
// carry an "extends" clause naming the sections it inherits from, e.g.
// "server:https:ini extends server:http:ini".
func ParseSettings(data []byte) (*Settings, error) {
	var doc yaml.MapSlice
	var raws = make(map[string]*rawSection)
	var order []string

	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}

	for _, item := range doc {
		var header = strings.Fields(strings.ToLower(typeutil.String(item.Key)))

		if len(header) == 0 {
			continue
		}

		var raw = &rawSection{
			name:    header[0],
			entries: NewSection(),
		}

		if len(header) > 1 {
			if header[1] != `extends` {
				return nil, fmt.Errorf("section %q: unexpected %q", header[0], header[1])
			}

			raw.extends = header[2:]
		}

		if err := parseSectionBody(raw.name, raw.entries, item.Value); err != nil {
			return nil, fmt.Errorf("section %q: %v", raw.name, err)
		}

		if existing, ok := raws[raw.name]; ok {
			existing.entries.Merge(raw.entries)
			existing.extends = append(existing.extends, raw.extends...)
		} else {
			raws[raw.name] = raw
			order = append(order, raw.name)
		}
	}

	var settings = NewSettings()

	for _, name := range order {
		if section, err := resolveSection(raws, name, make(map[string]bool)); err == nil {
			settings.Set(name, section)
		} else {
			return nil, err
		}
	}

	return settings, nil
}

func resolveSection(raws map[string]*rawSection, name string, visiting map[string]bool) (*Section, error) {
	var raw, ok = raws[name]

	if !ok {
		return NewSection(), nil
	} else if visiting[name] {
		return nil, fmt.Errorf("%w: %s", ErrSectionCycle, name)
	}

	visiting[name] = true
	defer delete(visiting, name)

	var out = NewSection()

	for _, base := range raw.extends {
		if inherited, err := resolveSection(raws, base, visiting); err == nil {
			out.Merge(inherited)
		} else {
			return nil, err
		}
	}

	return out.Merge(raw.entries), nil
}

// List entries are keyed by section name and position, so lists from inherited or
// overlaid sections concatenate instead of replacing each other.
func parseSectionBody(name string, section *Section, body interface{}) error {
	switch value := body.(type) {
	case nil:
		return nil
	case yaml.MapSlice:
		for _, entry := range value {
			section.Set(typeutil.String(entry.Key), settingValue(entry.Value))
		}
	case []interface{}:
		for i, entry := range value {
			section.Set(fmt.Sprintf("%s#%03d", name, i), settingValue(entry))
		}
	default:
		return fmt.Errorf("expected a mapping or a list, got %T", body)
	}

	return nil
}

// YAML reads on/off/yes/no as booleans; options compare against "on" and "off".
func settingValue(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ``
	case bool:
		if v {
			return `on`
		} else {
			return `off`
		}
	case []interface{}:
		var parts []string

		for _, item := range v {
			parts = append(parts, settingValue(item))
		}

		return strings.Join(parts, ` `)
	default:
		var s = strings.TrimSpace(typeutil.String(v))

		if rxHexValue.MatchString(s) {
			if decoded, err := hex.DecodeString(s[2:]); err == nil {
				return strings.TrimSpace(string(decoded))
			}
		}

		return s
	}
}

// Get returns a copy of the named section, or an empty section.
func (self *Settings) Get(name string) *Section {
	if self != nil {
		if section, ok := self.sections[sectionKey(name)]; ok {
			return section.Clone()
		}
	}

	return NewSection()
}

func (self *Settings) Contains(name string) bool {
	if self == nil {
		return false
	}

	_, ok := self.sections[sectionKey(name)]
	return ok
}

func (self *Settings) Set(name string, section *Section) {
	if name = sectionKey(name); name == `` {
		return
	}

	if _, ok := self.sections[name]; !ok {
		self.names = append(self.names, name)
	}

	if section == nil {
		section = NewSection()
	}

	self.sections[name] = section
}

// Names returns the section names in the order they were declared.
func (self *Settings) Names() []string {
	if self == nil {
		return nil
	}

	return append([]string(nil), self.names...)
}

// Merge merges every section of other into the matching section here.
func (self *Settings) Merge(other *Settings) *Settings {
	if other != nil {
		for _, name := range other.names {
			if existing, ok := self.sections[name]; ok {
				existing.Merge(other.sections[name])
			} else {
				self.Set(name, other.sections[name].Clone())
			}
		}
	}

	return self
}

func (self *Settings) Clone() *Settings {
	var clone = NewSettings()

	if self != nil {
		for _, name := range self.names {
			clone.Set(name, self.sections[name].Clone())
		}
	}

	return clone
}

// ServerNames returns the names of all servers declared by a "server:<name>:bas" section.
func (self *Settings) ServerNames() []string {
	var names []string

	for _, name := range self.Names() {
		if strings.HasPrefix(name, `server:`) && strings.HasSuffix(name, `:bas`) {
			if n := strings.TrimSuffix(strings.TrimPrefix(name, `server:`), `:bas`); n != `` {
				names = append(names, n)
			}
		}
	}

	return names
}

// MediaTypes inverts the "mediatypes" section (type: extensions...) into an
// extension to media type lookup.
func (self *Settings) MediaTypes() map[string]string {
	var section = self.Get(`mediatypes`)
	var types = make(map[string]string)
	var keys = section.Keys()

	sort.Strings(keys)

	for _, mediatype := range keys {
		for _, ext := range strings.Fields(section.Get(mediatype)) {
			types[strings.ToLower(ext)] = strings.ToLower(mediatype)
		}
	}

	return types
}

package kiln

import (
	"bytes"
	"embed"
	"fmt"
	html "html/template"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	text "text/template"
)

//go:embed templates/*.html
var embeddedTemplates embed.FS

type Engine int

const (
	TextEngine Engine = iota
	HtmlEngine
)

func (self Engine) String() string {
	switch self {
	case TextEngine:
		return `text`
	case HtmlEngine:
		return `html`
	default:
		return `unknown`
	}
}

type FuncMap map[string]interface{}

// A Template renders directory listings, status pages and access log lines.
type Template struct {
	name   string
	engine Engine
	tmpl   interface{}
	funcs  FuncMap
}

func GetEngineForFile(filename string) Engine {
	switch path.Ext(filename) {
	case `.html`, `.htm`:
		return HtmlEngine
	default:
		return TextEngine
	}
}

func NewTemplate(name string, engine Engine) *Template {
	return &Template{
		name:   name,
		engine: engine,
	}
}

func (self *Template) Name() string {
	return self.name
}

func (self *Template) Engine() Engine {
	return self.engine
}

func (self *Template) Funcs(funcs FuncMap) {
	self.funcs = funcs
}

func (self *Template) Parse(input string) error {
	switch self.engine {
	case TextEngine:
		var tmpl = text.New(self.name)

		if self.funcs != nil {
			tmpl.Funcs(text.FuncMap(self.funcs))
		}

		if t, err := tmpl.Parse(input); err == nil {
			self.tmpl = t
		} else {
			return err
		}

	case HtmlEngine:
		var tmpl = html.New(self.name)

		if self.funcs != nil {
			tmpl.Funcs(html.FuncMap(self.funcs))
		}

		if t, err := tmpl.Parse(input); err == nil {
			self.tmpl = t
		} else {
			return err
		}

	default:
		return fmt.Errorf("unknown template engine")
	}

	return nil
}

func (self *Template) Render(w io.Writer, data interface{}) error {
	if self.tmpl == nil {
		return fmt.Errorf("template %s: no template input provided", self.name)
	}

	var err error

	switch t := self.tmpl.(type) {
	case *text.Template:
		err = t.Execute(w, data)
	case *html.Template:
		err = t.Execute(w, data)
	default:
		err = fmt.Errorf("unknown template engine")
	}

	if err == nil {
		return nil
	} else if terr, ok := err.(text.ExecError); ok {
		return fmt.Errorf("template %s: %v", self.name, terr.Err)
	} else if herr, ok := err.(*html.Error); ok {
		return fmt.Errorf("template %s: %v at line %d: %v", self.name, herr.ErrorCode, herr.Line, herr.Description)
	} else {
		return fmt.Errorf("template %s: %v", self.name, err)
	}
}

// Bytes renders the template into a byte slice; values missing from data render empty.
func (self *Template) Bytes(data interface{}) ([]byte, error) {
	var buf bytes.Buffer

	if err := self.Render(&buf, data); err == nil {
		return bytes.ReplaceAll(buf.Bytes(), []byte(`<no value>`), nil), nil
	} else {
		return nil, err
	}
}

// A Renderer finds page templates in a system directory, falling back to the built-in
// ones.
type Renderer struct {
	Funcs FuncMap
}

func NewRenderer() *Renderer {
	return &Renderer{
		Funcs: FuncMap{
			`lower`: strings.ToLower,
			`upper`: strings.ToUpper,
		},
	}
}

// Lookup returns the first of the named templates present in sysroot or built in. All
// names are tried in sysroot before any built-in one.
func (self *Renderer) Lookup(sysroot string, names ...string) (*Template, error) {
	for _, name := range names {
		if sysroot == `` {
			break
		}

		var filename = filepath.Join(filepath.FromSlash(sysroot), name)

		if isRegularFile(filename) {
			if data, err := os.ReadFile(filename); err == nil {
				return self.Parse(name, string(data))
			} else {
				return nil, err
			}
		}
	}

	for _, name := range names {
		if data, err := embeddedTemplates.ReadFile(`templates/` + name); err == nil {
			return self.Parse(name, string(data))
		}
	}

	return nil, fmt.Errorf("no template found among %s", strings.Join(names, `, `))
}

// Parse compiles a template, choosing the engine by the name's extension.
func (self *Renderer) Parse(name string, input string) (*Template, error) {
	var tmpl = NewTemplate(name, GetEngineForFile(name))

	tmpl.Funcs(self.Funcs)

	if err := tmpl.Parse(input); err == nil {
		return tmpl, nil
	} else {
		return nil, err
	}
}

package kiln

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/ghetzel/go-stockutil/log"
)

// A Module is an in-process request handler. Filter is called from a filter rule whose
// target carries [M] and may rewrite the request or answer it; Service is called when a
// reference or an interface mapping names the module as the request's target. Both receive
// the option string of the rule that selected them.
//
// A module answers a request by writing to req (see Request.WriteHeader). Returning an
// error leaves the response to the engine, which renders the status carried by the error.
type Module interface {
	Filter(req *Request, options string) error
	Service(req *Request, options string) error
}

// ModuleFunc adapts a plain service function into a Module whose Filter does nothing.
type ModuleFunc func(req *Request, options string) error

func (self ModuleFunc) Filter(req *Request, options string) error {
	return nil
}

func (self ModuleFunc) Service(req *Request, options string) error {
	return self(req, options)
}

type ModuleRegistry struct {
	modules map[string]Module
	lock    sync.RWMutex
}

func NewModuleRegistry() *ModuleRegistry {
	return &ModuleRegistry{
		modules: make(map[string]Module),
	}
}

// Register makes a module available under the given (case-insensitive) name.
func (self *ModuleRegistry) Register(name string, module Module) error {
	if name = strings.ToLower(strings.TrimSpace(name)); name == `` {
		return fmt.Errorf("module name cannot be empty")
	} else if module == nil {
		return fmt.Errorf("module %q cannot be nil", name)
	}

	self.lock.Lock()
	defer self.lock.Unlock()

	self.modules[name] = module
	log.Debugf("MODULE %s registered", name)

	return nil
}

func (self *ModuleRegistry) Get(name string) (Module, bool) {
	self.lock.RLock()
	defer self.lock.RUnlock()

	module, ok := self.modules[strings.ToLower(strings.TrimSpace(name))]
	return module, ok
}

func (self *ModuleRegistry) Names() []string {
	self.lock.RLock()
	defer self.lock.RUnlock()

	var names = make([]string, 0, len(self.modules))

	for name := range self.modules {
		names = append(names, name)
	}

	sort.Strings(names)
	return names
}

// invoke runs one entry point of the module named by a rule target ("name [M] ...").
func (self *ModuleRegistry) invoke(req *Request, target string, filter bool) error {
	var name = CleanOptions(target)

	if fields := strings.Fields(name); len(fields) > 0 {
		name = fields[0]
	}

	if module, ok := self.Get(name); ok {
		req.Environment.Set(`module_opts`, target)

		if filter {
			return module.Filter(req, target)
		} else {
			return module.Service(req, target)
		}
	} else {
		return ErrorCode(http.StatusBadGateway, "%v: %s", ErrUnknownModule, name)
	}
}

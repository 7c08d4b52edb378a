package kiln

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

const IndexDateFormat = `2006-01-02 15:04:05`

// An IndexEntry is one file or directory of a listing.
type IndexEntry struct {
	Case     string
	Name     string
	Date     string
	Size     int64
	Human    string
	Type     string
	Mime     string
	Modified time.Time
}

// Link is the relative URL of the entry.
func (self IndexEntry) Link() string {
	var link = (&url.URL{Path: self.Name}).EscapedPath()

	if strings.Contains(self.Name, `:`) {
		link = `./` + link
	}

	if self.Case == `directory` {
		link += `/`
	}

	return link
}

type Crumb struct {
	Path string
	Name string
}

// A DirectoryIndex is a sorted listing of a directory together with the breadcrumb trail
// leading to it.
type DirectoryIndex struct {
	Path     string
	Location []Crumb
	Sort     string
	Files    []IndexEntry
	key      byte
	reverse  bool
}

// SortLink returns the query that sorts the listing by key, flipping the order when the
// listing is already sorted ascending by it.
func (self *DirectoryIndex) SortLink(key string) string {
	if key == `` {
		return ``
	}

	key = strings.ToLower(key[:1])

	if key[0] == self.key && !self.reverse {
		return strings.ToUpper(key)
	}

	return key
}

// ListDirectory reads a directory and sorts it by the key selected in query: n(ame),
// d(ate), s(ize) or t(ype). An upper case key sorts in descending order. Directories are
// always listed before files.
func ListDirectory(dir string, urlpath string, query string, mediatypes map[string]string, hideHidden bool) (*DirectoryIndex, error) {
	var index = &DirectoryIndex{
		Path: urlpath,
		key:  'n',
	}

	if query = strings.TrimSpace(query); query != `` {
		switch c := query[0]; c {
		case 'n', 'd', 's', 't':
			index.key = c
		case 'N', 'D', 'S', 'T':
			index.key = c + ('a' - 'A')
			index.reverse = true
		}
	}

	var entries, err = os.ReadDir(filepath.FromSlash(dir))

	if err != nil {
		return nil, err
	}

	for _, entry := range entries {
		if hideHidden && strings.HasPrefix(entry.Name(), `.`) {
			continue
		}

		var info, err = entry.Info()

		if err != nil {
			continue
		}

		var item = IndexEntry{
			Case:     `file`,
			Name:     entry.Name(),
			Date:     info.ModTime().Format(IndexDateFormat),
			Size:     info.Size(),
			Human:    humanize.Bytes(uint64(info.Size())),
			Type:     `-`,
			Modified: info.ModTime(),
		}

		if info.IsDir() {
			item.Case = `directory`
			item.Size = -1
			item.Human = `-`
		} else if ext := strings.TrimPrefix(filepath.Ext(item.Name), `.`); ext != `` {
			item.Type = strings.ToLower(ext)
			item.Mime = mediatypes[item.Type]
		}

		index.Files = append(index.Files, item)
	}

	sort.SliceStable(index.Files, func(i, j int) bool {
		var a, b = index.Files[i], index.Files[j]

		if a.Case != b.Case {
			return a.Case == `directory`
		}

		var cmp = compareIndexEntries(a, b, index.key)

		if cmp == 0 {
			cmp = strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name))
		}

		if index.reverse {
			return cmp > 0
		}

		return cmp < 0
	})

	index.Sort = string(index.key)

	if index.reverse {
		index.Sort += `d`
	} else {
		index.Sort += `a`
	}

	if len(index.Files) == 0 {
		index.Sort += ` x`
	}

	var trail string

	for _, segment := range strings.Split(strings.Trim(urlpath, `/`), `/`) {
		if segment != `` {
			trail += `/` + segment
			index.Location = append(index.Location, Crumb{
				Path: trail + `/`,
				Name: segment,
			})
		}
	}

	return index, nil
}

func compareIndexEntries(a IndexEntry, b IndexEntry, key byte) int {
	switch key {
	case 'd':
		return a.Modified.Compare(b.Modified)
	case 's':
		switch {
		case a.Size < b.Size:
			return -1
		case a.Size > b.Size:
			return 1
		}

		return 0
	case 't':
		return strings.Compare(a.Type, b.Type)
	default:
		return strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name))
	}
}

// renderIndex renders the listing of dir with the index template of the request's system
// root.
func (self *Instance) renderIndex(req *Request, dir string, query string) ([]byte, error) {
	var hidden = hasOption(req.Options.Get(`index`), `S`)
	var index, err = ListDirectory(dir, req.Environment.Get(`path_url`), query, req.mediatypes, hidden)

	if err != nil {
		return nil, fmt.Errorf("index %s: %v", dir, err)
	}

	if tmpl, err := self.renderer.Lookup(req.SystemRoot, `index.html`); err == nil {
		return tmpl.Bytes(index)
	} else {
		return nil, err
	}
}

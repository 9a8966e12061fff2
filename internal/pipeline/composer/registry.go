package composer

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"support-reply-workers/internal/pipeline/tmpl"
)

var ErrTemplateLoad = errors.New("TEMPLATE_LOAD_FAILED")

const (
	ContentTypeText   = "text"
	ContentTypeMarkup = "markup"

	manifestFile = "manifest.yaml"
	mastersDir   = "masters"
	partialsDir  = "partials"
	assetExt     = ".tmpl"
)

// Manifest maps states and intents onto template assets.
type Manifest struct {
	ContentType   string                  `yaml:"content_type"`
	DefaultMaster string                  `yaml:"default_master"`
	Masters       map[string]string       `yaml:"masters"`
	States        map[string]StatePartial `yaml:"states"`
	Intents       map[string]string       `yaml:"intents"`
}

// StatePartial names the partial a state contributes and the anchor it fills.
// An empty Anchor means the default anchor of the state's tier.
type StatePartial struct {
	Anchor  string `yaml:"anchor"`
	Partial string `yaml:"partial"`
}

// Registry is the name -> compiled template table, built once at start-up.
type Registry struct {
	manifest Manifest
	masters  map[string]*tmpl.Template
	partials map[string]*tmpl.Template
}

// LoadDir loads manifest.yaml, masters/*.tmpl and partials/*.tmpl from dir.
func LoadDir(dir string, cache *tmpl.Cache) (*Registry, error) {
	return Load(os.DirFS(dir), cache)
}

// Load reads the template assets from fsys. Syntax errors and an unreadable manifest
// are fatal; dangling references are not (see Dangling).
func Load(fsys fs.FS, cache *tmpl.Cache) (*Registry, error) {
	raw, err := fs.ReadFile(fsys, manifestFile)
	if err != nil {
		return nil, fmt.Errorf("%w: read manifest: %v", ErrTemplateLoad, err)
	}
	var m Manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("%w: parse manifest: %v", ErrTemplateLoad, err)
	}

	masters, err := readAssets(fsys, mastersDir)
	if err != nil {
		return nil, err
	}
	partials, err := readAssets(fsys, partialsDir)
	if err != nil {
		return nil, err
	}
	return NewRegistry(m, masters, partials, cache)
}

func readAssets(fsys fs.FS, dir string) (map[string]string, error) {
	matches, err := fs.Glob(fsys, path.Join(dir, "*"+assetExt))
	if err != nil {
		return nil, fmt.Errorf("%w: list %s: %v", ErrTemplateLoad, dir, err)
	}
	out := make(map[string]string, len(matches))
	for _, p := range matches {
		body, err := fs.ReadFile(fsys, p)
		if err != nil {
			return nil, fmt.Errorf("%w: read %s: %v", ErrTemplateLoad, p, err)
		}
		out[strings.TrimSuffix(path.Base(p), assetExt)] = string(body)
	}
	return out, nil
}

// NewRegistry compiles raw master and partial bodies through cache.
func NewRegistry(m Manifest, masters, partials map[string]string, cache *tmpl.Cache) (*Registry, error) {
	if m.ContentType == "" {
		m.ContentType = ContentTypeText
	}
	if m.ContentType != ContentTypeText && m.ContentType != ContentTypeMarkup {
		return nil, fmt.Errorf("%w: unknown content_type %q", ErrTemplateLoad, m.ContentType)
	}

	r := &Registry{
		manifest: m,
		masters:  make(map[string]*tmpl.Template, len(masters)),
		partials: make(map[string]*tmpl.Template, len(partials)),
	}
	for _, name := range sortedNames(masters) {
		t, err := cache.Get(masters[name])
		if err != nil {
			return nil, fmt.Errorf("%w: master %s: %v", ErrTemplateLoad, name, err)
		}
		r.masters[name] = t
	}
	for _, name := range sortedNames(partials) {
		t, err := cache.Get(partials[name])
		if err != nil {
			return nil, fmt.Errorf("%w: partial %s: %v", ErrTemplateLoad, name, err)
		}
		r.partials[name] = t
	}
	return r, nil
}

func sortedNames(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) Manifest() Manifest { return r.manifest }

func (r *Registry) Master(name string) (*tmpl.Template, bool) {
	t, ok := r.masters[name]
	return t, ok
}

func (r *Registry) Partial(name string) (*tmpl.Template, bool) {
	t, ok := r.partials[name]
	return t, ok
}

// Dangling lists manifest or template references with no matching asset, sorted.
func (r *Registry) Dangling() []string {
	seen := map[string]struct{}{}
	add := func(kind, name string) {
		seen[kind+":"+name] = struct{}{}
	}
	if _, ok := r.masters[r.manifest.DefaultMaster]; !ok {
		add("master", r.manifest.DefaultMaster)
	}
	for _, name := range r.manifest.Masters {
		if _, ok := r.masters[name]; !ok {
			add("master", name)
		}
	}
	for _, sp := range r.manifest.States {
		if _, ok := r.partials[sp.Partial]; !ok {
			add("partial", sp.Partial)
		}
	}
	for _, name := range r.manifest.Intents {
		if _, ok := r.partials[name]; !ok {
			add("partial", name)
		}
	}
	for _, group := range []map[string]*tmpl.Template{r.masters, r.partials} {
		for _, t := range group {
			for _, name := range t.Partials() {
				if _, ok := r.partials[name]; !ok {
					add("partial", name)
				}
			}
		}
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

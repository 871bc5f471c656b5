package assets

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/mr-tron/base58"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultEntryName is the logical name given to a single, unnamed entry.
	DefaultEntryName = "main"
	// HashPlaceholder is substituted with a content hash when naming outputs.
	HashPlaceholder = "[hash]"
	// NamePlaceholder is substituted with the logical entry name.
	NamePlaceholder = "[name]"

	ModeDevelopment = "development"
	ModeProduction  = "production"
)

// devtools maps the recognised diagnostics modes to esbuild source map settings.
var devtools = map[string]api.SourceMap{
	"none":              api.SourceMapNone,
	"eval-source-map":   api.SourceMapInline,
	"inline-source-map": api.SourceMapInline,
	"source-map":        api.SourceMapLinked,
	"hidden-source-map": api.SourceMapExternal,
}

// Descriptor is the declarative build configuration. It is read once per build
// and never mutated while a build runs.
type Descriptor struct {
	// Project root, every relative path is resolved against it.
	Context string       `yaml:"context"`
	Entry   EntryPoints  `yaml:"entry"`
	Output  OutputConfig `yaml:"output"`
	Devtool string       `yaml:"devtool"`
	Mode    string       `yaml:"mode,omitempty"`
	Rules   []Rule       `yaml:"rules"`
	Plugins []PluginSpec `yaml:"plugins"`
}

// OutputConfig says where and under which names built files are written.
type OutputConfig struct {
	// Output directory, created if absent.
	Path string `yaml:"path"`
	// Script bundle filename pattern, e.g. "app-[hash].js".
	Filename string `yaml:"filename"`
	// Filename pattern for emitted binary assets (no extension).
	AssetFilename string `yaml:"assetFilename,omitempty"`
	// URL prefix the built files are served from.
	PublicPath string `yaml:"publicPath,omitempty"`
	// Optional path of the raw esbuild metafile.
	Metafile string `yaml:"metafile,omitempty"`
}

// EntryPoint is a logical bundle name and the module it starts from.
type EntryPoint struct {
	Name string
	Path string
}

// EntryPoints is an ordered set of entries. In YAML it is either a single path,
// named DefaultEntryName, or a mapping of name to path.
type EntryPoints []EntryPoint

func (e *EntryPoints) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		*e = EntryPoints{{Name: DefaultEntryName, Path: value.Value}}
		return nil
	case yaml.MappingNode:
		entries := make(EntryPoints, 0, len(value.Content)/2)
		for i := 0; i+1 < len(value.Content); i += 2 {
			k, v := value.Content[i], value.Content[i+1]
			if v.Kind != yaml.ScalarNode {
				return fmt.Errorf("line %d: entry %q must be a path", v.Line, k.Value)
			}
			entries = append(entries, EntryPoint{Name: k.Value, Path: v.Value})
		}
		*e = entries
		return nil
	default:
		return fmt.Errorf("line %d: entry must be a path or a mapping of name to path", value.Line)
	}
}

func (e EntryPoints) MarshalYAML() (any, error) {
	if len(e) == 1 && e[0].Name == DefaultEntryName {
		return e[0].Path, nil
	}
	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, entry := range e {
		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Value: entry.Name},
			&yaml.Node{Kind: yaml.ScalarNode, Value: entry.Path},
		)
	}
	return node, nil
}

// Names returns the logical entry names in declaration order.
func (e EntryPoints) Names() []string {
	names := make([]string, len(e))
	for i, entry := range e {
		names[i] = entry.Name
	}
	return names
}

// Rule maps a file pattern to a transform chain.
type Rule struct {
	Test    string `yaml:"test"`
	Exclude string `yaml:"exclude,omitempty"`
	// Extract marks the chain output for the extracted stylesheet.
	Extract bool  `yaml:"extract,omitempty"`
	Use     Chain `yaml:"use"`
}

// Chain is the ordered list of transform steps applied to a matched file. The
// first step runs first.
type Chain []Step

func (c *Chain) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		*c = Chain{{Loader: value.Value}}
		return nil
	}
	var steps []Step
	if err := value.Decode(&steps); err != nil {
		return err
	}
	*c = steps
	return nil
}

// Step names a registered transform and carries its option record.
type Step struct {
	Loader  string         `yaml:"loader"`
	Options map[string]any `yaml:"options,omitempty"`
}

func (s *Step) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		*s = Step{Loader: value.Value}
		return nil
	}
	type plain Step
	return value.Decode((*plain)(s))
}

func (s Step) MarshalYAML() (any, error) {
	if len(s.Options) == 0 {
		return s.Loader, nil
	}
	type plain Step
	return plain(s), nil
}

// PluginSpec names a registered plugin and carries its option record.
type PluginSpec struct {
	Name    string         `yaml:"name"`
	Options map[string]any `yaml:"options,omitempty"`
}

func (p *PluginSpec) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		*p = PluginSpec{Name: value.Value}
		return nil
	}
	type plain PluginSpec
	return value.Decode((*plain)(p))
}

func (p PluginSpec) MarshalYAML() (any, error) {
	if len(p.Options) == 0 {
		return p.Name, nil
	}
	type plain PluginSpec
	return plain(p), nil
}

// DefaultDescriptor returns the stock configuration rooted at dir: a single
// script entry, hashed bundles, extracted styles and a stats manifest.
func DefaultDescriptor(dir string) Descriptor {
	return Descriptor{
		Context: dir,
		Entry:   EntryPoints{{Name: DefaultEntryName, Path: "./src/main.js"}},
		Output: OutputConfig{
			Path:          "build",
			Filename:      "privacy_app-[hash].js",
			AssetFilename: "[name]-[hash]",
		},
		Devtool: "eval-source-map",
		Mode:    ModeDevelopment,
		Rules: []Rule{
			{
				Test:    `\.js$`,
				Exclude: `node_modules`,
				Use: Chain{{
					Loader:  "babel",
					Options: map[string]any{"presets": []any{"env"}},
				}},
			},
			{
				Test:    `\.css$`,
				Extract: true,
				Use:     Chain{{Loader: "css"}},
			},
			{
				Test: `\.s[ca]ss$`,
				Use: Chain{
					{
						Loader: "sass",
						Options: map[string]any{
							"implementation": "sass",
							"indentedSyntax": true,
						},
					},
					{Loader: "css"},
					{Loader: "vue-style"},
				},
			},
			{
				Test: `\.vue$`,
				Use:  Chain{{Loader: "vue"}},
			},
			{
				Test: `\.png$`,
				Use:  Chain{{Loader: "file"}},
			},
		},
		Plugins: []PluginSpec{
			{Name: "vue"},
			{Name: "vuetify"},
			{Name: "extract-styles", Options: map[string]any{"filename": "privacy_styles-[hash].css"}},
			{Name: "manifest", Options: map[string]any{"filename": "./webpack-stats.json"}},
		},
	}
}

// LoadDescriptor reads a YAML descriptor. Fields left out take the stock
// defaults, and a relative context is resolved against the file's directory.
func LoadDescriptor(path string) (Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Descriptor{}, fmt.Errorf("failed to read descriptor: %w", err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return Descriptor{}, err
	}
	dir := filepath.Dir(abs)

	return ParseDescriptor(data, dir)
}

// ParseDescriptor decodes a YAML descriptor whose relative context is resolved
// against dir.
func ParseDescriptor(data []byte, dir string) (Descriptor, error) {
	d := DefaultDescriptor(dir)
	d.Context = ""

	if err := yaml.Unmarshal(data, &d); err != nil {
		return Descriptor{}, fmt.Errorf("failed to parse descriptor: %w", err)
	}

	switch {
	case d.Context == "":
		d.Context = dir
	case !filepath.IsAbs(d.Context):
		d.Context = filepath.Join(dir, d.Context)
	}
	d.Context = filepath.Clean(d.Context)

	if d.Mode == "" {
		d.Mode = ModeDevelopment
	}
	if d.Output.AssetFilename == "" {
		d.Output.AssetFilename = "[name]-[hash]"
	}

	return d, nil
}

// Clone returns a deep copy, option records included.
func (d Descriptor) Clone() Descriptor {
	c := d
	c.Entry = append(EntryPoints(nil), d.Entry...)
	c.Rules = make([]Rule, len(d.Rules))
	for i, r := range d.Rules {
		c.Rules[i] = r
		c.Rules[i].Use = make(Chain, len(r.Use))
		for j, s := range r.Use {
			c.Rules[i].Use[j] = Step{Loader: s.Loader, Options: cloneOptions(s.Options)}
		}
	}
	c.Plugins = make([]PluginSpec, len(d.Plugins))
	for i, p := range d.Plugins {
		c.Plugins[i] = PluginSpec{Name: p.Name, Options: cloneOptions(p.Options)}
	}
	return c
}

func cloneOptions(opts map[string]any) map[string]any {
	if opts == nil {
		return nil
	}
	out := make(map[string]any, len(opts))
	for k, v := range opts {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneOptions(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}

// YAML renders the descriptor in its canonical form.
func (d Descriptor) YAML() ([]byte, error) {
	return yaml.Marshal(d)
}

// Fingerprint is a base58 SHA-256 of the canonical form. Any change, including
// reordering rules or plugins, produces a different fingerprint.
func (d Descriptor) Fingerprint() (string, error) {
	data, err := d.YAML()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return base58.Encode(sum[:]), nil
}

// OutputDir is the absolute output directory.
func (d Descriptor) OutputDir() string {
	return d.resolve(d.Output.Path)
}

// EntryPath is the absolute path of an entry module.
func (d Descriptor) EntryPath(e EntryPoint) string {
	return d.resolve(e.Path)
}

func (d Descriptor) resolve(p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(d.Context, p)
}

// entryNames converts the output filename pattern into an esbuild entry name
// template, which carries no extension.
func (d Descriptor) entryNames() string {
	name := d.Output.Filename
	for _, ext := range []string{".js", ".mjs"} {
		if strings.HasSuffix(name, ext) {
			return strings.TrimSuffix(name, ext)
		}
	}
	return name
}

func (d Descriptor) sourceMap() api.SourceMap {
	return devtools[d.Devtool]
}

func (d Descriptor) production() bool {
	return d.Mode == ModeProduction
}

// plugin returns the first plugin spec with the given name.
func (d Descriptor) plugin(name string) (PluginSpec, int, bool) {
	for i, p := range d.Plugins {
		if p.Name == name {
			return p, i, true
		}
	}
	return PluginSpec{}, -1, false
}

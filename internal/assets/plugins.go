package assets

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/webbuild/internal/manifest"
)

// Plugin post-processes a build. A plugin implements one or more of the hook
// interfaces below; hooks of the same kind run in declaration order.
type Plugin interface {
	Name() string
}

// setupPlugin contributes to the bundler configuration before bundling.
type setupPlugin interface {
	Setup(env *buildEnv)
}

// outputPlugin observes and may modify the in-memory output before it is
// written.
type outputPlugin interface {
	Apply(ctx context.Context, out *Output) error
}

// writePlugin runs once the output files are on disk.
type writePlugin interface {
	AfterWrite(ctx context.Context, out *Output) error
}

type pluginFactory func(opts map[string]any) (Plugin, error)

var plugins = map[string]pluginFactory{
	"vue":            newVuePlugin,
	"vuetify":        newVuetifyPlugin,
	"extract-styles": newExtractPlugin,
	"manifest":       newManifestPlugin,
	"compress":       newCompressPlugin,
	"command":        newCommandPlugin,
}

// PluginNames lists the registered plugin names.
func PluginNames() []string {
	names := make([]string, 0, len(plugins))
	for name := range plugins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func newPlugin(spec PluginSpec) (Plugin, error) {
	factory, ok := plugins[spec.Name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPlugin, spec.Name)
	}
	p, err := factory(spec.Options)
	if err != nil {
		return nil, fmt.Errorf("%s options: %w", spec.Name, err)
	}
	return p, nil
}

// vuePlugin serves the virtual script and style modules a compiled component
// imports. Each block goes through the rule set as if it were a file named
// after its lang, e.g. App.vue.sass.
type vuePlugin struct{}

func newVuePlugin(opts map[string]any) (Plugin, error) {
	if err := decodeOptions(opts, &struct{}{}); err != nil {
		return nil, err
	}
	return vuePlugin{}, nil
}

func (vuePlugin) Name() string { return "vue" }

const vueNamespace = "vue"

func (vuePlugin) Setup(env *buildEnv) {
	env.esbuild = append(env.esbuild, api.Plugin{
		Name: "vue",
		Setup: func(build api.PluginBuild) {
			build.OnResolve(api.OnResolveOptions{Filter: `\?vue&type=`},
				func(args api.OnResolveArgs) (api.OnResolveResult, error) {
					file, query, _ := strings.Cut(args.Path, "?")
					if !filepath.IsAbs(file) {
						file = filepath.Join(args.ResolveDir, file)
					}
					return api.OnResolveResult{
						Path:      file + "?" + query,
						Namespace: vueNamespace,
					}, nil
				})

			build.OnLoad(api.OnLoadOptions{Filter: `.*`, Namespace: vueNamespace},
				func(args api.OnLoadArgs) (api.OnLoadResult, error) {
					return env.loadBlock(args.Path)
				})
		},
	})
}

// loadBlock loads one block of a component, addressed as
// /abs/App.vue?vue&type=style&index=0&lang=sass.
func (e *buildEnv) loadBlock(request string) (api.OnLoadResult, error) {
	file, rawQuery, _ := strings.Cut(request, "?")
	query, err := url.ParseQuery(rawQuery)
	if err != nil {
		return api.OnLoadResult{}, err
	}

	src, err := os.ReadFile(file) // #nosec G304 - path comes from the bundler's resolver
	if err != nil {
		return api.OnLoadResult{}, err
	}
	desc, err := parseSFC(src)
	if err != nil {
		return api.OnLoadResult{}, fmt.Errorf("vue: %s: %w", e.relative(file), err)
	}

	var block *sfcBlock
	lang := query.Get("lang")
	switch query.Get("type") {
	case blockScript:
		block = desc.Script
		if lang == "" {
			lang = defaultScript
		}
	case blockStyle:
		index, err := strconv.Atoi(query.Get("index"))
		if err != nil || index < 0 || index >= len(desc.Styles) {
			return api.OnLoadResult{}, fmt.Errorf("vue: %s: no style block %q", e.relative(file), query.Get("index"))
		}
		block = &desc.Styles[index]
		if lang == "" {
			lang = defaultStyle
		}
	}
	if block == nil {
		return api.OnLoadResult{}, fmt.Errorf("vue: %s: no %s block", e.relative(file), query.Get("type"))
	}

	a := &Asset{Path: file + "." + lang, Contents: []byte(block.Content)}
	a.Loader = defaultLoader(a.Path)

	if r := e.rules.match(a.Path); r != nil {
		if err := e.transform(r, a); err != nil {
			return api.OnLoadResult{}, err
		}
	} else if a.Loader == api.LoaderDefault {
		return api.OnLoadResult{}, fmt.Errorf("vue: %s: no rule for %s blocks", e.relative(file), lang)
	}

	return e.result(a, filepath.Dir(file)), nil
}

// vuetifyPlugin expands component tags used in templates into imports from
// the component library, so only the components actually used are bundled.
type vuetifyPlugin struct {
	prefix string
	module string
}

type vuetifyOptions struct {
	Prefix string `yaml:"prefix"`
	Module string `yaml:"module"`
}

func newVuetifyPlugin(opts map[string]any) (Plugin, error) {
	o := vuetifyOptions{Prefix: "v-", Module: "vuetify/lib"}
	if err := decodeOptions(opts, &o); err != nil {
		return nil, err
	}
	if o.Prefix == "" || o.Module == "" {
		return nil, errors.New("prefix and module must not be empty")
	}
	return &vuetifyPlugin{prefix: o.Prefix, module: o.Module}, nil
}

func (p *vuetifyPlugin) Name() string { return "vuetify" }

func (p *vuetifyPlugin) Setup(env *buildEnv) {
	env.sfcHooks = append(env.sfcHooks, p.expand)
}

func (p *vuetifyPlugin) expand(m *sfcModule) error {
	if m.Descriptor.Template == nil {
		return nil
	}

	var names []string
	for _, tag := range templateTags(m.Descriptor.Template.Content) {
		if strings.HasPrefix(tag, p.prefix) && len(tag) > len(p.prefix) {
			names = append(names, pascalCase(tag))
		}
	}
	if len(names) == 0 {
		return nil
	}

	m.Imports = append(m.Imports, fmt.Sprintf("import { %s } from %s;", strings.Join(names, ", "), jsString(p.module)))
	m.Statements = append(m.Statements, fmt.Sprintf("%s.components = Object.assign({ %s }, %s.components);",
		sfcBinding, strings.Join(names, ", "), sfcBinding))
	return nil
}

// extractPlugin names the stylesheet bundles after its own filename pattern,
// hashing their final contents.
type extractPlugin struct {
	filename string
}

type extractOptions struct {
	Filename string `yaml:"filename"`
}

func decodeExtractOptions(opts map[string]any) (extractOptions, error) {
	o := extractOptions{Filename: "[name]-[hash].css"}
	if err := decodeOptions(opts, &o); err != nil {
		return o, err
	}
	if !strings.Contains(o.Filename, HashPlaceholder) {
		return o, fmt.Errorf("filename %q must contain %s", o.Filename, HashPlaceholder)
	}
	return o, nil
}

func newExtractPlugin(opts map[string]any) (Plugin, error) {
	o, err := decodeExtractOptions(opts)
	if err != nil {
		return nil, err
	}
	return &extractPlugin{filename: o.Filename}, nil
}

func (p *extractPlugin) Name() string { return "extract-styles" }

func (p *extractPlugin) Apply(_ context.Context, out *Output) error {
	for _, entry := range out.Entries {
		for _, f := range out.Chunks[entry.Name] {
			if f.Ext() != ".css" {
				continue
			}
			if err := p.rename(out, entry.Name, f); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *extractPlugin) rename(out *Output, entry string, f *File) error {
	oldName := f.Name()
	newName := expandPattern(p.filename, entry, f.Contents)
	if newName == oldName {
		return nil
	}
	newPath := filepath.Join(filepath.Dir(f.Path), newName)
	if existing := out.Lookup(newPath); existing != nil && existing != f {
		return fmt.Errorf("extract-styles: %s would overwrite another output", newName)
	}

	if sm := out.Lookup(f.Path + ".map"); sm != nil {
		sm.Path = newPath + ".map"
		f.Contents = []byte(strings.Replace(string(f.Contents),
			"sourceMappingURL="+oldName+".map",
			"sourceMappingURL="+newName+".map", 1))
	}

	log.Debug().Str("from", oldName).Str("to", newName).Msg("Extracted stylesheet")
	f.Path = newPath
	return nil
}

// manifestPlugin writes the manifest once every output is on disk.
type manifestPlugin struct {
	filename   string
	publicPath string
}

type manifestOptions struct {
	Filename   string `yaml:"filename"`
	PublicPath string `yaml:"publicPath"`
}

func newManifestPlugin(opts map[string]any) (Plugin, error) {
	o := manifestOptions{Filename: "manifest.json"}
	if err := decodeOptions(opts, &o); err != nil {
		return nil, err
	}
	if o.Filename == "" {
		return nil, errors.New("filename must not be empty")
	}
	return &manifestPlugin{filename: o.Filename, publicPath: o.PublicPath}, nil
}

func (p *manifestPlugin) Name() string { return "manifest" }

// Path is the absolute manifest location for a build.
func (p *manifestPlugin) Path(out *Output) string {
	if filepath.IsAbs(p.filename) {
		return p.filename
	}
	return filepath.Join(out.Context, p.filename)
}

// ManifestPath is where the manifest plugin writes. ok is false when no
// manifest plugin is configured.
func (d Descriptor) ManifestPath() (path string, ok bool, err error) {
	spec, _, found := d.plugin("manifest")
	if !found {
		return "", false, nil
	}
	h, err := newPlugin(spec)
	if err != nil {
		return "", false, err
	}
	return h.(*manifestPlugin).Path(&Output{Context: d.Context}), true, nil
}

func (p *manifestPlugin) AfterWrite(_ context.Context, out *Output) error {
	m := BuildManifest(out, p.publicPath)

	path := p.Path(out)
	if err := manifest.Write(path, m); err != nil {
		return fmt.Errorf("manifest: %w", err)
	}
	log.Info().Str("path", path).Int("entries", len(m.Chunks)).Msg("Wrote manifest")
	return nil
}

// BuildManifest describes an output as a manifest: every entry's chunks in
// load order, and every emitted asset keyed by its source path. A non-empty
// publicPath replaces the build's public path in every URL.
func BuildManifest(out *Output, publicPath string) *manifest.Manifest {
	if publicPath == "" {
		publicPath = out.PublicPath
	}

	m := manifest.New(out.Fingerprint, publicPath)
	for _, entry := range out.Entries {
		for _, f := range out.Chunks[entry.Name] {
			m.AddChunk(entry.Name, manifest.NewFile(f.Path, out.URLUnder(publicPath, f), f.Contents))
		}
	}
	for _, f := range out.Assets() {
		m.AddAsset(f.Source, manifest.NewFile(f.Path, out.URLUnder(publicPath, f), f.Contents))
	}
	return m
}

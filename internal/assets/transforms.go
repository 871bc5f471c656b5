package assets

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
	"gopkg.in/yaml.v3"
)

// Asset is a source file on its way through a transform chain.
type Asset struct {
	// Absolute source path. SFC blocks use a synthetic name such as App.vue.sass.
	Path     string
	Contents []byte
	// Loader is how esbuild should treat Contents once the chain finishes.
	Loader api.Loader
}

// Transform is one step of a chain.
type Transform interface {
	Apply(env *buildEnv, a *Asset) error
}

type transformFactory func(opts map[string]any) (Transform, error)

var transforms = map[string]transformFactory{
	"babel":     newBabelTransform,
	"sass":      newSassTransform,
	"css":       newCSSTransform,
	"vue-style": newStyleInjectTransform,
	"vue":       newVueTransform,
	"file":      newFileTransform,
}

// Loaders lists the registered transform step names.
func Loaders() []string {
	names := make([]string, 0, len(transforms))
	for name := range transforms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func newTransform(s Step) (Transform, error) {
	factory, ok := transforms[s.Loader]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownLoader, s.Loader)
	}
	t, err := factory(s.Options)
	if err != nil {
		return nil, fmt.Errorf("%s options: %w", s.Loader, err)
	}
	return t, nil
}

// decodeOptions maps a loosely typed option record onto a typed struct,
// rejecting unknown keys.
func decodeOptions(opts map[string]any, into any) error {
	if len(opts) == 0 {
		return nil
	}
	data, err := yaml.Marshal(opts)
	if err != nil {
		return err
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	return dec.Decode(into)
}

// defaultLoader picks the esbuild loader for a path by extension.
func defaultLoader(path string) api.Loader {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".js", ".mjs", ".cjs":
		return api.LoaderJS
	case ".jsx":
		return api.LoaderJSX
	case ".ts", ".mts", ".cts":
		return api.LoaderTS
	case ".tsx":
		return api.LoaderTSX
	case ".css":
		return api.LoaderCSS
	case ".json":
		return api.LoaderJSON
	case ".txt", ".html":
		return api.LoaderText
	default:
		return api.LoaderDefault
	}
}

func isScript(l api.Loader) bool {
	switch l {
	case api.LoaderJS, api.LoaderJSX, api.LoaderTS, api.LoaderTSX:
		return true
	}
	return false
}

func isStylesheet(l api.Loader) bool {
	return l == api.LoaderCSS || l == api.LoaderLocalCSS || l == api.LoaderGlobalCSS
}

// babel transpiles scripts down to the target selected by its presets.
type babelTransform struct {
	target api.Target
	loader api.Loader
}

type babelOptions struct {
	Presets []string `yaml:"presets"`
	Targets string   `yaml:"targets"`
}

var presetTargets = map[string]api.Target{
	"env":    api.ES2015,
	"es2015": api.ES2015,
	"es2016": api.ES2016,
	"es2017": api.ES2017,
	"es2018": api.ES2018,
	"es2019": api.ES2019,
	"es2020": api.ES2020,
	"es2021": api.ES2021,
	"es2022": api.ES2022,
	"esnext": api.ESNext,
}

func newBabelTransform(opts map[string]any) (Transform, error) {
	var o babelOptions
	if err := decodeOptions(opts, &o); err != nil {
		return nil, err
	}
	t := &babelTransform{target: api.ESNext}
	for _, preset := range o.Presets {
		switch preset {
		case "react":
			t.loader = api.LoaderJSX
		case "typescript":
			t.loader = api.LoaderTS
		default:
			target, ok := presetTargets[preset]
			if !ok {
				return nil, fmt.Errorf("unknown preset %q", preset)
			}
			t.target = target
		}
	}
	if o.Targets != "" {
		target, ok := presetTargets[strings.ToLower(o.Targets)]
		if !ok {
			return nil, fmt.Errorf("unknown targets %q", o.Targets)
		}
		t.target = target
	}
	return t, nil
}

func (t *babelTransform) Apply(env *buildEnv, a *Asset) error {
	loader := a.Loader
	if t.loader != api.LoaderNone {
		loader = t.loader
	}
	if !isScript(loader) {
		loader = api.LoaderJS
	}

	sourcemap := api.SourceMapNone
	if env.descriptor.sourceMap() != api.SourceMapNone {
		sourcemap = api.SourceMapInline
	}

	result := api.Transform(string(a.Contents), api.TransformOptions{
		Loader:     loader,
		Target:     t.target,
		Sourcefile: env.relative(a.Path),
		Sourcemap:  sourcemap,
		LogLevel:   api.LogLevelSilent,
	})
	if len(result.Errors) > 0 {
		return &BuildError{Messages: result.Errors}
	}

	a.Contents = result.Code
	a.Loader = api.LoaderJS
	return nil
}

// css hands the stylesheet to the bundler so that @import and url()
// references are resolved and it lands in the stylesheet bundle.
type cssTransform struct {
	modules bool
}

type cssOptions struct {
	Modules bool `yaml:"modules"`
}

func newCSSTransform(opts map[string]any) (Transform, error) {
	var o cssOptions
	if err := decodeOptions(opts, &o); err != nil {
		return nil, err
	}
	return &cssTransform{modules: o.Modules}, nil
}

func (t *cssTransform) Apply(_ *buildEnv, a *Asset) error {
	if isScript(a.Loader) {
		return errors.New("expected a stylesheet, got a script")
	}
	a.Loader = api.LoaderCSS
	if t.modules {
		a.Loader = api.LoaderLocalCSS
	}
	return nil
}

// vue-style turns a stylesheet into a script that injects it into the document
// at runtime, so it never reaches the extracted stylesheet.
type styleInjectTransform struct{}

func newStyleInjectTransform(opts map[string]any) (Transform, error) {
	if err := decodeOptions(opts, &struct{}{}); err != nil {
		return nil, err
	}
	return styleInjectTransform{}, nil
}

func (styleInjectTransform) Apply(env *buildEnv, a *Asset) error {
	if !isStylesheet(a.Loader) {
		return errors.New("expected a stylesheet, put the css step before vue-style")
	}
	var b strings.Builder
	fmt.Fprintf(&b, "var css = %s;\n", jsString(string(a.Contents)))
	b.WriteString("if (typeof document !== \"undefined\") {\n")
	b.WriteString("  var el = document.createElement(\"style\");\n")
	fmt.Fprintf(&b, "  el.setAttribute(\"data-source\", %s);\n", jsString(env.relative(a.Path)))
	b.WriteString("  el.appendChild(document.createTextNode(css));\n")
	b.WriteString("  document.head.appendChild(el);\n")
	b.WriteString("}\n")
	b.WriteString("export default css;\n")

	a.Contents = []byte(b.String())
	a.Loader = api.LoaderJS
	return nil
}

// file emits the asset as a separate, hash named file and resolves the import
// to its URL. Small files may be inlined as data URLs instead.
type fileTransform struct {
	limit int
}

type fileOptions struct {
	Limit int `yaml:"limit"`
}

func newFileTransform(opts map[string]any) (Transform, error) {
	var o fileOptions
	if err := decodeOptions(opts, &o); err != nil {
		return nil, err
	}
	if o.Limit < 0 {
		return nil, errors.New("limit must not be negative")
	}
	return &fileTransform{limit: o.Limit}, nil
}

func (t *fileTransform) Apply(_ *buildEnv, a *Asset) error {
	if t.limit > 0 && len(a.Contents) <= t.limit {
		a.Loader = api.LoaderDataURL
		return nil
	}
	a.Loader = api.LoaderFile
	return nil
}

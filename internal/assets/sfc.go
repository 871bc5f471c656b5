package assets

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
	"golang.org/x/net/html"
)

// sfcBlock is one top level block of a single-file component.
type sfcBlock struct {
	Type    string
	Attrs   map[string]string
	Content string
}

func (b sfcBlock) lang(fallback string) string {
	if l := b.Attrs["lang"]; l != "" {
		return l
	}
	return fallback
}

type sfcDescriptor struct {
	Template *sfcBlock
	Script   *sfcBlock
	Styles   []sfcBlock
}

// parseSFC splits a .vue file into its template, script and style blocks.
// Block contents are kept byte for byte.
func parseSFC(src []byte) (*sfcDescriptor, error) {
	desc := &sfcDescriptor{}
	z := html.NewTokenizer(bytes.NewReader(src))

	var (
		cur   *sfcBlock
		depth int
		buf   bytes.Buffer
	)

	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			if errors.Is(z.Err(), io.EOF) {
				break
			}
			return nil, z.Err()
		}

		// TagName lower-cases the tokenizer buffer in place, copy first.
		raw := append([]byte(nil), z.Raw()...)

		if cur == nil {
			if tt != html.StartTagToken {
				continue
			}
			name, hasAttr := z.TagName()
			cur = &sfcBlock{Type: string(name), Attrs: map[string]string{}}
			for hasAttr {
				var k, v []byte
				k, v, hasAttr = z.TagAttr()
				cur.Attrs[string(k)] = string(v)
			}
			depth = 1
			buf.Reset()
			continue
		}

		if tt == html.StartTagToken || tt == html.EndTagToken {
			name, _ := z.TagName()
			if string(name) == cur.Type {
				if tt == html.StartTagToken {
					depth++
				} else {
					depth--
				}
			}
			if depth == 0 {
				cur.Content = buf.String()
				if err := desc.add(*cur); err != nil {
					return nil, err
				}
				cur = nil
				continue
			}
		}
		buf.Write(raw)
	}

	if cur != nil {
		return nil, fmt.Errorf("unclosed <%s> block", cur.Type)
	}
	return desc, nil
}

func (d *sfcDescriptor) add(b sfcBlock) error {
	switch b.Type {
	case "template":
		if d.Template != nil {
			return errors.New("more than one <template> block")
		}
		d.Template = &b
	case "script":
		if d.Script != nil {
			return errors.New("more than one <script> block")
		}
		d.Script = &b
	case "style":
		d.Styles = append(d.Styles, b)
	}
	// Custom blocks are ignored.
	return nil
}

// sfcModule is the script generated for a component. Hooks may add imports and
// statements before it is rendered.
type sfcModule struct {
	Path       string
	Descriptor *sfcDescriptor
	Imports    []string
	Statements []string
}

// sfcHook extends a component module, e.g. to register components used in its
// template.
type sfcHook func(m *sfcModule) error

const (
	vueQuery      = "?vue&type="
	sfcBinding    = "__sfc__"
	blockScript   = "script"
	blockStyle    = "style"
	defaultStyle  = "css"
	defaultScript = "js"
)

// blockRequest is the import specifier for a virtual SFC block module.
func blockRequest(path, blockType string, index int, lang string) string {
	req := "./" + filepath.Base(path) + vueQuery + blockType
	if blockType == blockStyle {
		req += fmt.Sprintf("&index=%d", index)
	}
	return req + "&lang=" + lang
}

// vue compiles a single-file component into a script module. The script and
// style blocks become virtual modules served by the vue plugin; the template
// is attached to the component options.
type vueTransform struct {
	exposeFilename bool
}

type vueOptions struct {
	ExposeFilename bool `yaml:"exposeFilename"`
}

func newVueTransform(opts map[string]any) (Transform, error) {
	var o vueOptions
	if err := decodeOptions(opts, &o); err != nil {
		return nil, err
	}
	return &vueTransform{exposeFilename: o.ExposeFilename}, nil
}

func (t *vueTransform) Apply(env *buildEnv, a *Asset) error {
	desc, err := parseSFC(a.Contents)
	if err != nil {
		return fmt.Errorf("vue: %w", err)
	}

	m := &sfcModule{Path: a.Path, Descriptor: desc}
	for _, hook := range env.sfcHooks {
		if err := hook(m); err != nil {
			return fmt.Errorf("vue: %w", err)
		}
	}

	code, err := t.render(env, m)
	if err != nil {
		return err
	}

	a.Contents = []byte(code)
	a.Loader = api.LoaderJS
	return nil
}

func (t *vueTransform) render(env *buildEnv, m *sfcModule) (string, error) {
	var b strings.Builder
	desc := m.Descriptor

	if desc.Script != nil {
		fmt.Fprintf(&b, "import %s from %s;\n", sfcBinding, jsString(blockRequest(m.Path, blockScript, 0, desc.Script.lang(defaultScript))))
	}
	for i, style := range desc.Styles {
		fmt.Fprintf(&b, "import %s;\n", jsString(blockRequest(m.Path, blockStyle, i, style.lang(defaultStyle))))
	}
	for _, imp := range m.Imports {
		b.WriteString(imp + "\n")
	}
	if desc.Script == nil {
		fmt.Fprintf(&b, "const %s = {};\n", sfcBinding)
	}
	if desc.Template != nil {
		fmt.Fprintf(&b, "%s.template = %s;\n", sfcBinding, jsString(strings.TrimSpace(desc.Template.Content)))
	}
	for _, stmt := range m.Statements {
		b.WriteString(stmt + "\n")
	}
	if t.exposeFilename {
		fmt.Fprintf(&b, "%s.__file = %s;\n", sfcBinding, jsString(env.relative(m.Path)))
	}
	fmt.Fprintf(&b, "export default %s;\n", sfcBinding)
	return b.String(), nil
}

// templateTags returns the distinct element names used in a template, sorted.
func templateTags(template string) []string {
	seen := map[string]bool{}
	z := html.NewTokenizer(strings.NewReader(template))
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			break
		}
		if tt == html.StartTagToken || tt == html.SelfClosingTagToken {
			name, _ := z.TagName()
			seen[string(name)] = true
		}
	}
	tags := make([]string, 0, len(seen))
	for tag := range seen {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// pascalCase converts a kebab-case tag such as v-btn-toggle to VBtnToggle.
func pascalCase(tag string) string {
	var b strings.Builder
	for _, part := range strings.Split(tag, "-") {
		if part == "" {
			continue
		}
		b.WriteString(strings.ToUpper(part[:1]) + part[1:])
	}
	return b.String()
}

// jsString quotes s as a JavaScript string literal.
func jsString(s string) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		// Strings always encode.
		panic(err)
	}
	return strings.TrimSuffix(buf.String(), "\n")
}

package assets

import (
	"errors"
	"os/exec"
	"strings"
	"testing"

	"github.com/bep/godartsass/v2"
	"github.com/evanw/esbuild/pkg/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEnv(t *testing.T) *buildEnv {
	t.Helper()
	d := DefaultDescriptor("/project")
	d.Devtool = "none"
	env := &buildEnv{descriptor: d, sass: &sassCompilers{}}
	t.Cleanup(func() { _ = env.sass.Close() })
	return env
}

func TestNewTransform(t *testing.T) {
	for _, name := range Loaders() {
		_, err := newTransform(Step{Loader: name})
		require.NoError(t, err, name)
	}

	_, err := newTransform(Step{Loader: "less"})
	require.ErrorIs(t, err, ErrUnknownLoader)

	_, err = newTransform(Step{Loader: "babel", Options: map[string]any{"presets": []any{"flow"}}})
	require.ErrorContains(t, err, `unknown preset "flow"`)
}

func TestBabelTransform(t *testing.T) {
	tests := []struct {
		name    string
		options map[string]any
		path    string
		input   string
		check   func(t *testing.T, code string)
	}{
		{
			name:    "env preset lowers optional chaining",
			options: map[string]any{"presets": []any{"env"}},
			path:    "/project/src/main.js",
			input:   "export const name = (user) => user?.name;\n",
			check: func(t *testing.T, code string) {
				assert.NotContains(t, code, "?.")
				assert.Contains(t, code, "void 0")
			},
		},
		{
			name:    "esnext keeps syntax",
			options: map[string]any{"presets": []any{"esnext"}},
			path:    "/project/src/main.js",
			input:   "export const name = (user) => user?.name;\n",
			check: func(t *testing.T, code string) {
				assert.Contains(t, code, "?.")
			},
		},
		{
			name:    "typescript preset strips types",
			options: map[string]any{"presets": []any{"typescript", "es2020"}},
			path:    "/project/src/main.ts",
			input:   "const n: number = 1;\nexport default n;\n",
			check: func(t *testing.T, code string) {
				assert.NotContains(t, code, ": number")
			},
		},
		{
			name:    "imports are left for the bundler",
			options: nil,
			path:    "/project/src/main.js",
			input:   "import './style.css';\n",
			check: func(t *testing.T, code string) {
				assert.Contains(t, code, `import "./style.css"`)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, err := newBabelTransform(tt.options)
			require.NoError(t, err)

			a := &Asset{Path: tt.path, Contents: []byte(tt.input), Loader: defaultLoader(tt.path)}
			require.NoError(t, tr.Apply(testEnv(t), a))
			require.Equal(t, api.LoaderJS, a.Loader)
			tt.check(t, string(a.Contents))
		})
	}
}

func TestBabelTransform_syntaxError(t *testing.T) {
	tr, err := newBabelTransform(nil)
	require.NoError(t, err)

	err = tr.Apply(testEnv(t), &Asset{Path: "/project/src/main.js", Contents: []byte("const = ;"), Loader: api.LoaderJS})

	var buildErr *BuildError
	require.ErrorAs(t, err, &buildErr)
	require.NotEmpty(t, buildErr.Messages)
	require.Contains(t, buildErr.Error(), "src/main.js:1:")
}

func TestCSSTransform(t *testing.T) {
	tr, err := newCSSTransform(nil)
	require.NoError(t, err)
	a := &Asset{Path: "/project/a.css", Contents: []byte("a{}"), Loader: api.LoaderDefault}
	require.NoError(t, tr.Apply(nil, a))
	require.Equal(t, api.LoaderCSS, a.Loader)

	tr, err = newCSSTransform(map[string]any{"modules": true})
	require.NoError(t, err)
	require.NoError(t, tr.Apply(nil, a))
	require.Equal(t, api.LoaderLocalCSS, a.Loader)

	err = tr.Apply(nil, &Asset{Path: "/project/a.js", Loader: api.LoaderJS})
	require.ErrorContains(t, err, "expected a stylesheet")
}

func TestStyleInjectTransform(t *testing.T) {
	tr, err := newStyleInjectTransform(nil)
	require.NoError(t, err)

	a := &Asset{Path: "/project/src/App.vue.sass", Contents: []byte(".a { color: red; }\n"), Loader: api.LoaderCSS}
	require.NoError(t, tr.Apply(testEnv(t), a))
	require.Equal(t, api.LoaderJS, a.Loader)

	code := string(a.Contents)
	assert.Contains(t, code, `var css = ".a { color: red; }\n";`)
	assert.Contains(t, code, `document.createElement("style")`)
	assert.Contains(t, code, `"src/App.vue.sass"`)

	err = tr.Apply(testEnv(t), &Asset{Path: "/project/a.sass", Loader: api.LoaderDefault})
	require.ErrorContains(t, err, "put the css step before vue-style")
}

func TestFileTransform(t *testing.T) {
	tr, err := newFileTransform(map[string]any{"limit": 4})
	require.NoError(t, err)

	small := &Asset{Path: "/project/dot.png", Contents: []byte{1, 2}}
	require.NoError(t, tr.Apply(nil, small))
	require.Equal(t, api.LoaderDataURL, small.Loader)

	large := &Asset{Path: "/project/logo.png", Contents: []byte{1, 2, 3, 4, 5}}
	require.NoError(t, tr.Apply(nil, large))
	require.Equal(t, api.LoaderFile, large.Loader)

	_, err = newFileTransform(map[string]any{"limit": -1})
	require.Error(t, err)
}

func TestSassTransform(t *testing.T) {
	if _, err := exec.LookPath("sass"); err != nil {
		t.Skip("dart sass not installed")
	}

	tr, err := newSassTransform(map[string]any{"indentedSyntax": true})
	require.NoError(t, err)

	a := &Asset{Path: "/project/src/App.vue.sass", Contents: []byte("$c: red\n.a\n  color: $c\n")}
	err = tr.Apply(testEnv(t), a)
	if errors.Is(err, ErrSassUnavailable) {
		t.Skipf("sass on PATH has no embedded protocol: %v", err)
	}
	require.NoError(t, err)
	require.Equal(t, api.LoaderCSS, a.Loader)
	require.Contains(t, strings.Join(strings.Fields(string(a.Contents)), ""), ".a{color:red;}")
}

func TestSassTransform_unavailable(t *testing.T) {
	tr, err := newSassTransform(map[string]any{"implementation": "definitely-not-a-sass-binary"})
	require.NoError(t, err)

	err = tr.Apply(testEnv(t), &Asset{Path: "/project/a.scss", Contents: []byte("a{}")})
	require.ErrorIs(t, err, ErrSassUnavailable)
}

func TestSassTransform_syntax(t *testing.T) {
	tr := &sassTransform{indented: true}
	require.Equal(t, godartsass.SourceSyntaxSCSS, tr.syntax("/a/b.scss"))
	require.Equal(t, godartsass.SourceSyntaxSASS, tr.syntax("/a/b.sass"))
	require.Equal(t, godartsass.SourceSyntaxSASS, tr.syntax("/a/b.vue.style"))

	tr.indented = false
	require.Equal(t, godartsass.SourceSyntaxSCSS, tr.syntax("/a/b.vue.style"))
}

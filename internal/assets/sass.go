package assets

import (
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bep/godartsass/v2"
	"github.com/evanw/esbuild/pkg/api"
	"github.com/rs/zerolog/log"
)

var ErrSassUnavailable = errors.New("sass compiler not available")

// sass precompiles Sass/SCSS to CSS with an embedded Dart Sass process.
type sassTransform struct {
	implementation string
	indented       bool
	includePaths   []string
	style          godartsass.OutputStyle
}

type sassOptions struct {
	// Dart Sass executable, looked up on PATH when not absolute.
	Implementation string   `yaml:"implementation"`
	IndentedSyntax bool     `yaml:"indentedSyntax"`
	IncludePaths   []string `yaml:"includePaths"`
	OutputStyle    string   `yaml:"outputStyle"`
}

func newSassTransform(opts map[string]any) (Transform, error) {
	o := sassOptions{Implementation: "sass"}
	if err := decodeOptions(opts, &o); err != nil {
		return nil, err
	}
	t := &sassTransform{
		implementation: o.Implementation,
		indented:       o.IndentedSyntax,
		includePaths:   o.IncludePaths,
	}
	switch o.OutputStyle {
	case "", "expanded":
		t.style = godartsass.OutputStyleExpanded
	case "compressed":
		t.style = godartsass.OutputStyleCompressed
	default:
		return nil, fmt.Errorf("unknown outputStyle %q", o.OutputStyle)
	}
	return t, nil
}

// readsImports reports that the output depends on @use and @import targets.
func (t *sassTransform) readsImports() bool { return true }

// syntax picks the source syntax from the extension; indentedSyntax only
// decides for files that are neither .sass nor .scss.
func (t *sassTransform) syntax(path string) godartsass.SourceSyntax {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".sass":
		return godartsass.SourceSyntaxSASS
	case ".scss":
		return godartsass.SourceSyntaxSCSS
	}
	if t.indented {
		return godartsass.SourceSyntaxSASS
	}
	return godartsass.SourceSyntaxSCSS
}

func (t *sassTransform) Apply(env *buildEnv, a *Asset) error {
	transpiler, err := env.sass.get(t.implementation)
	if err != nil {
		return err
	}

	includePaths := []string{filepath.Dir(a.Path)}
	for _, p := range t.includePaths {
		includePaths = append(includePaths, env.descriptor.resolve(p))
	}

	result, err := transpiler.Execute(godartsass.Args{
		Source:       string(a.Contents),
		URL:          "file://" + filepath.ToSlash(a.Path),
		SourceSyntax: t.syntax(a.Path),
		OutputStyle:  t.style,
		IncludePaths: includePaths,
	})
	if err != nil {
		return fmt.Errorf("sass: %w", err)
	}

	a.Contents = []byte(result.CSS)
	a.Loader = api.LoaderCSS
	return nil
}

// sassCompilers starts one Dart Sass process per implementation on first use
// and shares it between files; the transpiler is safe for concurrent use.
type sassCompilers struct {
	mu          sync.Mutex
	transpilers map[string]*godartsass.Transpiler
}

func (s *sassCompilers) get(implementation string) (*godartsass.Transpiler, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.transpilers[implementation]; ok {
		return t, nil
	}

	binary, err := exec.LookPath(implementation)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrSassUnavailable, implementation, err)
	}

	t, err := godartsass.Start(godartsass.Options{
		DartSassEmbeddedFilename: binary,
		LogEventHandler: func(event godartsass.LogEvent) {
			log.Warn().Str("sass", binary).Msg(event.Message)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSassUnavailable, err)
	}

	if s.transpilers == nil {
		s.transpilers = map[string]*godartsass.Transpiler{}
	}
	s.transpilers[implementation] = t
	log.Debug().Str("binary", binary).Msg("Started sass compiler")
	return t, nil
}

func (s *sassCompilers) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for name, t := range s.transpilers {
		if err := t.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	s.transpilers = nil
	return errors.Join(errs...)
}

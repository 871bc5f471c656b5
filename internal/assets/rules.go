package assets

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/evanw/esbuild/pkg/api"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/wolfeidau/webbuild/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// transformCacheSize bounds the number of transformed files kept between
// rebuilds.
const transformCacheSize = 1024

type compiledStep struct {
	name string
	Transform
}

type rule struct {
	index   int
	test    *regexp.Regexp
	exclude *regexp.Regexp
	extract bool
	steps   []compiledStep
	// uncached chains read files besides the input, e.g. sass partials, so
	// the input's contents alone do not identify the result.
	uncached bool
}

// importer is implemented by steps that pull in other files while running.
type importer interface {
	readsImports() bool
}

func (r *rule) matches(path string) bool {
	p := filepath.ToSlash(path)
	if !r.test.MatchString(p) {
		return false
	}
	return r.exclude == nil || !r.exclude.MatchString(p)
}

// ruleSet resolves a file to its transform chain. Rules are tried in
// declaration order and the first match wins.
type ruleSet struct {
	rules []*rule
}

func compileRules(rules []Rule) (*ruleSet, error) {
	rs := &ruleSet{}
	for i, r := range rules {
		test, err := regexp.Compile(r.Test)
		if err != nil {
			return nil, fmt.Errorf("rules[%d].test: %w", i, err)
		}
		cr := &rule{index: i, test: test, extract: r.Extract}
		if r.Exclude != "" {
			if cr.exclude, err = regexp.Compile(r.Exclude); err != nil {
				return nil, fmt.Errorf("rules[%d].exclude: %w", i, err)
			}
		}
		for _, s := range r.Use {
			t, err := newTransform(s)
			if err != nil {
				return nil, fmt.Errorf("rules[%d]: %w", i, err)
			}
			cr.steps = append(cr.steps, compiledStep{name: s.Loader, Transform: t})
			if im, ok := t.(importer); ok && im.readsImports() {
				cr.uncached = true
			}
		}
		rs.rules = append(rs.rules, cr)
	}
	return rs, nil
}

func (rs *ruleSet) match(path string) *rule {
	for _, r := range rs.rules {
		if r.matches(path) {
			return r
		}
	}
	return nil
}

type cachedAsset struct {
	contents []byte
	loader   api.Loader
}

// buildEnv is the state shared by transforms and plugins during one build.
type buildEnv struct {
	descriptor  Descriptor
	fingerprint string
	rules       *ruleSet
	cache       *lru.Cache[string, cachedAsset]
	sass        *sassCompilers
	sfcHooks    []sfcHook
	esbuild     []api.Plugin
}

func (e *buildEnv) relative(path string) string {
	rel, err := filepath.Rel(e.descriptor.Context, path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}

// transform runs a rule's chain over an asset. Results are cached by path,
// content and configuration so unchanged files are not redone on rebuild.
// Chains with a step that reads imports always run.
func (e *buildEnv) transform(r *rule, a *Asset) error {
	m := telemetry.GetMetrics()
	attrs := metric.WithAttributes(attribute.Int("rule", r.index))

	cache := e.cache
	if r.uncached {
		cache = nil
	}

	key := fmt.Sprintf("%s\x00%d\x00%s\x00%s", e.fingerprint, r.index, a.Path, digest(a.Contents))
	if cache != nil {
		if hit, ok := cache.Get(key); ok {
			m.TransformCacheHit.Add(context.Background(), 1, attrs)
			a.Contents, a.Loader = hit.contents, hit.loader
			return nil
		}
	}
	m.TransformsTotal.Add(context.Background(), 1, attrs)

	for _, step := range r.steps {
		if err := step.Apply(e, a); err != nil {
			return fmt.Errorf("%s: %s: %w", step.name, e.relative(a.Path), err)
		}
	}
	if r.extract && !isStylesheet(a.Loader) {
		return fmt.Errorf("%s: extracted rule did not produce a stylesheet", e.relative(a.Path))
	}

	if cache != nil {
		cache.Add(key, cachedAsset{contents: a.Contents, loader: a.Loader})
	}
	return nil
}

// load matches path against the rules and returns the transformed contents.
// ok is false when no rule applies.
func (e *buildEnv) load(path, matchAs string) (api.OnLoadResult, bool, error) {
	r := e.rules.match(matchAs)
	if r == nil {
		return api.OnLoadResult{}, false, nil
	}

	contents, err := os.ReadFile(path) // #nosec G304 - path comes from the bundler's resolver
	if err != nil {
		return api.OnLoadResult{}, true, err
	}

	a := &Asset{Path: matchAs, Contents: contents, Loader: defaultLoader(matchAs)}
	if err := e.transform(r, a); err != nil {
		return api.OnLoadResult{}, true, err
	}
	return e.result(a, filepath.Dir(path)), true, nil
}

func (e *buildEnv) result(a *Asset, resolveDir string) api.OnLoadResult {
	contents := string(a.Contents)
	return api.OnLoadResult{
		Contents:   &contents,
		ResolveDir: resolveDir,
		Loader:     a.Loader,
	}
}

// rulesPlugin routes every file the bundler loads through the rule set.
// Files no rule matches fall through to esbuild's own loaders.
func rulesPlugin(env *buildEnv) api.Plugin {
	return api.Plugin{
		Name: "rules",
		Setup: func(build api.PluginBuild) {
			build.OnLoad(api.OnLoadOptions{Filter: `.*`, Namespace: "file"},
				func(args api.OnLoadArgs) (api.OnLoadResult, error) {
					result, ok, err := env.load(args.Path, args.Path)
					if err != nil || !ok {
						return api.OnLoadResult{}, err
					}
					return result, nil
				})
		},
	}
}

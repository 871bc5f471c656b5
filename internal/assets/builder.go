package assets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/webbuild/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Build validates the descriptor, bundles, runs the plugins and writes the
// output. Nothing is written unless validation, bundling and every output
// plugin succeed.
func (p *Pipeline) Build(ctx context.Context) (*Output, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := uuid.NewString()
	ctx, span := telemetry.Tracer().Start(ctx, "assets.Build",
		trace.WithAttributes(attribute.String("build.id", id)))
	defer span.End()

	m := telemetry.GetMetrics()
	started := time.Now()
	m.BuildsTotal.Add(ctx, 1)

	out, err := p.build(ctx, id)
	m.BuildDuration.Record(ctx, float64(time.Since(started).Milliseconds()))
	if err != nil {
		m.BuildErrorsTotal.Add(ctx, 1)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	m.OutputFilesTotal.Add(ctx, int64(len(out.Files)))
	m.OutputBytesTotal.Add(ctx, out.Size())
	span.SetAttributes(attribute.Int("files", len(out.Files)), attribute.Int64("bytes", out.Size()))

	log.Info().Str("build", id).Int("files", len(out.Files)).Dur("duration", time.Since(started)).Msg("Build complete")
	p.last = out
	return out, nil
}

func (p *Pipeline) build(ctx context.Context, id string) (*Output, error) {
	d := p.descriptor

	if err := d.Validate(); err != nil {
		return nil, err
	}

	env, hooks, err := p.prepare()
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := env.sass.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to stop sass compiler")
		}
	}()

	// The logical entry name fills the [name] placeholder.
	entryPoints := make([]api.EntryPoint, len(d.Entry))
	for i, e := range d.Entry {
		entryPoints[i] = api.EntryPoint{InputPath: d.EntryPath(e), OutputPath: e.Name}
	}

	log.Info().Strs("entrypoints", d.Entry.Names()).Str("mode", d.Mode).Msg("Building assets")

	result := api.Build(p.buildOptions(env, entryPoints))

	for _, msg := range result.Warnings {
		log.Warn().Str("warning", formatMessage(msg)).Msg("Build warning")
	}
	if len(result.Errors) > 0 {
		for _, msg := range result.Errors {
			log.Error().Str("error", formatMessage(msg)).Msg("Build error")
		}
		return nil, &BuildError{Messages: result.Errors}
	}

	out, err := p.collect(env, result)
	if err != nil {
		return nil, err
	}
	out.ID = id

	for _, h := range hooks {
		op, ok := h.(outputPlugin)
		if !ok {
			continue
		}
		if err := runPlugin(ctx, h.Name(), "apply", func(ctx context.Context) error {
			return op.Apply(ctx, out)
		}); err != nil {
			return nil, err
		}
	}

	if err := write(out); err != nil {
		return nil, err
	}

	// From here on the outputs are on disk. A failing metafile write or
	// AfterWrite hook returns an error but leaves them in place.
	if d.Output.Metafile != "" {
		if err := os.WriteFile(d.resolve(d.Output.Metafile), []byte(out.Metafile), 0o600); err != nil {
			return nil, err
		}
	}

	for _, h := range hooks {
		wp, ok := h.(writePlugin)
		if !ok {
			continue
		}
		if err := runPlugin(ctx, h.Name(), "after_write", func(ctx context.Context) error {
			return wp.AfterWrite(ctx, out)
		}); err != nil {
			return nil, err
		}
	}

	return out, nil
}

// prepare instantiates the rules and plugins for one build.
func (p *Pipeline) prepare() (*buildEnv, []Plugin, error) {
	d := p.descriptor

	fingerprint, err := d.Fingerprint()
	if err != nil {
		return nil, nil, err
	}
	rules, err := compileRules(d.Rules)
	if err != nil {
		return nil, nil, err
	}

	env := &buildEnv{
		descriptor:  d,
		fingerprint: fingerprint,
		rules:       rules,
		cache:       p.cache,
		sass:        &sassCompilers{},
	}

	hooks := make([]Plugin, 0, len(d.Plugins))
	for _, spec := range d.Plugins {
		h, err := newPlugin(spec)
		if err != nil {
			return nil, nil, err
		}
		if sp, ok := h.(setupPlugin); ok {
			sp.Setup(env)
		}
		hooks = append(hooks, h)
	}

	return env, hooks, nil
}

func (p *Pipeline) buildOptions(env *buildEnv, entryPoints []api.EntryPoint) api.BuildOptions {
	d := p.descriptor
	production := d.production()

	return api.BuildOptions{
		AbsWorkingDir:       d.Context,
		EntryPointsAdvanced: entryPoints,
		Bundle:              true,
		Write:               false,
		Metafile:            true,
		Outdir:              d.OutputDir(),
		EntryNames:          d.entryNames(),
		AssetNames:          d.Output.AssetFilename,
		PublicPath:          d.Output.PublicPath,
		Format:              api.FormatIIFE,
		Target:              api.ES2015,
		MinifyWhitespace:    production,
		MinifyIdentifiers:   production,
		MinifySyntax:        production,
		Sourcemap:           d.sourceMap(),
		LogLevel:            api.LogLevelSilent,
		Define: map[string]string{
			"process.env.NODE_ENV": jsString(d.Mode),
		},
		Plugins: append(append([]api.Plugin(nil), env.esbuild...), rulesPlugin(env)),
	}
}

// collect turns the bundler result into an Output, grouping files into entry
// chunks with the metafile.
func (p *Pipeline) collect(env *buildEnv, result api.BuildResult) (*Output, error) {
	d := p.descriptor

	var metadata BuildMetadata
	if err := json.Unmarshal([]byte(result.Metafile), &metadata); err != nil {
		return nil, fmt.Errorf("failed to parse metafile: %w", err)
	}

	out := &Output{
		Context:     d.Context,
		Dir:         d.OutputDir(),
		PublicPath:  d.Output.PublicPath,
		Fingerprint: env.fingerprint,
		Entries:     append(EntryPoints(nil), d.Entry...),
		Chunks:      map[string][]*File{},
		Metafile:    result.Metafile,
	}

	// Metafile keys are relative to the working directory.
	byKey := map[string]*File{}
	for _, of := range result.OutputFiles {
		f := &File{Path: of.Path, Contents: of.Contents, Kind: KindAsset}
		if strings.HasSuffix(of.Path, ".map") {
			f.Kind = KindSourceMap
		}
		out.Add(f)
		byKey[env.relative(of.Path)] = f
	}

	for _, entry := range d.Entry {
		input := env.relative(d.EntryPath(entry))
		key, info, ok := findEntry(metadata, input)
		if !ok {
			return nil, fmt.Errorf("entry %s (%s) not found in metafile", entry.Name, input)
		}

		visited := map[string]bool{}
		var add func(key string, info OutputInfo)
		add = func(key string, info OutputInfo) {
			if visited[key] {
				return
			}
			visited[key] = true
			if f := byKey[key]; f != nil {
				f.Kind = KindChunk
				out.Chunks[entry.Name] = append(out.Chunks[entry.Name], f)
			}
			for _, imp := range info.Imports {
				// Emitted files are assets, not part of the entry's chunk list.
				if imp.External || imp.Kind == "file-loader" || imp.Kind == "url-token" {
					continue
				}
				if dep, ok := metadata.Outputs[imp.Path]; ok {
					add(imp.Path, dep)
				}
			}
		}
		add(key, info)
		if info.CSSBundle != "" {
			add(info.CSSBundle, metadata.Outputs[info.CSSBundle])
		}
	}

	for key, info := range metadata.Outputs {
		f := byKey[key]
		if f == nil || f.Kind != KindAsset {
			continue
		}
		for input := range info.Inputs {
			f.Source = input
		}
	}

	return out, nil
}

func findEntry(metadata BuildMetadata, input string) (string, OutputInfo, bool) {
	for key, info := range metadata.Outputs {
		if info.EntryPoint == input {
			return key, info, true
		}
	}
	return "", OutputInfo{}, false
}

// write puts every file on disk. If any write fails the files written so far
// are removed again.
func write(out *Output) error {
	if err := os.MkdirAll(out.Dir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	var written []string
	rollback := func() {
		for _, path := range written {
			if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
				log.Warn().Err(err).Str("file", path).Msg("Failed to remove partial output")
			}
		}
	}

	for _, f := range out.Files {
		if err := os.MkdirAll(filepath.Dir(f.Path), 0o755); err != nil {
			rollback()
			return fmt.Errorf("failed to create output directory: %w", err)
		}
		// #nosec G306 - built assets are served to browsers
		if err := os.WriteFile(f.Path, f.Contents, 0o644); err != nil {
			rollback()
			return fmt.Errorf("failed to write %s: %w", f.Name(), err)
		}
		written = append(written, f.Path)
		log.Debug().Str("file", f.Path).Str("kind", f.Kind.String()).Int("bytes", len(f.Contents)).Msg("Built file")
	}
	return nil
}

func runPlugin(ctx context.Context, name, hook string, fn func(ctx context.Context) error) error {
	ctx, span := telemetry.Tracer().Start(ctx, "plugin."+name,
		trace.WithAttributes(attribute.String("hook", hook)))
	defer span.End()

	started := time.Now()
	err := fn(ctx)
	telemetry.GetMetrics().PluginDuration.Record(ctx, float64(time.Since(started).Milliseconds()),
		metric.WithAttributes(attribute.String("plugin", name), attribute.String("hook", hook)))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("plugin %s: %w", name, err)
	}
	return nil
}

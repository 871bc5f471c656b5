package assets

import (
	"bytes"
	"context"
	"fmt"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog/log"
)

// compressible lists the extensions worth precompressing.
var compressible = map[string]bool{
	".js":   true,
	".css":  true,
	".svg":  true,
	".json": true,
	".html": true,
	".txt":  true,
}

// compressPlugin adds precompressed siblings (.gz, .zst) of text outputs so a
// static file server can hand them out without compressing per request.
type compressPlugin struct {
	formats  []string
	minBytes int
}

type compressOptions struct {
	Formats  []string `yaml:"formats"`
	MinBytes int      `yaml:"minBytes"`
}

func newCompressPlugin(opts map[string]any) (Plugin, error) {
	o := compressOptions{Formats: []string{"gzip", "zstd"}, MinBytes: 1024}
	if err := decodeOptions(opts, &o); err != nil {
		return nil, err
	}
	for _, f := range o.Formats {
		if f != "gzip" && f != "zstd" {
			return nil, fmt.Errorf("unknown format %q", f)
		}
	}
	return &compressPlugin{formats: o.Formats, minBytes: o.MinBytes}, nil
}

func (p *compressPlugin) Name() string { return "compress" }

func (p *compressPlugin) Apply(_ context.Context, out *Output) error {
	files := append([]*File(nil), out.Files...)
	for _, f := range files {
		if f.Kind == KindSourceMap || f.Kind == KindDerived {
			continue
		}
		if !compressible[f.Ext()] || len(f.Contents) < p.minBytes {
			continue
		}
		for _, format := range p.formats {
			data, ext, err := compress(format, f.Contents)
			if err != nil {
				return fmt.Errorf("compress: %s: %w", f.Name(), err)
			}
			out.Add(&File{Path: f.Path + ext, Contents: data, Kind: KindDerived, Source: f.Source})
			log.Debug().Str("file", f.Name()).Str("format", format).
				Int("bytes", len(f.Contents)).Int("compressed", len(data)).Msg("Compressed output")
		}
	}
	return nil
}

func compress(format string, data []byte) ([]byte, string, error) {
	switch format {
	case "gzip":
		var buf bytes.Buffer
		w, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
		if err != nil {
			return nil, "", err
		}
		if _, err := w.Write(data); err != nil {
			return nil, "", err
		}
		if err := w.Close(); err != nil {
			return nil, "", err
		}
		return buf.Bytes(), ".gz", nil
	case "zstd":
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBestCompression))
		if err != nil {
			return nil, "", err
		}
		defer enc.Close()
		return enc.EncodeAll(data, nil), ".zst", nil
	default:
		return nil, "", fmt.Errorf("unknown format %q", format)
	}
}

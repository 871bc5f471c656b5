package assets

import (
	"path/filepath"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// BuildMetadata is the subset of the esbuild metafile used to group outputs
// into entry chunks.
type BuildMetadata struct {
	Outputs map[string]OutputInfo `json:"outputs"`
}

type OutputInfo struct {
	Bytes      int                  `json:"bytes"`
	EntryPoint string               `json:"entryPoint"`
	CSSBundle  string               `json:"cssBundle"`
	Imports    []ImportInfo         `json:"imports"`
	Inputs     map[string]InputInfo `json:"inputs"`
}

type ImportInfo struct {
	Path     string `json:"path"`
	Kind     string `json:"kind"`
	External bool   `json:"external"`
}

type InputInfo struct {
	BytesInOutput int `json:"bytesInOutput"`
}

// FileKind classifies an output file.
type FileKind int

const (
	// KindChunk is a script or stylesheet belonging to an entry.
	KindChunk FileKind = iota
	// KindAsset is a binary file emitted by the file step.
	KindAsset
	KindSourceMap
	// KindDerived is generated from another output, e.g. a compressed copy.
	KindDerived
)

func (k FileKind) String() string {
	switch k {
	case KindChunk:
		return "chunk"
	case KindAsset:
		return "asset"
	case KindSourceMap:
		return "sourcemap"
	case KindDerived:
		return "derived"
	default:
		return "unknown"
	}
}

// File is an output held in memory until the write phase.
type File struct {
	Path     string
	Contents []byte
	Kind     FileKind
	// Source is the input an asset was emitted from, relative to the context.
	Source string
}

func (f *File) Name() string {
	return filepath.Base(f.Path)
}

func (f *File) Ext() string {
	return strings.ToLower(filepath.Ext(f.Path))
}

// Output is the aggregate result of a build. Plugins observe and modify it in
// declaration order before anything is written.
type Output struct {
	// ID identifies one build in logs, traces and build hooks.
	ID          string
	Context     string
	Dir         string
	PublicPath  string
	Fingerprint string
	Entries     EntryPoints
	Files       []*File
	// Chunks maps each entry name to its files in load order.
	Chunks   map[string][]*File
	Metafile string
}

// Lookup returns the file at path, if any.
func (o *Output) Lookup(path string) *File {
	for _, f := range o.Files {
		if f.Path == path {
			return f
		}
	}
	return nil
}

// Add appends a file to the output set.
func (o *Output) Add(f *File) {
	o.Files = append(o.Files, f)
}

// Assets returns the emitted binary assets in output order.
func (o *Output) Assets() []*File {
	var assets []*File
	for _, f := range o.Files {
		if f.Kind == KindAsset {
			assets = append(assets, f)
		}
	}
	return assets
}

// Size is the total number of bytes across all files.
func (o *Output) Size() int64 {
	var n int64
	for _, f := range o.Files {
		n += int64(len(f.Contents))
	}
	return n
}

// PublicURL is the URL a file is served from.
func (o *Output) PublicURL(f *File) string {
	return o.URLUnder(o.PublicPath, f)
}

// URLUnder is the URL of a file served under publicPath instead of the
// build's own public path.
func (o *Output) URLUnder(publicPath string, f *File) string {
	rel, err := filepath.Rel(o.Dir, f.Path)
	if err != nil {
		rel = f.Name()
	}
	return publicPath + filepath.ToSlash(rel)
}

// Pipeline builds assets according to a descriptor.
type Pipeline struct {
	descriptor Descriptor
	cache      *lru.Cache[string, cachedAsset]
	last       *Output
	mu         sync.RWMutex
}

// New creates a pipeline. The descriptor is copied so later changes by the
// caller have no effect on it.
func New(d Descriptor) (*Pipeline, error) {
	cache, err := lru.New[string, cachedAsset](transformCacheSize)
	if err != nil {
		return nil, err
	}
	return &Pipeline{
		descriptor: d.Clone(),
		cache:      cache,
	}, nil
}

// Descriptor returns a copy of the pipeline's configuration.
func (p *Pipeline) Descriptor() Descriptor {
	return p.descriptor.Clone()
}

// Last returns the output of the most recent successful build.
func (p *Pipeline) Last() (*Output, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.last == nil {
		return nil, ErrNotBuilt
	}
	return p.last, nil
}

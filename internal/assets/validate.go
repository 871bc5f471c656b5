package assets

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Validate checks the descriptor is well formed before anything is built. It
// reports every problem it finds, not just the first.
func (d Descriptor) Validate() error {
	var errs []error
	add := func(field string, err error) {
		errs = append(errs, &ValidationError{Field: field, Err: err})
	}

	if !filepath.IsAbs(d.Context) {
		add("context", fmt.Errorf("must be an absolute path, got %q", d.Context))
	} else if info, err := os.Stat(d.Context); err != nil {
		add("context", err)
	} else if !info.IsDir() {
		add("context", fmt.Errorf("%s is not a directory", d.Context))
	}

	if len(d.Entry) == 0 {
		add("entry", errors.New("at least one entry is required"))
	}
	seen := map[string]bool{}
	for _, e := range d.Entry {
		field := fmt.Sprintf("entry[%s]", e.Name)
		if e.Name == "" {
			add(field, errors.New("entry name is empty"))
		}
		if seen[e.Name] {
			add(field, errors.New("duplicate entry name"))
		}
		seen[e.Name] = true
		if err := checkReadable(d.EntryPath(e)); err != nil {
			add(field, err)
		}
	}

	if d.Output.Path == "" {
		add("output.path", errors.New("is required"))
	}
	if !strings.Contains(d.Output.Filename, HashPlaceholder) {
		add("output.filename", fmt.Errorf("pattern %q must contain %s", d.Output.Filename, HashPlaceholder))
	}
	if len(d.Entry) > 1 && !strings.Contains(d.Output.Filename, NamePlaceholder) {
		add("output.filename", fmt.Errorf("pattern %q must contain %s when there are several entries", d.Output.Filename, NamePlaceholder))
	}
	if d.Output.AssetFilename != "" && !strings.Contains(d.Output.AssetFilename, HashPlaceholder) {
		add("output.assetFilename", fmt.Errorf("pattern %q must contain %s", d.Output.AssetFilename, HashPlaceholder))
	}

	if _, ok := devtools[d.Devtool]; !ok {
		add("devtool", fmt.Errorf("unrecognised mode %q", d.Devtool))
	}
	if d.Mode != ModeDevelopment && d.Mode != ModeProduction {
		add("mode", fmt.Errorf("must be %s or %s, got %q", ModeDevelopment, ModeProduction, d.Mode))
	}

	usesVue, usesExtract := false, false
	for i, r := range d.Rules {
		field := fmt.Sprintf("rules[%d]", i)
		if r.Test == "" {
			add(field+".test", errors.New("is required"))
		} else if _, err := regexp.Compile(r.Test); err != nil {
			add(field+".test", err)
		}
		if r.Exclude != "" {
			if _, err := regexp.Compile(r.Exclude); err != nil {
				add(field+".exclude", err)
			}
		}
		if len(r.Use) == 0 {
			add(field+".use", errors.New("transform chain is empty"))
		}
		for j, s := range r.Use {
			if _, err := newTransform(s); err != nil {
				add(fmt.Sprintf("%s.use[%d]", field, j), err)
			}
			if s.Loader == "vue" {
				usesVue = true
			}
		}
		usesExtract = usesExtract || r.Extract
	}

	counts := map[string]int{}
	for i, p := range d.Plugins {
		counts[p.Name]++
		if _, err := newPlugin(p); err != nil {
			add(fmt.Sprintf("plugins[%d]", i), err)
		}
	}
	for _, name := range []string{"vue", "extract-styles", "manifest"} {
		if counts[name] > 1 {
			add("plugins", fmt.Errorf("plugin %q declared %d times", name, counts[name]))
		}
	}

	if usesVue && counts["vue"] == 0 {
		add("plugins", errors.New(`the "vue" step requires the "vue" plugin`))
	}
	if counts["vuetify"] > 0 && counts["vue"] == 0 {
		add("plugins", errors.New(`the "vuetify" plugin requires the "vue" plugin`))
	}
	if usesExtract && counts["extract-styles"] == 0 {
		add("plugins", errors.New(`rules with extract require the "extract-styles" plugin`))
	}

	// The manifest must observe the final, renamed stylesheet names.
	_, extractAt, hasExtract := d.plugin("extract-styles")
	_, manifestAt, hasManifest := d.plugin("manifest")
	if hasExtract && hasManifest && manifestAt < extractAt {
		add("plugins", errors.New(`"manifest" must come after "extract-styles"`))
	}
	if _, compressAt, ok := d.plugin("compress"); ok && hasExtract && compressAt < extractAt {
		add("plugins", errors.New(`"compress" must come after "extract-styles"`))
	}
	if hasExtract && len(d.Entry) > 1 {
		spec, _, _ := d.plugin("extract-styles")
		if opts, err := decodeExtractOptions(spec.Options); err == nil && !strings.Contains(opts.Filename, NamePlaceholder) {
			add("plugins", fmt.Errorf("extract-styles filename %q must contain %s when there are several entries", opts.Filename, NamePlaceholder))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidDescriptor, errors.Join(errs...))
	}
	return nil
}

func checkReadable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrEntryNotFound, path)
		}
		return err
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%s is not a regular file", path)
	}
	f, err := os.Open(path) // #nosec G304 - entry path comes from the descriptor
	if err != nil {
		return err
	}
	return f.Close()
}

// Package build turns a project of snippet files into a single runnable
// program.
//
// Every file is instrumented, then the project is bundled by esbuild into one
// IIFE with an external source map. TypeScript and JSX files are first
// compiled to JavaScript; capture sites found in the compiled output are
// mapped back to the original file. Instrumentation results are cached per
// (source, path), so unchanged files keep their capture sites across builds.
package build

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"slices"
	"strings"
	"sync"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/go-sourcemap/sourcemap"

	"github.com/joeycumines/liveeval/internal/instrument"
	"github.com/joeycumines/liveeval/internal/protocol"
)

// OutputFile is the name the bundle is compiled under.
const OutputFile = "bundle.js"

const namespace = "liveeval"

// extensions are tried, in order, for imports without one.
var extensions = []string{".js", ".jsx", ".ts", ".tsx", ".mjs"}

// Project is a set of files keyed by slash-separated relative path.
type Project struct {
	Files map[string]string
	// Entry is the file to start from. Empty means "main.js", or the only
	// file if there is just one.
	Entry string
}

func (p Project) entry() (string, error) {
	switch {
	case p.Entry != "":
		if _, ok := p.Files[clean(p.Entry)]; !ok {
			return "", fmt.Errorf("build: entry %q not in project", p.Entry)
		}
		return clean(p.Entry), nil
	case len(p.Files) == 1:
		for name := range p.Files {
			return clean(name), nil
		}
	}
	if _, ok := p.Files["main.js"]; ok {
		return "main.js", nil
	}
	return "", errors.New("build: no entry file")
}

// Output is a successful build.
type Output struct {
	Code      string
	SourceMap string
	// Contexts are the capture sites of every bundled file, ordered by id.
	Contexts []instrument.CaptureContext
	Warnings []Diagnostic
}

// Document returns the output as a run message document.
func (o *Output) Document() *protocol.Document {
	return &protocol.Document{
		File:      OutputFile,
		Code:      o.Code,
		SourceMap: o.SourceMap,
		Contexts:  o.Contexts,
	}
}

// Options configures a Builder.
type Options struct {
	// LoopLimit is passed to the instrumentation transform.
	LoopLimit int
	Logger    *slog.Logger
}

// Builder builds projects. It is safe for concurrent use.
type Builder struct {
	counter *instrument.Counter
	opts    Options
	log     *slog.Logger

	mu    sync.Mutex
	cache map[cacheKey]*instrumented
}

type cacheKey struct {
	source string
	path   string
}

type instrumented struct {
	code     string
	contexts []instrument.CaptureContext
}

// NewBuilder returns a Builder issuing context ids from counter.
func NewBuilder(counter *instrument.Counter, opts Options) *Builder {
	if counter == nil {
		counter = instrument.NewCounter(0)
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Builder{
		counter: counter,
		opts:    opts,
		log:     log,
		cache:   make(map[cacheKey]*instrumented),
	}
}

// Build instruments and bundles p. Syntax and resolution problems are
// returned as *Error. A cancelled ctx aborts the build with ctx.Err().
func (b *Builder) Build(ctx context.Context, p Project) (*Output, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entry, err := p.entry()
	if err != nil {
		return nil, err
	}
	files := make(map[string]string, len(p.Files))
	for name, src := range p.Files {
		files[clean(name)] = src
	}

	var (
		mu       sync.Mutex
		contexts []instrument.CaptureContext
	)
	plugin := api.Plugin{
		Name: namespace,
		Setup: func(pb api.PluginBuild) {
			pb.OnResolve(api.OnResolveOptions{Filter: ".*"}, func(args api.OnResolveArgs) (api.OnResolveResult, error) {
				target, ok := resolve(files, args.Importer, args.Path)
				if !ok {
					return api.OnResolveResult{}, fmt.Errorf("cannot resolve %q", args.Path)
				}
				return api.OnResolveResult{Path: target, Namespace: namespace}, nil
			})
			pb.OnLoad(api.OnLoadOptions{Filter: ".*", Namespace: namespace}, func(args api.OnLoadArgs) (api.OnLoadResult, error) {
				if err := ctx.Err(); err != nil {
					return api.OnLoadResult{}, err
				}
				res, diags := b.instrument(args.Path, files[args.Path])
				if res == nil {
					return api.OnLoadResult{Errors: diags}, nil
				}
				mu.Lock()
				contexts = append(contexts, res.contexts...)
				mu.Unlock()
				code := res.code
				return api.OnLoadResult{Contents: &code, Loader: api.LoaderJS}, nil
			})
		},
	}

	result := api.Build(api.BuildOptions{
		EntryPoints: []string{entry},
		Bundle:      true,
		Write:       false,
		Outfile:     OutputFile,
		Format:      api.FormatIIFE,
		Target:      api.ES2017,
		Sourcemap:   api.SourceMapExternal,
		TreeShaking: api.TreeShakingFalse,
		JSX:         api.JSXTransform,
		JSXFactory:  "h",
		JSXFragment: "Fragment",
		Plugins:     []api.Plugin{plugin},
		LogLevel:    api.LogLevelSilent,
	})
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	warnings := diagnostics(result.Warnings)
	if len(result.Errors) > 0 {
		return nil, &Error{Diagnostics: diagnostics(result.Errors), Warnings: warnings}
	}

	out := &Output{Warnings: warnings}
	for _, f := range result.OutputFiles {
		switch {
		case strings.HasSuffix(f.Path, ".map"):
			out.SourceMap = normalizeSourceMap(f.Contents, files)
		case strings.HasSuffix(f.Path, ".js"):
			out.Code = string(f.Contents)
		}
	}
	slices.SortFunc(contexts, func(a, b instrument.CaptureContext) int { return a.ID - b.ID })
	out.Contexts = slices.CompactFunc(contexts, func(a, b instrument.CaptureContext) bool { return a.ID == b.ID })
	b.log.Debug("built project", "entry", entry, "files", len(files), "contexts", len(out.Contexts), "warnings", len(warnings))
	return out, nil
}

// instrument returns the instrumented form of one file, from the cache when
// possible.
func (b *Builder) instrument(name, src string) (*instrumented, []api.Message) {
	key := cacheKey{source: src, path: name}
	b.mu.Lock()
	res, ok := b.cache[key]
	b.mu.Unlock()
	if ok {
		return res, nil
	}

	loader := loaderFor(name)
	var (
		result   *instrument.Result
		inputMap []byte
		code     = src
		err      error
	)
	if loader == api.LoaderJS {
		result, err = instrument.Instrument(src, name, b.counter, &instrument.Options{LoopLimit: b.opts.LoopLimit})
	}
	if result == nil {
		// Module syntax and non-JS dialects are compiled to CommonJS first;
		// capture sites in the compiled code are mapped back through its
		// source map.
		var msgs []api.Message
		code, inputMap, msgs = compile(name, src, loader)
		if len(msgs) > 0 {
			return nil, msgs
		}
		opts := &instrument.Options{LoopLimit: b.opts.LoopLimit}
		if sm, perr := sourcemap.Parse(name+".map", inputMap); perr == nil {
			opts.Remap = func(line, col int) (int, int, bool) {
				_, _, l, c, ok := sm.Source(line, col-1)
				return l, c + 1, ok && l > 0
			}
		}
		result, err = instrument.Instrument(code, name, b.counter, opts)
	}
	if err != nil {
		var pe *instrument.ParseError
		if errors.As(err, &pe) {
			return nil, []api.Message{{
				Text:     pe.Message,
				Location: &api.Location{File: name, Line: pe.Line, Column: max(pe.Column-1, 0), LineText: lineText(code, pe.Line)},
			}}
		}
		return nil, []api.Message{{Text: err.Error(), Location: &api.Location{File: name}}}
	}
	res = &instrumented{code: result.Code, contexts: result.Contexts}
	if inputMap != nil {
		res.code += "\n//# sourceMappingURL=data:application/json;base64," + base64.StdEncoding.EncodeToString(inputMap) + "\n"
	}
	b.mu.Lock()
	b.cache[key] = res
	b.mu.Unlock()
	return res, nil
}

// Forget drops every cached instrumentation result.
func (b *Builder) Forget() {
	b.mu.Lock()
	clear(b.cache)
	b.mu.Unlock()
}

// compile lowers one file to plain CommonJS, returning the code and its
// source map.
func compile(name, src string, loader api.Loader) (string, []byte, []api.Message) {
	tr := api.Transform(src, api.TransformOptions{
		Loader:      loader,
		Sourcefile:  name,
		Sourcemap:   api.SourceMapExternal,
		Format:      api.FormatCommonJS,
		Target:      api.ES2017,
		JSX:         api.JSXTransform,
		JSXFactory:  "h",
		JSXFragment: "Fragment",
	})
	if len(tr.Errors) > 0 {
		return "", nil, tr.Errors
	}
	return string(tr.Code), tr.Map, nil
}

func loaderFor(name string) api.Loader {
	switch path.Ext(name) {
	case ".ts", ".mts", ".cts":
		return api.LoaderTS
	case ".tsx":
		return api.LoaderTSX
	case ".jsx":
		return api.LoaderJSX
	}
	return api.LoaderJS
}

func clean(name string) string {
	return strings.TrimPrefix(path.Clean("/"+strings.ReplaceAll(name, "\\", "/")), "/")
}

// resolve maps an import specifier to a project file.
func resolve(files map[string]string, importer, spec string) (string, bool) {
	var base string
	switch {
	case importer == "":
		base = clean(spec)
	case strings.HasPrefix(spec, "./"), strings.HasPrefix(spec, "../"):
		base = clean(path.Join(path.Dir(importer), spec))
	case strings.HasPrefix(spec, "/"):
		base = clean(spec)
	default:
		return "", false
	}
	if _, ok := files[base]; ok {
		return base, true
	}
	for _, ext := range extensions {
		if _, ok := files[base+ext]; ok {
			return base + ext, true
		}
	}
	for _, ext := range extensions {
		if _, ok := files[path.Join(base, "index"+ext)]; ok {
			return path.Join(base, "index"+ext), true
		}
	}
	return "", false
}

// normalizeSourceMap strips the plugin namespace from source paths, so
// positions map to the project's own file names, and embeds the original
// file contents in place of the instrumented ones.
func normalizeSourceMap(b []byte, files map[string]string) string {
	var m struct {
		Version        int      `json:"version"`
		File           string   `json:"file,omitempty"`
		Sources        []string `json:"sources"`
		SourcesContent []string `json:"sourcesContent,omitempty"`
		Mappings       string   `json:"mappings"`
		Names          []string `json:"names"`
	}
	if err := json.Unmarshal(b, &m); err != nil {
		return string(b)
	}
	m.SourcesContent = make([]string, len(m.Sources))
	for i, s := range m.Sources {
		m.Sources[i] = clean(strings.TrimPrefix(s, namespace+":"))
		m.SourcesContent[i] = files[m.Sources[i]]
	}
	out, err := json.Marshal(m)
	if err != nil {
		return string(b)
	}
	return string(out)
}

func lineText(src string, line int) string {
	lines := strings.Split(src, "\n")
	if line < 1 || line > len(lines) {
		return ""
	}
	return lines[line-1]
}

package command

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/joeycumines/liveeval/internal/build"
)

// sourceExtensions are the files collected when a directory is given.
var sourceExtensions = []string{".js", ".jsx", ".ts", ".tsx", ".mjs", ".cjs"}

// loadProject reads the named files into a project. A single directory
// contributes every source file beneath it; otherwise paths are files, keyed
// relative to the first one's directory, and the first is the entry. An
// explicit entry overrides either default.
func loadProject(paths []string, entry string) (build.Project, error) {
	if len(paths) == 0 {
		return build.Project{}, errors.New("no input files")
	}
	p := build.Project{Files: make(map[string]string), Entry: filepath.ToSlash(entry)}

	if len(paths) == 1 {
		info, err := os.Stat(paths[0])
		if err != nil {
			return build.Project{}, err
		}
		if info.IsDir() {
			if err := readDir(paths[0], p.Files); err != nil {
				return build.Project{}, err
			}
			if len(p.Files) == 0 {
				return build.Project{}, fmt.Errorf("no source files in %s", paths[0])
			}
			return p, nil
		}
	}

	root := filepath.Dir(paths[0])
	for i, path := range paths {
		rel, err := filepath.Rel(root, path)
		if err != nil || strings.HasPrefix(rel, "..") {
			return build.Project{}, fmt.Errorf("%s is outside %s", path, root)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return build.Project{}, err
		}
		name := filepath.ToSlash(rel)
		p.Files[name] = string(data)
		if i == 0 && p.Entry == "" {
			p.Entry = name
		}
	}
	return p, nil
}

func readDir(root string, files map[string]string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && (strings.HasPrefix(d.Name(), ".") || d.Name() == "node_modules") {
				return filepath.SkipDir
			}
			return nil
		}
		if !slices.Contains(sourceExtensions, filepath.Ext(path)) {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		files[filepath.ToSlash(rel)] = string(data)
		return nil
	})
}

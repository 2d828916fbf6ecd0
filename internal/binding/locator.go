package binding

import (
	"os"
	"path/filepath"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/descriptorpb"

	canvaserrors "github.com/canvasmesh/canvas/pkg/errors"
)

// knownDescriptorNames is the closed set of descriptor set file names
// recognised during directory resolution.
var knownDescriptorNames = []string{
	"descriptors.desc",
	"descriptor.desc",
	"descriptor.pb",
	"canvas-descriptors.desc",
}

// moduleRelativeDirs are the default locations inside a module where a
// compiled descriptor set is expected.
var moduleRelativeDirs = []string{
	".",
	"descriptors",
	filepath.Join("build", "descriptors"),
}

const siblingWalkDepth = 2

// LocateOptions control descriptor set resolution.
type LocateOptions struct {
	// File is the explicit descriptor.file compiler option.
	File string
	// Dir is the explicit descriptor.path compiler option.
	Dir string
	// ModuleDir is the current module directory.
	ModuleDir string
	// RequiredServices, when non-empty, selects the first candidate that
	// declares at least one of the expected services.
	RequiredServices []string
}

// Locate finds and parses the descriptor set catalogue. Candidates are
// tried in order: explicit file, explicit directory, module default paths,
// the sibling common module, then a bounded-depth walk over siblings. With
// required services the first declaring candidate wins; otherwise the first
// readable candidate does.
func Locate(opts LocateOptions) (*descriptorpb.FileDescriptorSet, string, error) {
	candidates := collectCandidates(opts)

	required := make(map[string]struct{}, len(opts.RequiredServices))
	for _, svc := range opts.RequiredServices {
		required[svc] = struct{}{}
	}

	var firstReadable *descriptorpb.FileDescriptorSet
	var firstReadablePath string
	inspected := make([]string, 0, len(candidates))

	for _, candidate := range candidates {
		inspected = append(inspected, candidate)
		set, err := readDescriptorSet(candidate)
		if err != nil {
			continue
		}
		if len(required) == 0 {
			return set, candidate, nil
		}
		if declaresAny(set, required) {
			return set, candidate, nil
		}
		if firstReadable == nil {
			firstReadable = set
			firstReadablePath = candidate
		}
	}

	if firstReadable != nil {
		return firstReadable, firstReadablePath, nil
	}

	return nil, "", canvaserrors.NewBindingFailure("descriptor set not found", nil).
		WithContext(map[string]any{"inspected": inspected})
}

func collectCandidates(opts LocateOptions) []string {
	var candidates []string
	if opts.File != "" {
		candidates = append(candidates, opts.File)
	}
	if opts.Dir != "" {
		for _, name := range knownDescriptorNames {
			candidates = append(candidates, filepath.Join(opts.Dir, name))
		}
	}
	if opts.ModuleDir == "" {
		return candidates
	}

	candidates = append(candidates, moduleCandidates(opts.ModuleDir)...)

	parent := filepath.Dir(opts.ModuleDir)
	common := filepath.Join(parent, "common")
	if common != opts.ModuleDir {
		candidates = append(candidates, moduleCandidates(common)...)
	}

	for _, sibling := range siblings(parent, opts.ModuleDir, common) {
		candidates = append(candidates, moduleCandidates(sibling)...)
	}
	return candidates
}

func moduleCandidates(moduleDir string) []string {
	var out []string
	for _, rel := range moduleRelativeDirs {
		for _, name := range knownDescriptorNames {
			out = append(out, filepath.Join(moduleDir, rel, name))
		}
	}
	return out
}

// siblings walks the parent directory to a bounded depth, skipping the
// current module and the common module already probed.
func siblings(parent, moduleDir, common string) []string {
	var out []string
	var walk func(dir string, depth int)
	walk = func(dir string, depth int) {
		if depth > siblingWalkDepth {
			return
		}
		entries, err := os.ReadDir(dir)
		if err != nil {
			return
		}
		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			child := filepath.Join(dir, entry.Name())
			if child == moduleDir || child == common {
				continue
			}
			out = append(out, child)
			walk(child, depth+1)
		}
	}
	walk(parent, 1)
	return out
}

func readDescriptorSet(path string) (*descriptorpb.FileDescriptorSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var set descriptorpb.FileDescriptorSet
	if err := proto.Unmarshal(data, &set); err != nil {
		return nil, err
	}
	return &set, nil
}

func declaresAny(set *descriptorpb.FileDescriptorSet, required map[string]struct{}) bool {
	for _, file := range set.GetFile() {
		for _, svc := range file.GetService() {
			if _, ok := required[svc.GetName()]; ok {
				return true
			}
		}
	}
	return false
}

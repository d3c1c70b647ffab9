package ops

import (
	"context"
	"path/filepath"

	"lab47.dev/kiln/pkg/fileutils"
)

// ExportSources copies the recipe's exported source files into dest,
// keeping their paths relative to the export base. VCS metadata is never
// exported.
func (e *Evaluator) ExportSources(ctx context.Context, dest string) ([]string, error) {
	exports := e.recipe.ExportsSources

	if len(exports) == 0 {
		return nil, nil
	}

	if err := exports.Validate(); err != nil {
		return nil, err
	}

	root := filepath.Join(e.dir, filepath.FromSlash(exports.Base()))

	cp := &fileutils.Copy{
		Ctx:      ctx,
		L:        e.L(),
		Root:     root,
		Dest:     dest,
		KeepPath: true,
		Select:   exports.Match,
		Prune: func(rel string) bool {
			return filepath.Base(rel) == ".git" || exports.Excluded(rel)
		},
	}

	files, err := cp.Run()
	if err != nil {
		return nil, track(err)
	}

	e.L().Debug("exported sources", "root", root, "dest", dest, "files", len(files))

	return files, nil
}

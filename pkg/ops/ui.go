package ops

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/morikuni/aec"
	"lab47.dev/kiln/pkg/data"
	"lab47.dev/kiln/pkg/humanize"
	"lab47.dev/kiln/pkg/manifest"
	"lab47.dev/kiln/pkg/recipe"
)

type UI struct {
	Out io.Writer

	// Plain disables escape sequences.
	Plain bool
}

func (u *UI) out() io.Writer {
	if u.Out == nil {
		return os.Stdout
	}

	return u.Out
}

func (u *UI) header(format string, args ...interface{}) {
	line := fmt.Sprintf(format, args...)

	if !u.Plain {
		line = aec.Bold.Apply(line)
	}

	fmt.Fprintf(u.out(), "==> %s\n", line)
}

func (u *UI) Evaluating(rec *recipe.Recipe) {
	version := rec.Version
	if version == "" {
		version = "(no version)"
	}

	u.header("%s %s", rec.Name, version)

	if len(rec.Requires) > 0 {
		var reqs []string
		for _, r := range rec.Requires {
			reqs = append(reqs, r.String())
		}

		fmt.Fprintf(u.out(), "    requires: %s\n", strings.Join(reqs, ", "))
	}
}

func (u *UI) Step(name string) {
	u.header("%s", name)
}

func (u *UI) FetchSource(url string) {
	u.header("Fetching %s", url)
}

func (u *UI) Packaged(root string, report *manifest.Report) {
	u.header("Packaged %d files into %s", report.Total(), root)

	for _, res := range report.Results {
		fmt.Fprintf(u.out(), "    %-10s -> %-8s %d\n", res.Rule.Pattern, res.Rule.Dst+"/", len(res.Files))
	}
}

func (u *UI) Exported(path string, size int64, info *data.ArchiveInfo) {
	u.header("Exported %s (%s)", path, humanize.Size(size))
	fmt.Fprintf(u.out(), "    signer: %s\n", info.Signer)
}

func (u *UI) Uploading(id, target string) {
	u.header("Uploading %s to %s", id, target)
}

type uiMarker struct{}

func WithUI(ctx context.Context, u *UI) context.Context {
	return context.WithValue(ctx, uiMarker{}, u)
}

func GetUI(ctx context.Context) *UI {
	v := ctx.Value(uiMarker{})
	if v == nil {
		return &UI{}
	}

	return v.(*UI)
}

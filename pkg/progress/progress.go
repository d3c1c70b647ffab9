package progress

import (
	"context"
	"fmt"
	"io"
	"time"

	pb "github.com/schollz/progressbar/v3"
)

type sink struct {
	w io.Writer
}

type sinkKey struct{}

// Open returns a context that renders progress bars to w. Without it every
// bar is a no-op, which is what library callers and tests get.
func Open(ctx context.Context, w io.Writer) context.Context {
	return context.WithValue(ctx, sinkKey{}, sink{w})
}

func fromContext(ctx context.Context) (sink, bool) {
	h, ok := ctx.Value(sinkKey{}).(sink)
	return h, ok
}

type Progress struct {
	bar    *pb.ProgressBar
	prefix string
}

func (t *Progress) Add(cnt int64) {
	if t.bar == nil {
		return
	}

	t.bar.Add64(cnt)
}

func (t *Progress) Tick() {
	t.Add(1)
}

// Set moves the bar to an absolute position, growing the total if needed.
func (t *Progress) Set(cur, total int64) {
	if t.bar == nil {
		return
	}

	t.bar.ChangeMax64(total)
	t.bar.Set64(cur)
}

func (t *Progress) Close() {
	if t.bar == nil {
		return
	}

	t.bar.Close()
}

func (t *Progress) On(step string) {
	if t.bar == nil {
		return
	}

	t.bar.Describe(t.prefix + ": " + step)
}

func theme() pb.Theme {
	return pb.Theme{Saucer: "=", SaucerPadding: " ", BarStart: "[", BarEnd: "]"}
}

// Count opens a bar over total discrete steps.
func Count(ctx context.Context, total int64, desc string) *Progress {
	s, ok := fromContext(ctx)
	if !ok {
		return &Progress{}
	}

	bar := pb.NewOptions64(
		total,
		pb.OptionSetDescription(desc),
		pb.OptionSetWriter(s.w),
		pb.OptionSetWidth(20),
		pb.OptionThrottle(65*time.Millisecond),
		pb.OptionShowCount(),
		pb.OptionSetTheme(theme()),
		pb.OptionOnCompletion(func() {
			fmt.Fprint(s.w, "\n")
		}),
		pb.OptionFullWidth(),
	)
	bar.RenderBlank()

	return &Progress{prefix: desc, bar: bar}
}

// Bytes opens a bar measuring a transfer of total bytes.
func Bytes(ctx context.Context, total int64, desc string) *Progress {
	s, ok := fromContext(ctx)
	if !ok {
		return &Progress{}
	}

	bar := pb.NewOptions64(
		total,
		pb.OptionSetDescription(desc),
		pb.OptionSetWriter(s.w),
		pb.OptionSetWidth(20),
		pb.OptionThrottle(65*time.Millisecond),
		pb.OptionShowBytes(true),
		pb.OptionSetTheme(theme()),
		pb.OptionOnCompletion(func() {
			fmt.Fprint(s.w, "\n")
		}),
		pb.OptionSpinnerType(14),
		pb.OptionFullWidth(),
	)

	return &Progress{prefix: desc, bar: bar}
}

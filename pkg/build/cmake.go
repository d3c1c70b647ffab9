package build

import (
	"context"
	"os"

	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"
)

// Tool configures and compiles a source tree.
type Tool interface {
	Configure(ctx context.Context, inv *Invocation) error
	Build(ctx context.Context, inv *Invocation) error
}

type CMake struct {
	// Path is the cmake executable. Empty means look it up on PATH.
	Path string

	Runner Runner
	L      hclog.Logger
}

var _ Tool = (*CMake)(nil)

func (c *CMake) exe() (string, error) {
	if c.Path != "" {
		return c.Path, nil
	}

	return LookPath("cmake", os.Getenv("PATH"))
}

func (c *CMake) runner(inv *Invocation) Runner {
	if c.Runner != nil {
		return c.Runner
	}

	return &ExecRunner{Prefix: inv.Name, L: c.L}
}

// ConfigureArgs is the argv of the configure step.
func (c *CMake) ConfigureArgs(exe string, inv *Invocation) []string {
	argv := []string{exe, "-S", inv.SourceDir, "-B", inv.BuildDir}
	return append(argv, inv.Defines()...)
}

// BuildArgs is the argv of the compile step.
func (c *CMake) BuildArgs(exe string, inv *Invocation) []string {
	return []string{exe, "--build", inv.BuildDir, "--config", inv.BuildType()}
}

func (c *CMake) Configure(ctx context.Context, inv *Invocation) error {
	exe, err := c.exe()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(inv.BuildDir, 0755); err != nil {
		return err
	}

	err = c.runner(inv).Run(ctx, inv.BuildDir, c.ConfigureArgs(exe, inv))
	if err != nil {
		return errors.Wrapf(err, "configuring %s", inv.Name)
	}

	return nil
}

func (c *CMake) Build(ctx context.Context, inv *Invocation) error {
	exe, err := c.exe()
	if err != nil {
		return err
	}

	err = c.runner(inv).Run(ctx, inv.BuildDir, c.BuildArgs(exe, inv))
	if err != nil {
		return errors.Wrapf(err, "building %s", inv.Name)
	}

	return nil
}

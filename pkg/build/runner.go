package build

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"
)

var ErrNotFound = errors.New("executable not found")

// Runner executes one external command in dir.
type Runner interface {
	Run(ctx context.Context, dir string, argv []string) error
}

// ExecRunner runs commands as child processes, echoing each output line to
// Out behind Prefix.
type ExecRunner struct {
	Prefix string
	Out    io.Writer
	Env    []string
	L      hclog.Logger
}

func (r *ExecRunner) Run(ctx context.Context, dir string, argv []string) error {
	if len(argv) == 0 {
		return errors.New("empty command")
	}

	L := r.L
	if L == nil {
		L = hclog.L()
	}

	out := r.Out
	if out == nil {
		out = os.Stdout
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir

	if r.Env != nil {
		cmd.Env = r.Env
	}

	L.Debug("running command", "dir", dir, "argv", strings.Join(argv, " "))

	or, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}

	er, err := cmd.StderrPipe()
	if err != nil {
		return err
	}

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)

	echo := func(rd io.Reader) {
		defer wg.Done()

		br := bufio.NewReader(rd)
		for {
			line, err := br.ReadString('\n')
			if len(line) > 0 {
				mu.Lock()
				fmt.Fprintf(out, "%s │ %s\n", r.Prefix, strings.TrimRight(line, " \n\t"))
				mu.Unlock()
			}

			if err != nil {
				return
			}
		}
	}

	err = cmd.Start()
	if err != nil {
		return err
	}

	wg.Add(2)
	go echo(or)
	go echo(er)

	wg.Wait()

	err = cmd.Wait()
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		return errors.Wrapf(err, "%s", filepath.Base(argv[0]))
	}

	return nil
}

func findExecutable(file string) error {
	d, err := os.Stat(file)
	if err != nil {
		return err
	}
	if m := d.Mode(); !m.IsDir() && m&0111 != 0 {
		return nil
	}
	return os.ErrPermission
}

// LookPath searches the directories in path for an executable named file.
// A file containing a slash is tried directly.
func LookPath(file string, path string) (string, error) {
	if strings.Contains(file, "/") {
		err := findExecutable(file)
		if err == nil {
			return file, nil
		}
		return "", errors.Wrapf(ErrNotFound, "%s: %s", file, err)
	}

	for _, dir := range filepath.SplitList(path) {
		if dir == "" {
			// Unix shell semantics: path element "" means "."
			dir = "."
		}
		path := filepath.Join(dir, file)
		if err := findExecutable(path); err == nil {
			return path, nil
		}
	}
	return "", errors.Wrapf(ErrNotFound, "unable to find executable: %s", file)
}

package ops

import "github.com/pkg/errors"

var (
	ErrNoBuildRoot     = errors.New("no build root set")
	ErrNothingPackaged = errors.New("no files matched any copy rule")
	ErrNoSource        = errors.New("recipe has no source url")
	ErrNoConsumer      = errors.New("no consumer project")
	ErrNoExecutable    = errors.New("consumer build produced no executable")
	ErrPkgConfig       = errors.New("pkg-config file does not match the package")
)

func track(err error) error {
	return errors.WithStack(err)
}

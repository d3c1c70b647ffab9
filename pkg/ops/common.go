package ops

import "github.com/hashicorp/go-hclog"

// common carries the logger shared by the evaluator and archive operations.
type common struct {
	logger hclog.Logger
}

// L returns the operation's logger, the process default when none was set.
func (c *common) L() hclog.Logger {
	if c.logger == nil {
		c.logger = hclog.L()
	}

	return c.logger
}

func (c *common) SetLogger(logger hclog.Logger) {
	c.logger = logger
}

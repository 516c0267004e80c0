package docker

import (
	"context"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// Capabilities caches feature probes of the installed docker CLI. Each
// probe runs at most once per process.
type Capabilities struct {
	Runner Runner

	initOnce sync.Once
	initOK   bool
}

// SupportsInit reports whether "docker run" accepts --init. Docker
// versions before 1.13 lack the flag; the probe reads "docker run --help"
// and any failure is treated as "not supported" rather than an error.
func (c *Capabilities) SupportsInit(ctx context.Context) bool {
	c.initOnce.Do(func() {
		// Help output does not need the daemon, so no sudo prefix.
		res, err := c.Runner.Run(ctx, []string{"docker", "run", "--help"}, nil)
		if err != nil {
			logrus.Debugf("could not probe docker run --init support: %v", err)
			return
		}
		c.initOK = strings.Contains(string(res.Output), "--init")
	})
	return c.initOK
}

package config

import (
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"
)

// ConfigureLogging sets up commonlog from the [log] section. verbosity
// is added to the file's level (so -v flags can raise it). An empty file
// logs to stderr.
func (c *Config) ConfigureLogging(verbosity int) {
	var path *string
	if c.Log.File != "" {
		p := c.Resolve(c.Log.File)
		path = &p
	}
	commonlog.Configure(c.Log.Verbosity+verbosity, path)
}

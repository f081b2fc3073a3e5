package root

import (
	"fmt"
	"os"

	mozlog "github.com/mozilla-services/go-mozlogrus"
	"github.com/sirupsen/logrus"
)

var (
	// Logger is the default log.Logger of the commands
	Logger = &logrus.Logger{
		Out:       os.Stderr,
		Formatter: &logrus.TextFormatter{DisableTimestamp: true},
		Hooks:     make(logrus.LevelHooks),
		Level:     logrus.InfoLevel,
	}
)

// setup log output based on the persistent flags
func setUpLogs(verbose bool, format, syslogAddr string) error {
	if verbose {
		Logger.SetLevel(logrus.DebugLevel)
	}
	if err := SetLogFormat(format); err != nil {
		return err
	}
	if syslogAddr != "" {
		hook, err := newSyslogHook(syslogAddr)
		if err != nil {
			return fmt.Errorf("cannot log to syslog at %s: %w", syslogAddr, err)
		}
		Logger.AddHook(hook)
	}
	return nil
}

// SetLogFormat switches the formatter of Logger. An empty format keeps plain
// text.
func SetLogFormat(format string) error {
	switch format {
	case "", "text":
		Logger.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	case "json":
		Logger.SetFormatter(&logrus.JSONFormatter{})
	case "mozlog":
		Logger.SetFormatter(&mozlog.MozLogFormatter{
			LoggerName: "childproc",
		})
	default:
		return fmt.Errorf("unknown log format %q", format)
	}
	return nil
}

// Package run implements the run subcommand, which launches a child process,
// relays its standard streams and exits with its exit code.
package run

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/taskcluster/childproc/cmds/root"
	"github.com/taskcluster/childproc/config"
	"github.com/taskcluster/childproc/pipe"
	"github.com/taskcluster/childproc/process"
)

var (
	// Command is the cobra command representing the run subtree.
	Command = &cobra.Command{
		Use:   "run [flags] [--] [application [args...]]",
		Short: "Runs a child process and relays its output.",
		Long: "Runs a child process and relays its output.\n\n" +
			"The child is taken from the arguments, or else from the configuration\n" +
			"file. childproc exits with the exit code of the child.",
		RunE: run,
	}

	// BackOffSettings controls the delay between start attempts
	BackOffSettings backoff.BackOff = backoff.NewExponentialBackOff()
)

// ExitError reports that the child exited with a non-zero exit code.
type ExitError struct {
	Code uint32
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("child exited with exit code %d", e.Code)
}

// flagKeys maps flags to the configuration keys they override
var flagKeys = map[string]string{
	"dir":           "workingDirectory",
	"merge-stderr":  "mergeStderr",
	"kill-after":    "killAfter",
	"kill-code":     "killCode",
	"start-retries": "startRetries",
	"monitor":       "monitorInterval",
	"stdin":         "redirectStdin",
}

func init() {
	fs := Command.Flags()
	fs.SetInterspersed(false)
	fs.StringP("config", "c", "", "configuration file (default "+config.DefaultPath()+")")
	fs.String("dir", "", "working directory of the child")
	fs.Bool("merge-stderr", false, "send the child's stderr to its stdout pipe")
	fs.Bool("stdin", false, "relay the stdin of childproc to the child")
	fs.String("stdin-file", "", "feed this file to the child's stdin, - for the stdin of childproc")
	fs.Bool("no-stdout", false, "discard the child's stdout")
	fs.Bool("no-stderr", false, "discard the child's stderr")
	fs.Duration("kill-after", 0, "kill the child if it is still running after this long")
	fs.Uint32("kill-code", 1, "exit code the child reports when killed")
	fs.Uint64("start-retries", 0, "retry a failed start this many times")
	fs.Duration("monitor", 0, "sample the child's resource usage at this interval")
	fs.Bool("summary", false, "print a summary to stderr once the child has exited")
	root.Command.AddCommand(Command)
}

// overrides collects the configuration keys set on the command line.
func overrides(fs *pflag.FlagSet, args []string) map[string]interface{} {
	o := map[string]interface{}{}
	if len(args) > 0 {
		o["application"] = ""
		o["commandLine"] = ""
		o["args"] = args
	}
	fs.Visit(func(f *pflag.Flag) {
		key, ok := flagKeys[f.Name]
		if !ok {
			return
		}
		switch f.Value.Type() {
		case "bool":
			o[key] = f.Value.String() == "true"
		case "uint32", "uint64":
			n, _ := strconv.ParseUint(f.Value.String(), 10, 64)
			o[key] = n
		default:
			o[key] = f.Value.String()
		}
	})
	if fs.Changed("stdin-file") {
		o["redirectStdin"] = true
	}
	return o
}

func run(cmd *cobra.Command, args []string) error {
	fs := cmd.Flags()
	path, _ := fs.GetString("config")
	cfg, err := config.Load(path, overrides(fs, args))
	if err != nil {
		return err
	}
	if !fs.Changed("log-format") {
		if err := root.SetLogFormat(cfg.LogFormat); err != nil {
			return err
		}
	}
	killAfter, _ := cfg.KillAfterDuration()
	monitorInterval, _ := cfg.MonitorIntervalDuration()
	log := root.Logger.WithField("command", "run")

	opts := cfg.Options().WithLogger(root.Logger)
	if noStdout, _ := fs.GetBool("no-stdout"); !noStdout {
		opts.RedirectStdoutTo(relay(cmd.OutOrStdout()))
	}
	if noStderr, _ := fs.GetBool("no-stderr"); !noStderr {
		opts.RedirectStderrTo(relay(cmd.ErrOrStderr()))
	}
	stdinFile, _ := fs.GetString("stdin-file")
	if stdinFile != "" {
		input, err := readInput(stdinFile, cmd.InOrStdin())
		if err != nil {
			return err
		}
		opts.WithStdinInput(input)
	}

	p, err := startWithRetries(opts, cfg.StartRetries, log)
	if err != nil {
		return err
	}
	defer p.Close()
	log = log.WithField("pid", p.PID())

	// every pipe the child writes to needs a reader, or the child blocks
	// once it is full
	if err := p.BeginReadStdout(nil); err != nil && !errors.Is(err, process.ErrNotRedirected) {
		return err
	}
	if err := p.BeginReadStderr(nil); err != nil && !errors.Is(err, process.ErrNotRedirected) {
		return err
	}
	if opts.RedirectStdin && opts.StdinInput == nil {
		go relayStdin(p, cmd.InOrStdin(), log)
	}
	if monitorInterval > 0 {
		err := p.StartMonitor(monitorInterval, func(s process.Sample) {
			log.WithFields(logrus.Fields{
				"rss": process.FormatMemoryString(s.RSS),
				"cpu": fmt.Sprintf("%.1f%%", s.CPUPercent),
			}).Debug("Resource usage")
		})
		if err != nil {
			log.WithError(err).Warn("Not monitoring resource usage")
		}
	}

	supervise(cmd, p, killAfter, cfg.KillCode, log)
	p.Wait()

	r := p.Result()
	if summary, _ := fs.GetBool("summary"); summary {
		fmt.Fprintln(cmd.ErrOrStderr(), r)
	}
	switch {
	case r.SystemError != nil:
		return r.SystemError
	case r.ExitCode != 0:
		return &ExitError{Code: r.ExitCode}
	}
	return nil
}

// relay returns a handler copying chunks to w. Handlers of different streams
// run concurrently, so writes are serialized.
func relay(w io.Writer) pipe.Handler {
	var mu sync.Mutex
	return func(chunk []byte) {
		mu.Lock()
		defer mu.Unlock()
		w.Write(chunk)
	}
}

func readInput(path string, stdin io.Reader) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read stdin file: %w", err)
	}
	return data, nil
}

func relayStdin(p *process.Process, in io.Reader, log logrus.FieldLogger) {
	stdin, err := p.StandardIn()
	if err != nil {
		log.WithError(err).Error("Cannot relay stdin")
		return
	}
	if _, err := io.Copy(stdin.Writer(), in); err != nil && !errors.Is(err, pipe.ErrClosed) {
		log.WithError(err).Debug("Stopped relaying stdin")
	}
	if err := p.CloseStdin(); err != nil {
		log.WithError(err).Warn("Could not close stdin of child")
	}
}

// startWithRetries starts a fresh Process per attempt, since a Process whose
// start failed cannot be started again.
func startWithRetries(opts *process.Options, retries uint64, log logrus.FieldLogger) (*process.Process, error) {
	var p *process.Process
	operation := func() error {
		p = process.New(opts)
		err := p.Start()
		if errors.Is(err, process.ErrNoCommand) {
			return backoff.Permanent(err)
		}
		return err
	}
	BackOffSettings.Reset()
	err := backoff.RetryNotify(operation, backoff.WithMaxRetries(BackOffSettings, retries), func(err error, wait time.Duration) {
		log.WithError(err).Warnf("Could not start child, retrying in %v", wait)
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// supervise kills the child when it outlives killAfter or the command is
// cancelled, and returns once the child has exited.
func supervise(cmd *cobra.Command, p *process.Process, killAfter time.Duration, killCode uint32, log logrus.FieldLogger) {
	var timeout <-chan time.Time
	if killAfter > 0 {
		timer := time.NewTimer(killAfter)
		defer timer.Stop()
		timeout = timer.C
	}
	var cancelled <-chan struct{}
	if ctx := cmd.Context(); ctx != nil {
		cancelled = ctx.Done()
	}
	select {
	case <-p.Done():
		return
	case <-timeout:
		log.WithField("killAfter", killAfter).Warn("Child is still running, killing it")
	case <-cancelled:
		log.Warn("Interrupted, killing child")
	}
	if !p.Kill(killCode) {
		log.Error("Could not kill child")
	}
	<-p.Done()
}

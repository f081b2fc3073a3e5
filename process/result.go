package process

import (
	"fmt"
	"time"
)

type (
	// Result summarizes how a child ran, once it has exited.
	Result struct {
		// SystemError is set if the exit status could not be determined
		SystemError error
		ExitCode    uint32
		Pid         int
		Duration    time.Duration
		Killed      bool
		KernelTime  time.Duration
		UserTime    time.Duration
		Usage       *ResourceUsage
	}

	ResourceUsage struct {
		AverageRSS        uint64
		PeakRSS           uint64
		AverageCPUPercent float64
		PeakCPUPercent    float64
		Samples           uint64
	}
)

// Result waits for the child to exit and returns a summary of the run, or nil
// if the child was never started.
func (p *Process) Result() *Result {
	if !p.isStarted() {
		return nil
	}
	<-p.done
	p.mu.Lock()
	m := p.monitor
	p.mu.Unlock()

	r := &Result{
		SystemError: p.exit.err,
		ExitCode:    p.exit.code,
		Pid:         p.PID(),
		Killed:      p.exit.killed,
		KernelTime:  p.exit.kernelTime,
		UserTime:    p.exit.userTime,
		// Round(0) forces wall time calculation instead of monotonic time in case machine slept etc
		Duration: p.exit.finishedAt.Round(0).Sub(p.startedAt.Round(0)),
	}
	if m != nil {
		r.Usage = m.wait()
	}
	return r
}

func (r *Result) Succeeded() bool {
	return r.SystemError == nil && !r.Killed && r.ExitCode == 0
}

func (r *Result) Verdict() string {
	switch {
	case r.Killed:
		return "KILLED"
	case r.Succeeded():
		return "SUCCEEDED"
	default:
		return "FAILED"
	}
}

func (r *Result) String() string {
	if r.SystemError != nil {
		return fmt.Sprintf("System error waiting for process %v: %v", r.Pid, r.SystemError)
	}
	var usageStr string
	if r.Usage != nil && r.Usage.Samples > 0 {
		usageStr = fmt.Sprintf(""+
			"                     Average RSS: %v\n"+
			"                        Peak RSS: %v\n"+
			"                     Average CPU: %.1f%%\n"+
			"                        Peak CPU: %.1f%%\n",
			FormatMemoryString(r.Usage.AverageRSS),
			FormatMemoryString(r.Usage.PeakRSS),
			r.Usage.AverageCPUPercent,
			r.Usage.PeakCPUPercent,
		)
	}
	return fmt.Sprintf(""+
		"                             PID: %v\n"+
		"                       Exit Code: %v\n"+
		"                       User Time: %v\n"+
		"                     Kernel Time: %v\n"+
		"                       Wall Time: %v\n%v"+
		"                          Result: %v",
		r.Pid,
		r.ExitCode,
		r.UserTime,
		r.KernelTime,
		r.Duration,
		usageStr,
		r.Verdict(),
	)
}

// FormatMemoryString formats a memory size in bytes into a human-readable string
// using the largest of B, KiB, MiB and GiB which keeps the value at or above one.
func FormatMemoryString(bytes uint64) string {
	val := float64(bytes)
	switch {
	case val < 1024:
		return fmt.Sprintf("%d B", bytes)
	case val < 1024*1024:
		return fmt.Sprintf("%.2f KiB", val/1024)
	case val < 1024*1024*1024:
		return fmt.Sprintf("%.2f MiB", val/(1024*1024))
	}
	return fmt.Sprintf("%.2f GiB", val/(1024*1024*1024))
}

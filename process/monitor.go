package process

import (
	"fmt"
	"sync"
	"time"

	gopsprocess "github.com/shirou/gopsutil/v4/process"
	"github.com/sirupsen/logrus"
)

// DefaultMonitorInterval is used by StartMonitor when no interval is given.
const DefaultMonitorInterval = 500 * time.Millisecond

// ErrAlreadyMonitored is returned by StartMonitor if a monitor is running.
var ErrAlreadyMonitored = fmt.Errorf("process: already monitored")

// Sample is one measurement of the child's resource usage.
type Sample struct {
	Time       time.Time
	RSS        uint64
	CPUPercent float64
}

type monitor struct {
	quit     chan struct{}
	quitOnce sync.Once
	finished chan struct{}
	usage    *ResourceUsage
}

// StartMonitor samples the memory and CPU usage of the child every interval
// until it exits or the Process is closed. Each sample is passed to onSample,
// if given; the aggregate ends up in Result().Usage.
func (p *Process) StartMonitor(interval time.Duration, onSample func(Sample)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case !p.started:
		return ErrNotStarted
	case p.monitor != nil:
		return ErrAlreadyMonitored
	}
	if interval <= 0 {
		interval = DefaultMonitorInterval
	}
	proc, err := gopsprocess.NewProcess(int32(p.pid))
	if err != nil {
		return fmt.Errorf("cannot monitor process %v: %w", p.pid, err)
	}
	m := &monitor{
		quit:     make(chan struct{}),
		finished: make(chan struct{}),
		usage:    new(ResourceUsage),
	}
	p.monitor = m
	go m.run(proc, interval, onSample, p.done, p.log)
	return nil
}

func (m *monitor) run(proc *gopsprocess.Process, interval time.Duration, onSample func(Sample), exited <-chan struct{}, log logrus.FieldLogger) {
	var totalRSS uint64
	var totalCPU float64
	ticker := time.NewTicker(interval)

	defer func() {
		ticker.Stop()
		if m.usage.Samples > 0 {
			m.usage.AverageRSS = totalRSS / m.usage.Samples
			m.usage.AverageCPUPercent = totalCPU / float64(m.usage.Samples)
		}
		close(m.finished)
	}()

	for {
		select {
		case <-ticker.C:
			mi, err := proc.MemoryInfo()
			if err != nil {
				log.WithError(err).Debug("Could not sample memory usage")
				continue
			}
			cpu, err := proc.CPUPercent()
			if err != nil {
				log.WithError(err).Debug("Could not sample CPU usage")
				continue
			}
			m.usage.Samples++
			totalRSS += mi.RSS
			totalCPU += cpu
			m.usage.PeakRSS = max(m.usage.PeakRSS, mi.RSS)
			m.usage.PeakCPUPercent = max(m.usage.PeakCPUPercent, cpu)
			if onSample != nil {
				onSample(Sample{Time: time.Now(), RSS: mi.RSS, CPUPercent: cpu})
			}
		case <-exited:
			return
		case <-m.quit:
			return
		}
	}
}

func (m *monitor) stop() {
	m.quitOnce.Do(func() { close(m.quit) })
	<-m.finished
}

// wait returns the usage once the monitor has stopped.
func (m *monitor) wait() *ResourceUsage {
	<-m.finished
	return m.usage
}

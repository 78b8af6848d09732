// Package sysstatus samples node-wide resource usage for Manager.Status():
// CPU load, memory pressure, and network error rate, each reported as a
// -1.0 sentinel when unavailable.
package sysstatus

import (
	"github.com/shirou/gopsutil/load"
	"github.com/shirou/gopsutil/mem"
	"github.com/shirou/gopsutil/net"
)

// Unavailable is the sentinel value reported for any sample that could not
// be taken.
const Unavailable = -1.0

// Sample is a point-in-time snapshot of node resource usage.
type Sample struct {
	// CPULoad is the 1-minute load average divided by 100.
	CPULoad float64
	// MemoryPressure is 1 - (free / total).
	MemoryPressure float64
	// NetworkErrorRate is sum(errors) / sum(packets) across all interfaces;
	// Unavailable when zero packets have been observed.
	NetworkErrorRate float64
}

// Sampler takes Samples. A zero-value Sampler is ready to use.
type Sampler struct{}

// New returns a ready-to-use Sampler.
func New() *Sampler { return &Sampler{} }

// Sample takes one point-in-time reading of CPU, memory and network usage.
func (s *Sampler) Sample() Sample {
	return Sample{
		CPULoad:          sampleCPU(),
		MemoryPressure:   sampleMemory(),
		NetworkErrorRate: sampleNetwork(),
	}
}

func sampleCPU() float64 {
	avg, err := load.Avg()
	if err != nil {
		return Unavailable
	}
	return avg.Load1 / 100.0
}

func sampleMemory() float64 {
	v, err := mem.VirtualMemory()
	if err != nil || v.Total == 0 {
		return Unavailable
	}
	return 1 - float64(v.Free)/float64(v.Total)
}

func sampleNetwork() float64 {
	counters, err := net.IOCounters(true)
	if err != nil {
		return Unavailable
	}
	var errs, packets uint64
	for _, c := range counters {
		errs += c.Errin + c.Errout
		packets += c.PacketsSent + c.PacketsRecv
	}
	if packets == 0 {
		return Unavailable
	}
	return float64(errs) / float64(packets)
}

package veo

import (
	"sync/atomic"
	"time"

	"github.com/veoffload/veo-host/internal/interfaces"
)

var _ interfaces.Observer = (*Metrics)(nil)

// Metrics accumulates runtime counters for a process's offload traffic: call
// counts/latency, transfer bytes/latency, exceptions, and queue depth.
// Safe for concurrent use.
type Metrics struct {
	CallsTotal    atomic.Uint64
	CallErrors    atomic.Uint64
	CallLatencyNs atomic.Uint64
	Exceptions    atomic.Uint64

	ReadBytes   atomic.Uint64
	WriteBytes  atomic.Uint64
	ReadErrors  atomic.Uint64
	WriteErrors atomic.Uint64
	TransferNs  atomic.Uint64

	QueueDepthTotal atomic.Uint64
	QueueDepthCount atomic.Uint64
	MaxQueueDepth   atomic.Uint64
	InFlightTotal   atomic.Uint64

	StartTime atomic.Int64
}

// NewMetrics returns an empty Metrics, timestamped now.
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// ObserveCall implements interfaces.Observer.
func (m *Metrics) ObserveCall(durationNs uint64, success bool) {
	m.CallsTotal.Add(1)
	if !success {
		m.CallErrors.Add(1)
	}
	m.CallLatencyNs.Add(durationNs)
}

// ObserveTransfer implements interfaces.Observer.
func (m *Metrics) ObserveTransfer(direction string, bytes uint64, durationNs uint64, success bool) {
	switch direction {
	case "read":
		if success {
			m.ReadBytes.Add(bytes)
		} else {
			m.ReadErrors.Add(1)
		}
	case "write":
		if success {
			m.WriteBytes.Add(bytes)
		} else {
			m.WriteErrors.Add(1)
		}
	}
	m.TransferNs.Add(durationNs)
}

// ObserveQueueDepth implements interfaces.Observer.
func (m *Metrics) ObserveQueueDepth(contextID int, requestDepth, inflightDepth int) {
	m.QueueDepthTotal.Add(uint64(requestDepth))
	m.QueueDepthCount.Add(1)
	m.InFlightTotal.Add(uint64(inflightDepth))
	for {
		cur := m.MaxQueueDepth.Load()
		next := uint64(requestDepth)
		if next <= cur {
			break
		}
		if m.MaxQueueDepth.CompareAndSwap(cur, next) {
			break
		}
	}
}

// ObserveException implements interfaces.Observer.
func (m *Metrics) ObserveException(contextID int) {
	m.Exceptions.Add(1)
}

// MetricsSnapshot is a point-in-time read of Metrics' counters.
type MetricsSnapshot struct {
	CallsTotal      uint64
	CallErrors      uint64
	AvgCallLatency  time.Duration
	Exceptions      uint64
	ReadBytes       uint64
	WriteBytes      uint64
	ReadErrors      uint64
	WriteErrors     uint64
	AvgQueueDepth   float64
	MaxQueueDepth   uint64
	UptimeNs        uint64
}

// Snapshot computes derived averages over the counters accumulated so far.
func (m *Metrics) Snapshot() MetricsSnapshot {
	s := MetricsSnapshot{
		CallsTotal:    m.CallsTotal.Load(),
		CallErrors:    m.CallErrors.Load(),
		Exceptions:    m.Exceptions.Load(),
		ReadBytes:     m.ReadBytes.Load(),
		WriteBytes:    m.WriteBytes.Load(),
		ReadErrors:    m.ReadErrors.Load(),
		WriteErrors:   m.WriteErrors.Load(),
		MaxQueueDepth: m.MaxQueueDepth.Load(),
		UptimeNs:      uint64(time.Now().UnixNano() - m.StartTime.Load()),
	}
	if s.CallsTotal > 0 {
		s.AvgCallLatency = time.Duration(m.CallLatencyNs.Load() / s.CallsTotal)
	}
	if n := m.QueueDepthCount.Load(); n > 0 {
		s.AvgQueueDepth = float64(m.QueueDepthTotal.Load()) / float64(n)
	}
	return s
}

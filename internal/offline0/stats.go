package offline0

import (
	"fmt"
	"strings"
	"sync/atomic"
)

type statsCollector struct {
	hits    atomic.Uint64
	misses  atomic.Uint64
	stale   atomic.Uint64
	offline atomic.Uint64
	bypass  atomic.Uint64

	totalRespBytes atomic.Uint64
	maxRespBytes   atomic.Uint64
}

func newStatsCollector() *statsCollector { return &statsCollector{} }

func (s *statsCollector) Observe(src Source, respBytes int) {
	switch src {
	case SourceCache:
		s.hits.Add(1)
	case SourceNetwork:
		s.misses.Add(1)
	case SourceStale:
		s.stale.Add(1)
	case SourceOffline:
		s.offline.Add(1)
	case SourceBypass:
		s.bypass.Add(1)
	}
	if respBytes < 0 {
		respBytes = 0
	}
	n := uint64(respBytes)
	s.totalRespBytes.Add(n)
	for {
		cur := s.maxRespBytes.Load()
		if n <= cur || s.maxRespBytes.CompareAndSwap(cur, n) {
			break
		}
	}
}

type statsSnapshot struct {
	Hits, Misses, Stale, Offline, Bypass uint64

	TotalResponses uint64
	TotalRespBytes uint64
	MaxRespBytes   uint64
	AvgRespBytes   uint64
}

// HitRatio is the share of responses served without the network.
func (s statsSnapshot) HitRatio() float64 {
	if s.TotalResponses == 0 {
		return 0
	}
	return float64(s.Hits+s.Stale+s.Offline) / float64(s.TotalResponses)
}

func (s *statsCollector) Snapshot() statsSnapshot {
	out := statsSnapshot{
		Hits:           s.hits.Load(),
		Misses:         s.misses.Load(),
		Stale:          s.stale.Load(),
		Offline:        s.offline.Load(),
		Bypass:         s.bypass.Load(),
		TotalRespBytes: s.totalRespBytes.Load(),
		MaxRespBytes:   s.maxRespBytes.Load(),
	}
	out.TotalResponses = out.Hits + out.Misses + out.Stale + out.Offline + out.Bypass
	if out.TotalResponses > 0 {
		out.AvgRespBytes = out.TotalRespBytes / out.TotalResponses
	}
	return out
}

func formatBytes(b uint64) string {
	const (
		kb = 1024
		mb = 1024 * kb
		gb = 1024 * mb
	)
	if b < kb {
		return fmt.Sprintf("%db", b)
	}
	if b < mb {
		return trimFloat(fmt.Sprintf("%.1f", float64(b)/kb)) + "kb"
	}
	if b < gb {
		return trimFloat(fmt.Sprintf("%.1f", float64(b)/mb)) + "mb"
	}
	return trimFloat(fmt.Sprintf("%.1f", float64(b)/gb)) + "gb"
}

func trimFloat(s string) string {
	return strings.TrimSuffix(strings.TrimSpace(s), ".0")
}

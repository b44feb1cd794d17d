package store

import "sync/atomic"

// Stats is a snapshot of a NodeStore's cache and disk activity,
// exported for diagnostics. Modeled on sokv's ExportStat: a plain value
// type copied out of a set of atomic counters, rather than exposing the
// counters themselves.
type Stats struct {
	CacheHit   uint64
	CacheMiss  uint64
	BlobsRead  uint64
	BlobsSaved uint64
}

// iStats holds the live atomic counters backing Stats, the same split
// sokv's iStat keeps between its internal atomic fields and the
// exported plain-value ExportStat.
type iStats struct {
	cacheHit   atomic.Uint64
	cacheMiss  atomic.Uint64
	blobsRead  atomic.Uint64
	blobsSaved atomic.Uint64
}

func (s *iStats) snapshot() Stats {
	return Stats{
		CacheHit:   s.cacheHit.Load(),
		CacheMiss:  s.cacheMiss.Load(),
		BlobsRead:  s.blobsRead.Load(),
		BlobsSaved: s.blobsSaved.Load(),
	}
}

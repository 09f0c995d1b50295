package diskcache

import (
	"os"
	"path/filepath"
	"sort"
	"time"
)

// SweepStats summarizes one Sweep pass, returned to the caller so it
// can post a completion on its own main executor.
type SweepStats struct {
	Scanned        int
	AgeDeleted     int
	SizeDeleted    int
	RemainingSize  int64
	RemainingCount int
}

type fileRecord struct {
	path    string
	modTime time.Time
	size    int64
}

// Sweep runs the age-then-size garbage collection pass, using the
// current time as the cull horizon.
func (t *Tier) Sweep() (SweepStats, error) {
	return t.SweepAt(time.Now())
}

// SweepAt runs Sweep with an explicit "now", for deterministic tests.
func (t *Tier) SweepAt(now time.Time) (SweepStats, error) {
	records, err := scanFiles(t.dir)
	if err != nil {
		return SweepStats{}, err
	}

	survivors, ageDeletes := planAgeCull(records, now, t.maxAge)
	applyDeletes(ageDeletes)

	currentSize := sumSizes(survivors)

	var sizeDeletes []fileRecord
	if t.maxSize > 0 && currentSize > t.maxSize {
		sizeDeletes, survivors, currentSize = planSizeCull(survivors, currentSize, t.maxSize)
		applyDeletes(sizeDeletes)
	}

	return SweepStats{
		Scanned:        len(records),
		AgeDeleted:     len(ageDeletes),
		SizeDeleted:    len(sizeDeletes),
		RemainingSize:  currentSize,
		RemainingCount: len(survivors),
	}, nil
}

// scanFiles enumerates regular files under dir with their attributes,
// grounded on sst_gc_sweeper.go's "enumerate, then plan, then apply"
// separation (planPendingSSTSweep / applySweepDeleteBatch).
func scanFiles(dir string) ([]fileRecord, error) {
	var records []fileRecord
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		records = append(records, fileRecord{
			path:    path,
			modTime: info.ModTime(),
			size:    allocatedSize(info),
		})
		return nil
	})
	return records, err
}

// planAgeCull implements pass 1: files whose mtime is at or before
// now-maxAge are marked for deletion; survivors are returned
// untouched.
func planAgeCull(records []fileRecord, now time.Time, maxAge time.Duration) (survivors, deletes []fileRecord) {
	expiration := now.Add(-maxAge)
	for _, r := range records {
		if !r.modTime.After(expiration) {
			deletes = append(deletes, r)
			continue
		}
		survivors = append(survivors, r)
	}
	return survivors, deletes
}

// planSizeCull implements pass 2: delete oldest-first until
// currentSize drops below maxSize/2. currentSize here is the
// post-pass-1 total; pass-1 deletions are not retroactively subtracted
// a second time because they were never counted into it.
func planSizeCull(records []fileRecord, currentSize, maxSize int64) (deletes, survivors []fileRecord, newSize int64) {
	sorted := make([]fileRecord, len(records))
	copy(sorted, records)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].modTime.Before(sorted[j].modTime)
	})

	desired := maxSize / 2
	newSize = currentSize

	i := 0
	for ; i < len(sorted); i++ {
		if newSize < desired {
			break
		}
		deletes = append(deletes, sorted[i])
		newSize -= sorted[i].size
	}
	survivors = sorted[i:]
	return deletes, survivors, newSize
}

func sumSizes(records []fileRecord) int64 {
	var total int64
	for _, r := range records {
		total += r.size
	}
	return total
}

func applyDeletes(records []fileRecord) {
	for _, r := range records {
		os.Remove(r.path)
	}
}

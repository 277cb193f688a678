package downloader

import "github.com/italolelis/mega_downloader/internal/remote"

// PlanSegments splits a file into ordered ranges of at most limit bytes. A file that fits
// (or a limit of 0) yields a single range spanning the whole file.
func PlanSegments(size, limit int64) []remote.ByteRange {
	if limit <= 0 || size <= limit {
		return []remote.ByteRange{remote.Whole(size)}
	}

	segments := make([]remote.ByteRange, 0, (size+limit-1)/limit)

	for offset := int64(0); offset < size; offset += limit {
		segments = append(segments, remote.ByteRange{Offset: offset, Length: min(limit, size-offset)})
	}

	return segments
}

// segmentLimit picks the smaller of the configured and the service's transfer cap,
// ignoring unset values.
func segmentLimit(configured, serviceCap int64) int64 {
	switch {
	case configured <= 0:
		return max(serviceCap, 0)
	case serviceCap <= 0:
		return configured
	default:
		return min(configured, serviceCap)
	}
}

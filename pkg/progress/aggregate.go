package progress

// Aggregate folds the progress of several uploads into one view.
type Aggregate struct {
	TotalFiles            int     `json:"total_files"`
	CompletedFiles        int     `json:"completed_files"`
	TotalBytes            int64   `json:"total_bytes"`
	UploadedBytes         int64   `json:"uploaded_bytes"`
	Percent               float64 `json:"percent"`
	AverageBytesPerSecond float64 `json:"average_bytes_per_second"`
}

// Fold combines snapshots. Percent is uploaded over total bytes, zero when
// nothing is tracked; the average rate is the arithmetic mean across all
// files, where a file with no measured rate contributes zero.
func Fold(snaps ...Snapshot) Aggregate {
	agg := Aggregate{TotalFiles: len(snaps)}

	var speedSum float64
	for _, s := range snaps {
		agg.TotalBytes += s.FileSize
		agg.UploadedBytes += s.UploadedBytes
		if s.Status == StatusCompleted {
			agg.CompletedFiles++
		}
		speedSum += s.BytesPerSecond
	}

	if agg.TotalBytes > 0 {
		agg.Percent = float64(agg.UploadedBytes) / float64(agg.TotalBytes) * 100
	}
	if agg.TotalFiles > 0 {
		agg.AverageBytesPerSecond = speedSum / float64(agg.TotalFiles)
	}
	return agg
}

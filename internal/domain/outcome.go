package domain

// FetchStatus classifies the result of fetching one segment.
type FetchStatus int

const (
	StatusSuccess FetchStatus = iota
	// StatusForbidden signals that this segment and all later ones are absent.
	StatusForbidden
	// StatusTransient is fatal to the segment but not to the batch.
	StatusTransient
)

func (s FetchStatus) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusForbidden:
		return "forbidden"
	case StatusTransient:
		return "transient"
	default:
		return "unknown"
	}
}

// FetchOutcome is produced once per attempted segment.
type FetchOutcome struct {
	Segment SegmentDescriptor
	Status  FetchStatus
	// Path and Bytes are set on success only.
	Path  string
	Bytes int64
	// Err carries the cause of a Forbidden or Transient outcome.
	Err error
}

// Succeeded reports whether the segment is on disk and complete.
func (o FetchOutcome) Succeeded() bool {
	return o.Status == StatusSuccess
}

// DownloadBatch holds the outcomes of one scheduler run in ascending index
// order, truncated after the first Forbidden outcome.
type DownloadBatch struct {
	Outcomes []FetchOutcome
	// Groups is the number of concurrent groups that were scheduled.
	Groups int
	// Terminated is true when a Forbidden outcome ended the run.
	Terminated bool
}

// Successes returns the successful outcomes in index order.
func (b DownloadBatch) Successes() []FetchOutcome {
	out := make([]FetchOutcome, 0, len(b.Outcomes))
	for _, o := range b.Outcomes {
		if o.Succeeded() {
			out = append(out, o)
		}
	}
	return out
}

// Gaps returns the indices of transient failures.
func (b DownloadBatch) Gaps() []int {
	var gaps []int
	for _, o := range b.Outcomes {
		if o.Status == StatusTransient {
			gaps = append(gaps, o.Segment.Index)
		}
	}
	return gaps
}

// AssembledArtifact is the final concatenated file.
type AssembledArtifact struct {
	Path       string
	TotalBytes int64
	Segments   int
	// Gaps lists segment indices missing from the artifact.
	Gaps []int
}

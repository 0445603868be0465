package syncjob

import "math"

// Aggregate derives a batch's counts, status and percentage from its job
// statuses. It is a pure function: derived fields are never mutated
// independently, every caller recomputes from the jobs.
func Aggregate(batchID string, statuses []JobStatus) BatchView {
	v := BatchView{BatchID: batchID, Total: len(statuses)}

	for _, s := range statuses {
		switch s {
		case JobSuccess:
			v.Completed++
		case JobError:
			v.Failed++
		case JobRunning:
			v.InProgress++
		default:
			v.Queued++
		}
	}

	terminal := v.Completed + v.Failed
	if v.Total > 0 {
		v.Percentage = int(math.Round(100 * float64(terminal) / float64(v.Total)))
	}

	switch {
	case v.Total == 0 || terminal < v.Total:
		if v.InProgress > 0 || v.Completed > 0 || v.Failed > 0 {
			v.Status = BatchProcessing
		} else {
			v.Status = BatchQueued
		}
	case v.Failed == 0:
		v.Status = BatchCompleted
	case v.Completed == 0:
		v.Status = BatchFailed
	default:
		v.Status = BatchMixed
	}

	return v
}

package domain

import "time"

type ItemStatus string

const (
	ItemSucceeded ItemStatus = "Succeeded"
	ItemFailed    ItemStatus = "Failed"
	ItemSkipped   ItemStatus = "Skipped"
	ItemDuplicate ItemStatus = "Duplicate"
)

// ItemOutcome is the per-item line of a batch manifest.
type ItemOutcome struct {
	ItemID   string     `json:"item_id"`
	Kind     string     `json:"kind"`
	Status   ItemStatus `json:"status"`
	Category string     `json:"category,omitempty"`
	Code     string     `json:"code,omitempty"`
	Message  string     `json:"message,omitempty"`
}

// BatchResult summarizes a batch run. Items keep the order in which work was listed.
type BatchResult struct {
	Batch      string        `json:"batch"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Total      int           `json:"total"`
	Succeeded  int           `json:"succeeded"`
	Failed     int           `json:"failed"`
	Skipped    int           `json:"skipped"`
	Duplicates int           `json:"duplicates"`
	MarkedDue  int           `json:"marked_due,omitempty"`
	Items      []ItemOutcome `json:"items"`
}

// Add appends outcomes and updates the counters.
func (r *BatchResult) Add(items ...ItemOutcome) {
	for _, item := range items {
		r.Items = append(r.Items, item)
		r.Total++
		switch item.Status {
		case ItemSucceeded:
			r.Succeeded++
		case ItemFailed:
			r.Failed++
		case ItemSkipped:
			r.Skipped++
		case ItemDuplicate:
			r.Duplicates++
		}
	}
}

package manager

import "time"

// Upload is the submission-time payload for Submit, carrying the original
// bytes plus the filename the caller uploaded under. DocID is optional: a
// caller-supplied id is used verbatim, else Submit mints one.
type Upload struct {
	DocID    string
	Filename string
	Content  []byte
}

// TaskView is the read-facing snapshot GetTask/ListUserTasks return. The
// Metadata Store, not the Task Queue, is the source of truth for it
// (matching §4.7's "GetTask: reads metadata").
type TaskView struct {
	DocID            string
	UserToken        string
	CollectionID     string
	Filename         string
	Status           string
	MimeType         string
	UploadTime       time.Time
	ProcessStartTime *time.Time
	ProcessEndTime   *time.Time
	ErrMsg           string
}

// QueueStatus mirrors the in-process queue's occupancy counters.
type QueueStatus struct {
	QueueSize       int
	ProcessingTasks []string
	CompletedCount  int
	FailedCount     int
}

// CollectionWithCount pairs a collection with its indexed-document count, as
// returned by ListUserCollectionsWithCounts.
type CollectionWithCount struct {
	CollectionID   string
	CollectionName string
	Description    string
	CreatedBy      string
	CreateTime     time.Time
	DocumentCount  int
}

package domain

// NoticeKind classifies a user-visible notice.
type NoticeKind string

const (
	// NoticeInfo is a passive confirmation (memory updated, task created, ...).
	NoticeInfo NoticeKind = "info"
	// NoticeTransport reports a connectivity, timeout or HTTP status failure.
	NoticeTransport NoticeKind = "transport"
	// NoticeOverloaded reports that the backend asked the client to retry later.
	NoticeOverloaded NoticeKind = "overloaded"
	// NoticeBackendError carries a message from an error-typed backend response.
	NoticeBackendError NoticeKind = "backend_error"
	// NoticeStorage reports a failed write to the local store.
	NoticeStorage NoticeKind = "storage"
	// NoticeParse reports input that could not be interpreted, such as an alarm time.
	NoticeParse NoticeKind = "parse"
	// NoticeTaskFailed reports that the backend could not create a task.
	NoticeTaskFailed NoticeKind = "task_failed"
	// NoticeDevice reports that a device collaborator rejected an action.
	NoticeDevice NoticeKind = "device"
)

// Notice is a short message surfaced to the user outside the chat transcript.
type Notice struct {
	Kind      NoticeKind `json:"kind"`
	Text      string     `json:"text"`
	Retryable bool       `json:"retryable,omitempty"`
}

// IsError reports whether the notice describes a failure.
func (n Notice) IsError() bool {
	return n.Kind != NoticeInfo
}

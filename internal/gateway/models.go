package gateway

// BatchEmail is one email in a provider batch send.
type BatchEmail struct {
	From    string            `json:"from"`
	To      []string          `json:"to"`
	Subject string            `json:"subject"`
	HTML    string            `json:"html"`
	ReplyTo string            `json:"reply_to,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Tags    map[string]string `json:"tags,omitempty"`
}

// Result is the per-email outcome of a batch send. A batch can partially
// succeed; callers must inspect every item.
type Result struct {
	OK                bool
	ProviderMessageID string
	Error             string
}

type batchResponse struct {
	Data []batchItem `json:"data"`
}

type batchItem struct {
	ID    string     `json:"id"`
	Error *itemError `json:"error,omitempty"`
}

type itemError struct {
	Message string `json:"message"`
}

package transfer

// PostCreation is the multipart payload for creating a scheduled post.
// Platforms and Plugs arrive JSON-encoded alongside the media files.
type PostCreation struct {
	Content       string
	ScheduledTime string
	Platforms     string
	Plugs         string
}

type AutoPlugCreation struct {
	Platform     string `json:"platform"`
	Content      string `json:"content"`
	TriggerType  string `json:"trigger_type"`
	TriggerValue int    `json:"trigger_value"`
}

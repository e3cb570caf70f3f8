package transfer

// EmailMessage is the notifier contract: fire-and-forget delivery, no
// retry on notifier failure.
type EmailMessage struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	HTML    string `json:"html"`
	Text    string `json:"text"`
}

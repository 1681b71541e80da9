package queue

// Routing headers written on the messages going through the post office
const (
	// HeaderDate holds the delivery time in seconds since the epoch
	HeaderDate = "X-Postoffice-Date"
	// HeaderRejected holds the reason why an accepted message was tagged
	HeaderRejected = "X-Postoffice-Rejected"
	// HeaderQuarantineID locates a message in the quarantine of its queue
	HeaderQuarantineID = "X-Postoffice-Quarantine-Id"
	// HeaderLoop marks the notices generated by the post office itself
	HeaderLoop  = "X-Postoffice"
	LoopBounced = "Bounced"
)

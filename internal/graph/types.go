package graph

import "time"

// Item is a drive item as returned by upload calls, normalized from the
// Graph response.
type Item struct {
	ID        string
	Name      string
	Size      int64
	MimeType  string
	WebURL    string // browser link; safe to show to the owner
	CreatedAt time.Time
}

// UploadSession is a resumable upload session. UploadURL is
// pre-authenticated; NEVER log it.
type UploadSession struct {
	UploadURL      string
	ExpirationTime time.Time
}

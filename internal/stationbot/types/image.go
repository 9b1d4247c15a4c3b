package types

// Image is an attachment for a post.
type Image struct {
	Data     []byte
	MIMEType string
	Alt      string
}

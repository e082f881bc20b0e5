package model

// Conversation is a group-type chat the linked account can post to.
type Conversation struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

package models

// Event is an external calendar entry, shaped for the schedule view.
type Event struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Location    string `json:"location,omitempty"`
	Start       string `json:"start"`
	End         string `json:"end"`
	Created     string `json:"created,omitempty"`
	Updated     string `json:"updated,omitempty"`
	Status      string `json:"status,omitempty"`
}

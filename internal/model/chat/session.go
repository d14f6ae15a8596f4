package chat

import "time"

// Session captures a live conversation with one consultant.
type Session struct {
	ID             string    `json:"id"`
	ConsultantType string    `json:"consultantType"`
	UserEmail      string    `json:"userEmail,omitempty"`
	UserName       string    `json:"userName,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

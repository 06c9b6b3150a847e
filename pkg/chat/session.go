package chat

// Session describes one server-side conversation. Identity is the opaque
// server-issued SessionID; every other field is server-authoritative and
// refreshed from collaborator calls, never computed locally.
type Session struct {
	SessionID          string  `json:"session_id"`
	AgentID            int     `json:"agent_id"`
	AgentName          string  `json:"agent_name"`
	IsActive           bool    `json:"is_active"`
	MessageCount       int     `json:"message_count"`
	LastMessagePreview *string `json:"last_message_preview,omitempty"`
	CreatedAt          string  `json:"created_at"`
	UpdatedAt          string  `json:"updated_at"`
}

const previewLength = 60

// Preview truncates message content the same way the server builds
// last_message_preview for session listings.
func Preview(content string) string {
	if len(content) > previewLength {
		return content[:previewLength] + "..."
	}
	return content
}

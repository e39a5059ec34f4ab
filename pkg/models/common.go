package models

// APIError represents a standard API error response.
type APIError struct {
	Error    string            `json:"error"`
	Messages map[string]string `json:"messages,omitempty"`
}

// AgentCredentials identify a site's agent on every agent-facing request.
// They travel in the JSON body rather than a header.
type AgentCredentials struct {
	SiteID     int64  `json:"site_id" binding:"required,gt=0"`
	AgentToken string `json:"agent_token" binding:"required"`
}

// SuccessResponse is the minimal body returned by agent endpoints that only confirm receipt.
type SuccessResponse struct {
	Success bool `json:"success"`
}

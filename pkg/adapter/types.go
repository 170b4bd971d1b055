package adapter

// Usage captures normalized token usage.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response wraps a provider completion with normalized usage.
type Response struct {
	Content string
	Usage   Usage
}

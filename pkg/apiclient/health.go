package apiclient

// StoreHealth is the storage backend probe result.
type StoreHealth struct {
	Backend string `json:"backend"`
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// Health checks the liveness probe. Returns nil when the server process
// answers.
func (c *Client) Health() error {
	return c.get("/health", nil)
}

// Ready checks the readiness probe. Returns an APIError with status 503
// while the engine cannot serve traffic.
func (c *Client) Ready() error {
	return c.get("/health/ready", nil)
}

// GetStoreHealth probes the storage backend.
func (c *Client) GetStoreHealth() (*StoreHealth, error) {
	return getResource[StoreHealth](c, "/health/store")
}

package model

// OpError records a scripted operation that the vault rejected.
type OpError struct {
	Line  int    `json:"line"`
	Op    string `json:"op"`
	Pool  string `json:"pool,omitempty"`
	Error string `json:"error"`
}

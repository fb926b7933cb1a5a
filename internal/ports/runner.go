package ports

// Runner is a long-lived trigger that drives scans from outside the core
type Runner interface {
	// Start begins serving in the background
	Start() error

	// Stop shuts the runner down, waiting for in-flight work
	Stop() error
}

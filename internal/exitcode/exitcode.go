// Package exitcode defines exit codes for the CLI.
package exitcode

const (
	// Success indicates successful completion.
	Success = 0

	// Failure indicates a local failure (config, session file, terminal).
	Failure = 1

	// Usage indicates bad arguments or an unknown subcommand.
	Usage = 2

	// Backend indicates the todo service could not be read or written.
	Backend = 3
)

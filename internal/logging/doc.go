// Package logging builds the process-wide zap logger.
//
// Every incidentd component takes a *zap.Logger and defaults to a nop when
// handed nil, so this package's only job is constructing the real one:
// level and format from configuration, ISO8601 timestamps, and an encoder
// that redacts credential-shaped fields. Approval requests and skill
// parameters pass through log statements, and those can carry tokens.
package logging

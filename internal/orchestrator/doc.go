// Package orchestrator drives incident investigations end to end.
//
// An investigation moves through four phases: triage gathers symptoms and
// affected services, hypothesize proposes candidate root causes, investigate
// tests them against evidence, and conclude settles on a root cause and,
// optionally, a remediation skill run.
//
// The orchestrator owns the glue: it feeds investigation state to an LLM
// collaborator, dispatches the tool calls the model requests, maintains the
// hypothesis tree, and checkpoints durable state on every phase transition.
// A checkpoint write failure aborts the transition, because a lost checkpoint
// can be the only durable record of an in-flight approval.
package orchestrator

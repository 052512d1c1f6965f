// Package skill defines declarative remediation workflows.
//
// A Skill is an externally authored, parameterized list of steps interpreted
// by the execution engine. Definitions are loaded from YAML into an explicit
// Registry. The package also provides the sandboxed template evaluator used
// for step conditions and parameter expressions: a fixed grammar of
// comparisons, boolean connectives, membership, and string predicates over
// the resolved scope of params, prior step results, and builtins. It is
// never a general-purpose code evaluator.
package skill

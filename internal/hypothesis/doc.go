// Package hypothesis implements the investigation's branching belief state.
//
// An Engine owns a tree of root-cause hypotheses for one investigation.
// Nodes accumulate evidence, earn a confidence score, and are branched,
// pruned, or confirmed by the caller. Pruned nodes are tombstones kept
// for audit; at most one node may be confirmed per tree.
package hypothesis

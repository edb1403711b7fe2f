// Package domain defines the vocabulary of AutoProcess job orchestration:
// job descriptors, pipeline stages and states, symmetry candidates,
// node assignments and the error taxonomy.
//
// Types in this package are plain values. Behaviours live in
// pkg/pipeline (state transitions), pkg/symmetry (candidate selection)
// and pkg/dispatch (coordination).
package domain

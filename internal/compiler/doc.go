// Package compiler turns CUE definitions into the runtime objects a
// run needs: the state schema, the policy bundle, the service law,
// the disturbance policy, the contract set, and the invariant set.
// Definitions are data; kernels and model-based disturbance bounds are
// code and stay out of reach of this package.
package compiler

// Package scalarization turns the N generator-facing losses produced by a
// panel of discriminators into a single generator update.
//
// Six modes are supported:
//
//	vanilla     mean of the losses
//	hyper       -sum log(nadir_i - l_i), with an adaptive nadir point
//	gman        softmax(l/alpha)-weighted sum of the losses
//	gman_grad   softmax(||g||/alpha)-weighted sum of the gradients
//	loss_delta  weights proportional to the positive loss increase since the last iteration
//	mgd         minimum-norm point of the convex hull of the gradients
//
// Strategies are pure: all bookkeeping lives in State, which is passed in
// and returned by every Combine call so it can be checkpointed verbatim.
package scalarization

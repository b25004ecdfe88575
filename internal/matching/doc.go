// Package matching pairs descriptors between two feature sets.
//
// Matching is brute force: every descriptor of the query set is compared
// with every descriptor of the train set under the extractor's Metric. The
// default policy is cross-checking (mutual nearest neighbours), which keeps
// a pair (i, j) only when j is the nearest neighbour of query i and i is the
// nearest neighbour of train j. Nearest-neighbour ties resolve to the lowest
// index, so Match(a, b) and Match(b, a) return the same pairs with indices
// swapped.
//
// Results are always sorted by ascending distance; the first match is the
// best one.
package matching

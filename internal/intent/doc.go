// Package intent holds the vocabulary shared by every stage of turn
// handling: input normalization, the ordered trigger registry, the
// [Handler] capability and the [Result] each handler returns.
//
// A [Registry] is built once at startup with a [Builder] and never
// mutated afterwards, so a single registry is safely shared by every
// goroutine that dispatches turns.
package intent

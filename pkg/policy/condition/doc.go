// Package condition implements the predicate language used by routing rules.
//
// The language is deliberately closed. A condition is either the literal
// "default" or one or more comparisons joined by "and"/"or":
//
//	request.max_tokens < 100
//	request.content contains "translate"
//	message_count >= 10 and request.model == "gpt-4o"
//
// Fields are resolved from Facts. The "request." prefix is optional.
// Numeric fields accept < <= > >= == !=. String fields accept == != and
// contains, startswith, endswith. Nothing in a condition can run code.
package condition

// Package sanitizer normalizes free-text user input before validation and
// storage.
//
// All functions are idempotent: applying them twice gives the same result as
// applying them once. Invalid input never produces an error; it normalizes to
// the empty string and the validator rejects it.
package sanitizer

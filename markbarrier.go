// ABOUTME: Root markbarrier package providing version information and package documentation
// ABOUTME: The barrier itself lives in the marking package

// Package markbarrier models the marking write barrier of a concurrent,
// incremental tracing collector for a runtime with several isolates and a
// heap region shared between them. The marking package holds the barrier,
// isolate drives it across threads, and sim runs marking cycles against
// concurrent mutators.
package markbarrier

// Version is the semantic version of the markbarrier module
const Version = "0.1.0-dev"

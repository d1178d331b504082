// Package crawl builds and runs invocations of the external crawl program.
//
// The crawler (wget-compatible) is treated as an opaque process: arguments in,
// a directory tree plus diagnostic output out. Argument order is deterministic
// for a given settings/URL pair so the same list can be shown to operators as
// a preview. The only hard failure the executor recognizes is the absence of
// the per-URL output directory; individual fetch errors and robots exclusions
// stay in the captured log.
package crawl

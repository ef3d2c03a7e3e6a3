// Package crawler implements the site audit crawl: URL normalization, the
// breadth-first frontier, retrying fetch execution, link classification,
// issue aggregation, and the engine that owns a run's lifecycle.
package crawler

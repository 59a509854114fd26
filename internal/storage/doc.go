package storage

// Package storage keeps the dispatch audit log: one record per trigger
// outcome, so operators can see what was posted, where, and what
// failed, across restarts.

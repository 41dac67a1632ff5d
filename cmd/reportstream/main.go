// Package main provides the entry point for the reportstream CLI.
//
// reportstream fetches paginated reports from a report API, folds every
// row into streaming analyzers and emits per-report snapshots.
//
// Usage:
//
//	reportstream run --facilities F1,F2 --from 2024-01-01 --to 2024-03-31
//	reportstream runs
//	reportstream snapshot user_activity
//	reportstream config init
//
// See --help for all available options.
package main

func main() {
	Execute()
}

// Package impact aggregates validator output and relationship data across a
// batch of proposed file changes.
//
// The analyzer can:
//   - Collect the changed files and the files related to each of them
//   - Flag changes to paths that look like a public API or interface
//   - Carry removed or changed definition warnings from the validator
//   - Suggest the unit and integration tests for each changed module, or the
//     full suite when too many related files are touched
//   - Derive a confidence tier from the number of breaking-change notes
//
// Basic usage:
//
//	analyzer := impact.NewAnalyzer(resolver, validator, impact.Options{}, logger)
//	report, err := analyzer.Analyze(ctx, batch)
//	if err != nil {
//	    return err
//	}
//	fmt.Println(report.Confidence)
//
// Confidence is derived from the breaking-change count only:
//
//	> 5 notes  -> low
//	> 2 notes  -> medium
//	otherwise  -> high
//
// Related files are one hop from each changed file: its imports, its
// importers, its test files and, for config-looking paths, the repository
// config files.
package impact

// Package collector turns test-runner output files into NormalizedResults.
//
// Each supported format has a Parser (jest.go, playwright.go, external.go,
// junit.go, lcov.go, html.go). DefaultParsers returns them in detection
// priority; the first parser whose CanParse accepts the bytes wins.
//
// A Collector runs the chain over a fixed list of target paths, either once
// (CollectOnce) or continuously (Run) by polling modification time and size,
// with fsnotify events on the target directories triggering an early scan.
// Successful results are written as snapshot files and handed to the OnResult
// hook; failures are *errs.ParseError values handed to the OnError hook.
package collector

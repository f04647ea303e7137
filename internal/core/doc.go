// Package core provides the business logic for bulk student roster imports.
//
// It has no transport dependencies and can be driven by the web handlers,
// a CLI or tests.
//
// # Pipeline
//
// An import moves through four pure stages followed by one effectful stage:
//
//  1. [DecodeInput] and [Parse] turn uploaded bytes into a [RawTable]. Malformed
//     rows become [ParseError] values, never a failed parse.
//  2. [ApplyMapping] projects raw rows onto the canonical fields of a
//     [ColumnMapping]; [SuggestMapping] proposes one from header aliases.
//  3. [Validate] checks every row, flags duplicates against the roster and
//     earlier rows, and partitions the rows into candidates and rejections.
//  4. [Reconcile] writes candidates through a [RecordWriter] in ordered
//     batches with bounded fan-out, under a [DuplicateHandling] policy.
//
// # Service
//
// [Service] holds import sessions between the upload, preview and commit
// requests. Commits are bounded by an [ImportLimiter]; progress is fanned out
// to subscribers and every finished run is written to the import history.
//
// # Error Handling
//
// Technical errors are mapped to user-friendly messages using [MapError].
// Each category has a code prefix for support reference:
//
//   - MAP: column mapping errors
//   - IMP: import session and option errors
//   - FILE: upload errors
//   - DB: student store errors
//   - AUTH: missing acting teacher
package core

// Package typeset contains core.Compiler implementations plus the PDF
// helpers the engine needs around them: page counting for the length loop
// and plain-text extraction for seeding secondary documents.
//
// ExecCompiler shells out to the Typst binary and is the production path.
// ScriptedCompiler is deterministic and in-process; it backs tests and the
// runnable examples, synthesizing real (if minimal) PDFs so the measurement
// and extraction paths stay exercised end to end.
package typeset

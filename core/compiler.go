package core

import "context"

// CompileResult is the measured output of one successful compilation.
type CompileResult struct {
	// PageCount is the number of pages in the produced document.
	PageCount int
	// PDF is the compiled artifact.
	PDF []byte
}

// Compiler turns markup source into a paged artifact and measures it. A
// rejected source yields a *CompileError; the loop treats that as one
// consumed attempt, not a run abort. Implementations own their working
// files and must honor ctx cancellation (compilation can take seconds).
type Compiler interface {
	Compile(ctx context.Context, source []byte) (*CompileResult, error)
}

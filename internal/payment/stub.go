package payment

import "context"

// StubProcessor is a no-op rail for demo/development mode. Submitted
// payments stay pending until resolved through the admin endpoint.
type StubProcessor struct{}

// NewStubProcessor creates a stub processor.
func NewStubProcessor() *StubProcessor { return &StubProcessor{} }

func (sp *StubProcessor) Name() string { return "stub" }

func (sp *StubProcessor) Submit(ctx context.Context, p *Payment) error { return nil }

var _ Processor = (*StubProcessor)(nil)

package render

import (
	"context"
	"runtime"
	"sync"

	"git.home.luguber.info/inful/sitegen/internal/document"
	sgerrors "git.home.luguber.info/inful/sitegen/internal/errors"
)

// Result is the outcome of rendering a single document. Exactly one of Output
// and Err is meaningful.
type Result struct {
	Doc    *document.Document
	Output []byte
	Err    error
}

// Pipeline fans documents out to a Renderer with bounded parallelism.
// A single document's failure never aborts the batch.
type Pipeline struct {
	renderer Renderer
	workers  int
}

// NewPipeline creates a render pipeline. workers <= 0 selects GOMAXPROCS.
func NewPipeline(renderer Renderer, workers int) *Pipeline {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Pipeline{renderer: renderer, workers: workers}
}

// RenderAll renders every document, preserving input order in the results.
// Context cancellation surfaces as per-document errors; the caller inspects
// ctx.Err() to distinguish cancellation from render failures.
func (p *Pipeline) RenderAll(ctx context.Context, docs []*document.Document) []Result {
	if len(docs) == 0 {
		return nil
	}

	concurrency := p.workers
	if concurrency > len(docs) {
		concurrency = len(docs)
	}

	sem := make(chan struct{}, concurrency)
	results := make([]Result, len(docs))

	var wg sync.WaitGroup
	for i, doc := range docs {
		wg.Add(1)
		go func(i int, doc *document.Document) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			if err := ctx.Err(); err != nil {
				results[i] = Result{Doc: doc, Err: err}
				return
			}
			out, err := p.renderer.Render(ctx, doc)
			if err != nil && ctx.Err() == nil {
				err = sgerrors.Wrap(err, sgerrors.CategoryRender, sgerrors.SeverityError, "render failed").
					WithContext("source", doc.SourcePath)
			}
			results[i] = Result{Doc: doc, Output: out, Err: err}
		}(i, doc)
	}
	wg.Wait()
	return results
}

package querytask

import (
	"context"

	"github.com/mohammed-shakir/spatial-line-query/internal/core/model"
)

// Poster is the UI execution context completions resume on
type Poster interface {
	Post(fn func()) bool
}

// ExecuteAsync runs q on its own goroutine. Exactly one of onSuccess or
// onFailure is posted to ui once the query finishes. Nothing cancels the
// query apart from ctx.
func ExecuteAsync(
	ctx context.Context,
	qr Querier,
	ui Poster,
	q model.QueryRequest,
	onSuccess func(model.FeatureSet),
	onFailure func(error),
) {
	go func() {
		fs, err := qr.Execute(ctx, q)
		if err != nil {
			ui.Post(func() { onFailure(err) })
			return
		}
		ui.Post(func() { onSuccess(fs) })
	}()
}

package features

import (
	"context"
	"image"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// ExtractAll runs ext over every image concurrently, using at most workers
// goroutines (GOMAXPROCS when workers <= 0). Result i belongs to image i.
//
// The only error returned is the context's, when it is cancelled before
// all images have been processed.
func ExtractAll(ctx context.Context, ext Extractor, images []image.Image, workers int) ([]*Set, error) {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	sets := make([]*Set, len(images))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, img := range images {
		i, img := i, img
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			sets[i] = ext.Extract(img)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return sets, nil
}

package lsmkv

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/soumyaprakashdatta/lsm-tree-cache/internal/segment"
)

// maxConcurrentSegmentLoads bounds how many segment files recovery parses at
// once, so a data directory with many segments doesn't open unbounded file
// descriptors concurrently.
const maxConcurrentSegmentLoads = 8

// loadSegments enumerates sstable_*.json files in dir and loads them
// concurrently, bounded by a semaphore and coordinated with an errgroup —
// the teacher's single-flight actor idiom (golang.org/x/sync/errgroup +
// semaphore.Weighted in sstable.go/merge.go) repurposed here for bounded
// fan-out rather than a background notify-channel actor, since recovery runs
// once, synchronously, before the engine is visible to any caller.
func loadSegments(dir string, logger *zap.Logger) ([]*segment.Segment, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var paths []string
	for _, f := range files {
		if f.IsDir() {
			continue
		}
		if strings.HasPrefix(f.Name(), "sstable_") && strings.HasSuffix(f.Name(), ".json") {
			paths = append(paths, filepath.Join(dir, f.Name()))
		}
	}

	results := make([]*segment.Segment, len(paths))
	sem := semaphore.NewWeighted(maxConcurrentSegmentLoads)
	g, ctx := errgroup.WithContext(context.Background())

	for i, p := range paths {
		i, p := i, p
		g.Go(func() error {
			if err := sem.Acquire(ctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)

			seg, err := segment.Load(p)
			if err != nil {
				var corrupt *segment.CorruptError
				if errors.As(err, &corrupt) {
					logger.Warn("skipping corrupt segment file", zap.String("path", p), zap.Error(err))
					return nil
				}
				return err
			}
			results[i] = seg
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	segments := results[:0]
	for _, s := range results {
		if s != nil {
			segments = append(segments, s)
		}
	}
	sort.Slice(segments, func(i, j int) bool {
		if segments[i].CreatedAt != segments[j].CreatedAt {
			return segments[i].CreatedAt < segments[j].CreatedAt
		}
		return segments[i].ID < segments[j].ID
	})
	return segments, nil
}

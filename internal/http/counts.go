package http

import (
	"context"
	"sort"
)

// summarizeCollections lists collections with their passage counts.
//
// A collection whose info cannot be read is reported with PointCount -1
// rather than failing the listing; chromem, for one, only knows collections
// it has loaded.
func summarizeCollections(ctx context.Context, eng Engine) ([]CollectionSummary, error) {
	names, err := eng.Collections(ctx)
	if err != nil {
		return nil, err
	}
	sort.Strings(names)

	out := make([]CollectionSummary, 0, len(names))
	for _, name := range names {
		summary := CollectionSummary{Name: name, PointCount: -1}
		if info, err := eng.CollectionInfo(ctx, name); err == nil && info != nil {
			summary.PointCount = info.PointCount
		}
		out = append(out, summary)
	}
	return out, nil
}

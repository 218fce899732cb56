// Package reconcile decides which items of a library are already enhanced by
// merging two independent sources: the job store's processed-item records and
// the marker labels on the media server.
package reconcile

import (
	"context"
	"log"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Provenance names the source(s) that reported an item as processed
type Provenance string

const (
	FromStore Provenance = "store"
	FromTag   Provenance = "tag"
	FromBoth  Provenance = "both"
)

// RecordSource reports items whose last run succeeded fully or partially
type RecordSource interface {
	SuccessfulItems(ctx context.Context, libraryID string) ([]string, error)
}

// TagSource lists library items and checks their marker label
type TagSource interface {
	LibraryItems(ctx context.Context, libraryID string) ([]string, error)
	HasMarker(ctx context.Context, itemID string) (bool, error)
}

// Entry is one processed item and where it was seen
type Entry struct {
	ItemID     string
	Provenance Provenance
}

// Merge combines the two item lists. Entries are sorted by item id.
func Merge(storeItems, tagItems []string) []Entry {
	seen := make(map[string]Provenance, len(storeItems)+len(tagItems))
	for _, id := range storeItems {
		seen[id] = FromStore
	}
	for _, id := range tagItems {
		if p, ok := seen[id]; ok && p != FromTag {
			seen[id] = FromBoth
		} else {
			seen[id] = FromTag
		}
	}

	entries := make([]Entry, 0, len(seen))
	for id, p := range seen {
		entries = append(entries, Entry{ItemID: id, Provenance: p})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ItemID < entries[j].ItemID })
	return entries
}

// Result is the outcome of one reconciliation
type Result struct {
	LibraryID string
	Entries   []Entry
	// StoreErr and TagErr record a source that could not be read
	StoreErr error
	TagErr   error
}

// Set returns the skip-set
func (r *Result) Set() map[string]bool {
	set := make(map[string]bool, len(r.Entries))
	for _, e := range r.Entries {
		set[e.ItemID] = true
	}
	return set
}

// Count returns the number of entries with the given provenance
func (r *Result) Count(p Provenance) int {
	n := 0
	for _, e := range r.Entries {
		if e.Provenance == p {
			n++
		}
	}
	return n
}

// Discrepancies returns the items seen by only one source
func (r *Result) Discrepancies() (storeOnly, tagOnly []string) {
	for _, e := range r.Entries {
		switch e.Provenance {
		case FromStore:
			storeOnly = append(storeOnly, e.ItemID)
		case FromTag:
			tagOnly = append(tagOnly, e.ItemID)
		}
	}
	return storeOnly, tagOnly
}

// Reconciler builds skip-sets for libraries
type Reconciler struct {
	records RecordSource
	tags    TagSource
	limit   int
	logger  *log.Logger
}

// New creates a reconciler. tags may be nil when no media server is configured.
// limit bounds concurrent marker lookups; values below 1 default to 8.
func New(records RecordSource, tags TagSource, limit int, logger *log.Logger) *Reconciler {
	if limit < 1 {
		limit = 8
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Reconciler{records: records, tags: tags, limit: limit, logger: logger}
}

// SkipSet reconciles a library. A failing source degrades to the other one;
// discrepancies between the two are logged, never returned as errors.
func (r *Reconciler) SkipSet(ctx context.Context, libraryID string) *Result {
	res := &Result{LibraryID: libraryID}

	var storeItems, tagItems []string
	if r.records != nil {
		storeItems, res.StoreErr = r.records.SuccessfulItems(ctx, libraryID)
		if res.StoreErr != nil {
			storeItems = nil
			r.logger.Printf("reconcile %s: store unavailable, using tags only: %v", libraryID, res.StoreErr)
		}
	}
	if r.tags != nil {
		tagItems, res.TagErr = r.taggedItems(ctx, libraryID)
		if res.TagErr != nil {
			tagItems = nil
			r.logger.Printf("reconcile %s: tag source unavailable, using store only: %v", libraryID, res.TagErr)
		}
	}

	res.Entries = Merge(storeItems, tagItems)

	storeOnly, tagOnly := res.Discrepancies()
	if res.StoreErr == nil && res.TagErr == nil && r.tags != nil && (len(storeOnly) > 0 || len(tagOnly) > 0) {
		r.logger.Printf("reconcile %s: %d items only in store %v, %d items only tagged %v",
			libraryID, len(storeOnly), storeOnly, len(tagOnly), tagOnly)
	}
	return res
}

// taggedItems walks every item in the library and keeps those carrying the marker
func (r *Reconciler) taggedItems(ctx context.Context, libraryID string) ([]string, error) {
	items, err := r.tags.LibraryItems(ctx, libraryID)
	if err != nil {
		return nil, err
	}

	var mu sync.Mutex
	var tagged []string

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.limit)
	for _, id := range items {
		id := id
		g.Go(func() error {
			ok, err := r.tags.HasMarker(gctx, id)
			if err != nil {
				return err
			}
			if ok {
				mu.Lock()
				tagged = append(tagged, id)
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	sort.Strings(tagged)
	return tagged, nil
}

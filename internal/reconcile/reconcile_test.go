package reconcile

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"testing"
)

type fakeRecords struct {
	items []string
	err   error
}

func (f *fakeRecords) SuccessfulItems(ctx context.Context, libraryID string) ([]string, error) {
	return f.items, f.err
}

type fakeTags struct {
	items  []string
	tagged map[string]bool
	err    error
}

func (f *fakeTags) LibraryItems(ctx context.Context, libraryID string) ([]string, error) {
	return f.items, f.err
}

func (f *fakeTags) HasMarker(ctx context.Context, itemID string) (bool, error) {
	return f.tagged[itemID], nil
}

func ids(nums ...int) []string {
	out := make([]string, len(nums))
	for i, n := range nums {
		out[i] = fmt.Sprintf("item-%02d", n)
	}
	return out
}

// 10 items; store has 1-7, tags have 4-8 (overlap 4-7)
func fixture() (*fakeRecords, *fakeTags) {
	tagged := map[string]bool{}
	for _, id := range ids(4, 5, 6, 7, 8) {
		tagged[id] = true
	}
	return &fakeRecords{items: ids(1, 2, 3, 4, 5, 6, 7)},
		&fakeTags{items: ids(1, 2, 3, 4, 5, 6, 7, 8, 9, 10), tagged: tagged}
}

func TestReconciler_SkipSet(t *testing.T) {
	records, tags := fixture()
	var buf bytes.Buffer
	r := New(records, tags, 3, log.New(&buf, "", 0))

	res := r.SkipSet(context.Background(), "lib")

	set := res.Set()
	if len(set) != 8 {
		t.Errorf("len(Set()) = %d, want 8", len(set))
	}
	for _, id := range ids(9, 10) {
		if set[id] {
			t.Errorf("%s should not be skipped", id)
		}
	}

	if got := res.Count(FromBoth); got != 4 {
		t.Errorf("Count(both) = %d, want 4", got)
	}
	storeOnly, tagOnly := res.Discrepancies()
	if len(storeOnly) != 3 {
		t.Errorf("store-only = %v, want 3 items", storeOnly)
	}
	if len(tagOnly) != 1 || tagOnly[0] != "item-08" {
		t.Errorf("tag-only = %v, want [item-08]", tagOnly)
	}

	logged := buf.String()
	if !strings.Contains(logged, "3 items only in store") || !strings.Contains(logged, "1 items only tagged") {
		t.Errorf("discrepancy log = %q", logged)
	}
}

func TestReconciler_DegradesWhenSourceFails(t *testing.T) {
	records, tags := fixture()
	tags.err = errors.New("connection refused")
	var buf bytes.Buffer
	r := New(records, tags, 3, log.New(&buf, "", 0))

	res := r.SkipSet(context.Background(), "lib")
	if res.TagErr == nil {
		t.Error("TagErr should be set")
	}
	if len(res.Set()) != 7 {
		t.Errorf("len(Set()) = %d, want 7 from store alone", len(res.Set()))
	}

	records.err = errors.New("database locked")
	tags.err = nil
	res = r.SkipSet(context.Background(), "lib")
	if res.StoreErr == nil {
		t.Error("StoreErr should be set")
	}
	if len(res.Set()) != 5 {
		t.Errorf("len(Set()) = %d, want 5 from tags alone", len(res.Set()))
	}
	if n := res.Count(FromStore) + res.Count(FromBoth); n != 0 {
		t.Errorf("%d entries credited to the failed store", n)
	}
}

func TestReconciler_NoTagSource(t *testing.T) {
	records, _ := fixture()
	r := New(records, nil, 0, log.New(&bytes.Buffer{}, "", 0))

	res := r.SkipSet(context.Background(), "lib")
	if len(res.Set()) != 7 || res.Count(FromStore) != 7 {
		t.Errorf("Set() = %v", res.Set())
	}
}

func TestMerge(t *testing.T) {
	entries := Merge([]string{"b", "a"}, []string{"b", "c", "c"})
	want := []Entry{{"a", FromStore}, {"b", FromBoth}, {"c", FromTag}}
	if len(entries) != len(want) {
		t.Fatalf("Merge() = %v, want %v", entries, want)
	}
	for i := range want {
		if entries[i] != want[i] {
			t.Errorf("entries[%d] = %v, want %v", i, entries[i], want[i])
		}
	}
}

package bulk

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"reflect"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dgallion1/mdbulk/internal/drive"
	"github.com/dgallion1/mdbulk/internal/fields"
	"github.com/dgallion1/mdbulk/internal/runner"
)

const testDrive = "d1"

type memNode struct {
	name     string
	kind     drive.Kind
	children []string
	content  []byte
}

// memStore is an in-memory Storage that records concurrency and writes.
type memStore struct {
	mu       sync.Mutex
	nodes    map[string]*memNode
	uploads  map[string][]byte
	failing  map[string]error
	delay    time.Duration
	inFlight int
	peak     int
}

func newMemStore() *memStore {
	return &memStore{
		nodes:   map[string]*memNode{"root": {name: "root", kind: drive.KindFolder}},
		uploads: map[string][]byte{},
		failing: map[string]error{},
	}
}

func (m *memStore) add(parent, id, name string, kind drive.Kind, content string) {
	m.nodes[id] = &memNode{name: name, kind: kind, content: []byte(content)}
	m.nodes[parent].children = append(m.nodes[parent].children, id)
}

func (m *memStore) enter(id string) (*memNode, error) {
	m.mu.Lock()
	m.inFlight++
	if m.inFlight > m.peak {
		m.peak = m.inFlight
	}
	n, err := m.nodes[id], m.failing[id]
	m.mu.Unlock()
	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	if err != nil {
		return nil, err
	}
	if n == nil {
		return nil, &drive.TransportError{Op: "get " + id, StatusCode: http.StatusNotFound, Message: "itemNotFound"}
	}
	return n, nil
}

func (m *memStore) leave() {
	m.mu.Lock()
	m.inFlight--
	m.mu.Unlock()
}

func (m *memStore) ListChildren(ctx context.Context, ref drive.ItemRef) ([]drive.Item, error) {
	defer m.leave()
	n, err := m.enter(ref.ID)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var items []drive.Item
	for _, id := range n.children {
		c := m.nodes[id]
		items = append(items, drive.Item{Name: c.name, Ref: drive.ItemRef{DriveID: testDrive, ID: id, Kind: c.kind}})
	}
	return items, nil
}

func (m *memStore) Download(ctx context.Context, ref drive.ItemRef) ([]byte, error) {
	defer m.leave()
	n, err := m.enter(ref.ID)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), n.content...), nil
}

func (m *memStore) Upload(ctx context.Context, ref drive.ItemRef, content []byte) error {
	defer m.leave()
	n, err := m.enter(ref.ID)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	n.content = append([]byte(nil), content...)
	m.uploads[ref.ID] = n.content
	return nil
}

func doc(topics, products string) string {
	return fmt.Sprintf("# Doc\n\nBody.\n\n---\n\nTopics: %s\nProducts: %s\n", topics, products)
}

func newService(t *testing.T, store Storage, opts Options) *Service {
	t.Helper()
	engine, err := fields.New(fields.Default())
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(store, engine, opts, log)
}

func rootItem() drive.Item {
	return drive.Item{Name: "root", Ref: drive.ItemRef{DriveID: testDrive, ID: "root", Kind: drive.KindFolder}}
}

// twoLevelStore is root/{a.md, sub/{b.md, c.txt}}.
func twoLevelStore() *memStore {
	m := newMemStore()
	m.add("root", "a", "a.md", drive.KindFile, doc("A1, A2", "PA"))
	m.add("root", "sub", "sub", drive.KindFolder, "")
	m.add("sub", "b", "b.md", drive.KindFile, doc("B", "PB"))
	m.add("sub", "c", "c.txt", drive.KindFile, "Topics: ignored")
	return m
}

func TestExtract_TwoLevelTree(t *testing.T) {
	svc := newService(t, twoLevelStore(), Options{})
	rows, err := svc.Extract(context.Background(), rootItem())
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	want := []Row{
		{Path: "a.md", ItemPath: "/drives/d1/items/a", Fields: map[string]string{"topics": "A1, A2", "products": "PA"}},
		{Path: "sub/b.md", ItemPath: "/drives/d1/items/b", Fields: map[string]string{"topics": "B", "products": "PB"}},
	}
	if !reflect.DeepEqual(rows, want) {
		t.Errorf("expected %+v, got %+v", want, rows)
	}
}

func TestExtract_InertItemsAndUnknownRoot(t *testing.T) {
	m := twoLevelStore()
	m.add("root", "nb", "notebook.md", drive.KindUnknown, "")
	svc := newService(t, m, Options{})
	root := drive.Item{Ref: drive.ItemRef{DriveID: testDrive, ID: "root"}}
	rows, err := svc.Extract(context.Background(), root)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(rows) != 2 {
		t.Errorf("expected unknown items to be skipped, got %+v", rows)
	}
}

func TestExtract_FileRoot(t *testing.T) {
	svc := newService(t, twoLevelStore(), Options{})
	file := drive.Item{Name: "b.md", Ref: drive.ItemRef{DriveID: testDrive, ID: "b", Kind: drive.KindFile}}
	rows, err := svc.Extract(context.Background(), file)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	want := []Row{{Path: "b.md", ItemPath: "/drives/d1/items/b", Fields: map[string]string{"topics": "B", "products": "PB"}}}
	if !reflect.DeepEqual(rows, want) {
		t.Errorf("expected %+v, got %+v", want, rows)
	}

	other := drive.Item{Name: "c.txt", Ref: drive.ItemRef{DriveID: testDrive, ID: "c", Kind: drive.KindFile}}
	rows, err = svc.Extract(context.Background(), other)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("expected a non-document file root to yield no rows, got %+v", rows)
	}
}

func TestExtract_CustomSuffix(t *testing.T) {
	svc := newService(t, twoLevelStore(), Options{Suffix: ".txt"})
	rows, err := svc.Extract(context.Background(), rootItem())
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(rows) != 1 || rows[0].Path != "sub/c.txt" {
		t.Errorf("expected only sub/c.txt, got %+v", rows)
	}
	if rows[0].Fields["topics"] != "" {
		t.Errorf("expected no topics without a separator, got %q", rows[0].Fields["topics"])
	}
}

// wideStore builds folders*filesPerFolder documents plus one non-document
// per folder.
func wideStore(folders, filesPerFolder int) *memStore {
	m := newMemStore()
	for f := range folders {
		fid := fmt.Sprintf("f%d", f)
		m.add("root", fid, fid, drive.KindFolder, "")
		for i := range filesPerFolder {
			id := fmt.Sprintf("%s-%d", fid, i)
			m.add(fid, id, id+".md", drive.KindFile, doc(id, "p"))
		}
		m.add(fid, fid+"-x", "skip.png", drive.KindFile, "")
	}
	return m
}

func TestExtract_SameRowsForAnyBound(t *testing.T) {
	var baseline []Row
	for _, limit := range []int{1, 2, 7, 50} {
		m := wideStore(4, 5)
		svc := newService(t, m, Options{MaxConcurrent: limit})
		rows, err := svc.Extract(context.Background(), rootItem())
		if err != nil {
			t.Fatalf("limit %d: %v", limit, err)
		}
		if len(rows) != 20 {
			t.Fatalf("limit %d: expected 20 rows, got %d", limit, len(rows))
		}
		if m.peak > limit {
			t.Errorf("limit %d: %d storage calls in flight", limit, m.peak)
		}
		if baseline == nil {
			baseline = rows
		} else if !reflect.DeepEqual(rows, baseline) {
			t.Errorf("limit %d: rows differ from limit 1", limit)
		}
	}
}

func TestExtract_BoundIsReached(t *testing.T) {
	m := wideStore(1, 30)
	m.delay = 5 * time.Millisecond
	svc := newService(t, m, Options{MaxConcurrent: 8})
	if _, err := svc.Extract(context.Background(), rootItem()); err != nil {
		t.Fatalf("extract: %v", err)
	}
	if m.peak > 8 {
		t.Errorf("expected at most 8 calls in flight, saw %d", m.peak)
	}
	if m.peak < 2 {
		t.Errorf("expected concurrent fetches, peak was %d", m.peak)
	}
}

func TestExtract_FailFast(t *testing.T) {
	m := twoLevelStore()
	m.failing["sub"] = &drive.TransportError{Op: "list", StatusCode: http.StatusForbidden, Message: "denied"}
	svc := newService(t, m, Options{})
	_, err := svc.Extract(context.Background(), rootItem())
	if !errors.Is(err, runner.ErrAborted) {
		t.Fatalf("expected aborted run, got %v", err)
	}
	if drive.StatusCode(err) != http.StatusForbidden {
		t.Errorf("expected the transport status to survive wrapping, got %v", err)
	}
	if !strings.Contains(err.Error(), "list sub") {
		t.Errorf("expected error to name the folder, got %v", err)
	}
}

func TestExtract_PartialFailure(t *testing.T) {
	m := twoLevelStore()
	m.failing["sub"] = errors.New("boom")
	var done int
	svc := newService(t, m, Options{PartialFailure: true, OnTaskDone: func(error) { done++ }})
	rows, err := svc.Extract(context.Background(), rootItem())
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected a document row and a failure row, got %+v", rows)
	}
	if rows[0].Path != "a.md" || rows[0].Error != "" {
		t.Errorf("unexpected first row %+v", rows[0])
	}
	if rows[1].Path != "sub" || rows[1].ItemPath != "/drives/d1/items/sub" || !strings.Contains(rows[1].Error, "boom") {
		t.Errorf("unexpected failure row %+v", rows[1])
	}
	if done != 3 {
		t.Errorf("expected 3 tasks reported done, got %d", done)
	}
}

func TestVerify_ShadowsCurrentValues(t *testing.T) {
	m := twoLevelStore()
	svc := newService(t, m, Options{})
	ctx := context.Background()
	rows, err := svc.Extract(ctx, rootItem())
	if err != nil {
		t.Fatalf("extract: %v", err)
	}

	// Unchanged documents: every shadow equals its field.
	verified, err := svc.Verify(ctx, rows)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	for _, r := range verified {
		if !reflect.DeepEqual(r.Fields, r.Original) {
			t.Errorf("%s: expected shadow identity, fields %v original %v", r.Path, r.Fields, r.Original)
		}
	}

	// Drift in one document shows up only in that row's shadow.
	m.nodes["b"].content = []byte(doc("changed", "PB"))
	edited := append([]Row(nil), rows...)
	edited[0].Fields = map[string]string{"topics": "caller edit", "products": "PA"}
	verified, err = svc.Verify(ctx, edited)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if verified[0].Fields["topics"] != "caller edit" || verified[0].Original["topics"] != "A1, A2" {
		t.Errorf("unexpected a.md row %+v", verified[0])
	}
	if verified[1].Original["topics"] != "changed" || verified[1].Fields["topics"] != "B" {
		t.Errorf("unexpected sub/b.md row %+v", verified[1])
	}
	if len(m.uploads) != 0 {
		t.Errorf("verify must not write, got uploads %v", m.uploads)
	}
}

func TestVerify_SortsByPath(t *testing.T) {
	svc := newService(t, twoLevelStore(), Options{})
	rows := []Row{
		{Path: "sub/b.md", ItemPath: "/drives/d1/items/b"},
		{Path: "a.md", ItemPath: "/drives/d1/items/a"},
	}
	out, err := svc.Verify(context.Background(), rows)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if out[0].Path != "a.md" || out[1].Path != "sub/b.md" {
		t.Errorf("expected sorted rows, got %+v", out)
	}
}

func TestVerify_BadItemPath(t *testing.T) {
	svc := newService(t, twoLevelStore(), Options{PartialFailure: true})
	out, err := svc.Verify(context.Background(), []Row{{Path: "x.md", ItemPath: "nope"}})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if len(out) != 1 || out[0].Error == "" {
		t.Errorf("expected a failed row, got %+v", out)
	}
}

func TestUpdate_WritesOnlyChangedDocuments(t *testing.T) {
	m := twoLevelStore()
	svc := newService(t, m, Options{})
	ctx := context.Background()
	rows, err := svc.Extract(ctx, rootItem())
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	rows[0].Fields["topics"] = "New *topic*"

	out, err := svc.Update(ctx, rows)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(out))
	}
	if _, ok := m.uploads["a"]; !ok || len(m.uploads) != 1 {
		t.Errorf("expected only a.md uploaded, got %v", m.uploads)
	}
	want := doc(`New \*topic\*`, "PA")
	if got := string(m.nodes["a"].content); got != want {
		t.Errorf("expected %q, got %q", want, got)
	}

	SortByPath(out)
	if out[0].Original["topics"] != "New *topic*" {
		t.Errorf("expected refreshed shadow, got %+v", out[0])
	}
	if !reflect.DeepEqual(out[1].Fields, out[1].Original) {
		t.Errorf("expected untouched row to verify clean, got %+v", out[1])
	}

	// Re-extracting sees the edit and nothing else.
	again, err := svc.Extract(ctx, rootItem())
	if err != nil {
		t.Fatalf("re-extract: %v", err)
	}
	if again[0].Fields["topics"] != "New *topic*" || again[1].Fields["topics"] != "B" {
		t.Errorf("unexpected re-extract %+v", again)
	}
}

func TestUpdate_UnchangedRowsUploadNothing(t *testing.T) {
	m := newMemStore()
	m.add("root", "s", "snake.md", drive.KindFile, doc("snake_case", "R&D"))
	m.add("root", "e", "entity.md", drive.KindFile, doc("Q&amp;A", "a*b"))
	m.add("root", "x", "escaped.md", drive.KindFile, doc(`\*star\*`, "1 &lt; 2"))
	svc := newService(t, m, Options{})
	ctx := context.Background()

	rows, err := svc.Extract(ctx, rootItem())
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if rows[0].Fields["topics"] != "Q&A" {
		t.Errorf("expected decoded entity, got %q", rows[0].Fields["topics"])
	}
	if _, err := svc.Update(ctx, rows); err != nil {
		t.Fatalf("update: %v", err)
	}
	if len(m.uploads) != 0 {
		t.Errorf("expected no uploads for unchanged rows, got %v", m.uploads)
	}
}

func TestUpdate_PartialFailure(t *testing.T) {
	m := twoLevelStore()
	m.failing["b"] = errors.New("locked")
	svc := newService(t, m, Options{PartialFailure: true})
	rows := []Row{
		{Path: "a.md", ItemPath: "/drives/d1/items/a", Fields: map[string]string{"topics": "x", "products": "y"}},
		{Path: "sub/b.md", ItemPath: "/drives/d1/items/b", Fields: map[string]string{"topics": "x", "products": "y"}},
	}
	out, err := svc.Update(context.Background(), rows)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	SortByPath(out)
	if out[0].Error != "" || out[0].Original["topics"] != "x" {
		t.Errorf("unexpected success row %+v", out[0])
	}
	if !strings.Contains(out[1].Error, "locked") || out[1].Fields["topics"] != "x" {
		t.Errorf("unexpected failure row %+v", out[1])
	}
}

func TestUpdate_FailFast(t *testing.T) {
	m := twoLevelStore()
	m.failing["a"] = errors.New("locked")
	svc := newService(t, m, Options{MaxConcurrent: 1})
	rows := []Row{
		{Path: "a.md", ItemPath: "/drives/d1/items/a", Fields: map[string]string{"topics": "x"}},
		{Path: "sub/b.md", ItemPath: "/drives/d1/items/b", Fields: map[string]string{"topics": "x"}},
	}
	if _, err := svc.Update(context.Background(), rows); !errors.Is(err, runner.ErrAborted) {
		t.Fatalf("expected aborted update, got %v", err)
	}
	if len(m.uploads) != 0 {
		t.Errorf("expected no writes after the first failure, got %v", m.uploads)
	}
}

func TestExtract_EmptyFolder(t *testing.T) {
	svc := newService(t, newMemStore(), Options{})
	rows, err := svc.Extract(context.Background(), rootItem())
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("expected no rows, got %+v", rows)
	}
}

func TestFields(t *testing.T) {
	svc := newService(t, newMemStore(), Options{})
	got := svc.Fields()
	sort.Strings(got)
	if strings.Join(got, ",") != "products,topics" {
		t.Errorf("unexpected fields %v", got)
	}
}

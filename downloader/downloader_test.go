package downloader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/satdatalab/satseries/common"
	"github.com/satdatalab/satseries/interface/provider"
	"github.com/satdatalab/satseries/service"
)

type fakeProvider struct {
	mu          sync.Mutex
	calls       map[string]int
	inflight    int
	maxInflight int

	fail  map[string]error
	delay time.Duration
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{calls: map[string]int{}, fail: map[string]error{}}
}

// Name implements provider.ObjectProvider
func (p *fakeProvider) Name() string { return "fake" }

// Schemes implements provider.ObjectProvider
func (p *fakeProvider) Schemes() []string { return []string{"test"} }

// Fetch implements provider.ObjectProvider
func (p *fakeProvider) Fetch(ctx context.Context, ref common.ObjectRef, localFile string) error {
	p.mu.Lock()
	p.calls[ref.Name]++
	calls := p.calls[ref.Name]
	p.inflight++
	if p.inflight > p.maxInflight {
		p.maxInflight = p.inflight
	}
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.inflight--
		p.mu.Unlock()
	}()

	time.Sleep(p.delay)
	if err, ok := p.fail[ref.Name]; ok && calls == 1 {
		return err
	}
	return os.WriteFile(localFile, []byte("bytes of "+ref.Name), 0644)
}

func testRefs(n int) []common.ObjectRef {
	refs := make([]common.ObjectRef, n)
	for i := range refs {
		name := fmt.Sprintf("obj%02d.nc", i)
		refs[i] = common.ObjectRef{
			Address: "test://host/" + name,
			Name:    name,
			Time:    time.Date(2023, 7, 1, i, 0, 0, 0, time.UTC),
		}
	}
	return refs
}

func newTestWorkspace(t *testing.T) *service.Workspace {
	ws, err := service.NewWorkspace("", t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return ws
}

func checkNoStaging(t *testing.T, ws *service.Workspace) {
	t.Helper()
	staged, err := filepath.Glob(filepath.Join(ws.Root, "*.tmp.*"))
	if err != nil {
		t.Fatal(err)
	}
	if len(staged) != 0 {
		t.Errorf("staging files left behind: %v", staged)
	}
}

func TestFetchOrderAndConcurrency(t *testing.T) {
	p := newFakeProvider()
	p.delay = 5 * time.Millisecond
	ws := newTestWorkspace(t)
	refs := testRefs(12)

	f := &Fetcher{Providers: []provider.ObjectProvider{p}, Concurrency: 3}
	outcomes := f.Fetch(context.Background(), refs, ws)

	if len(outcomes) != len(refs) {
		t.Fatalf("expected %d outcomes, got %d", len(refs), len(outcomes))
	}
	for i, o := range outcomes {
		if o.Name != refs[i].Name {
			t.Errorf("outcome %d: expected %s, got %s", i, refs[i].Name, o.Name)
		}
		if o.Status != common.StatusFETCHED {
			t.Errorf("outcome %d: expected FETCHED, got %s (%s)", i, o.Status, o.Error)
		}
		b, err := os.ReadFile(o.LocalPath)
		if err != nil {
			t.Errorf("outcome %d: %v", i, err)
		} else if string(b) != "bytes of "+o.Name {
			t.Errorf("outcome %d: unexpected content %q", i, b)
		}
	}
	if p.maxInflight > 3 {
		t.Errorf("expected at most 3 concurrent fetches, got %d", p.maxInflight)
	}
	checkNoStaging(t, ws)
}

func TestFetchCached(t *testing.T) {
	p := newFakeProvider()
	ws := newTestWorkspace(t)
	refs := testRefs(3)

	if err := os.WriteFile(ws.Path(refs[1].Name), []byte("previous run"), 0644); err != nil {
		t.Fatal(err)
	}

	f := &Fetcher{Providers: []provider.ObjectProvider{p}, Concurrency: 2}
	outcomes := f.Fetch(context.Background(), refs, ws)

	if outcomes[1].Status != common.StatusCACHED {
		t.Errorf("expected CACHED, got %s", outcomes[1].Status)
	}
	if p.calls[refs[1].Name] != 0 {
		t.Errorf("cached object must not be downloaded again")
	}
	b, err := os.ReadFile(outcomes[1].LocalPath)
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "previous run" {
		t.Errorf("cached file must be left untouched, got %q", b)
	}
	for _, i := range []int{0, 2} {
		if outcomes[i].Status != common.StatusFETCHED {
			t.Errorf("outcome %d: expected FETCHED, got %s", i, outcomes[i].Status)
		}
	}
}

func TestFetchFailureIsolation(t *testing.T) {
	p := newFakeProvider()
	ws := newTestWorkspace(t)
	refs := testRefs(4)
	p.fail[refs[2].Name] = provider.ErrObjectNotFound{Object: refs[2].Name}

	f := &Fetcher{Providers: []provider.ObjectProvider{p}, Concurrency: 2, Tries: 3, RetryDelay: time.Microsecond}
	outcomes := f.Fetch(context.Background(), refs, ws)

	if outcomes[2].Status != common.StatusFAILED || outcomes[2].Error == "" {
		t.Errorf("expected a FAILED outcome with a reason, got %s (%q)", outcomes[2].Status, outcomes[2].Error)
	}
	var ferr FetchError
	if !errors.As(outcomes[2].Err, &ferr) {
		t.Errorf("expected a FetchError, got %v", outcomes[2].Err)
	} else {
		if ferr.Address != refs[2].Address {
			t.Errorf("FetchError address %s, want %s", ferr.Address, refs[2].Address)
		}
		var notFound provider.ErrObjectNotFound
		if !errors.As(ferr, &notFound) {
			t.Errorf("FetchError does not unwrap to the provider failure: %v", ferr)
		}
	}
	if p.calls[refs[2].Name] != 1 {
		t.Errorf("a definitive error must not be retried, got %d tries", p.calls[refs[2].Name])
	}
	for _, i := range []int{0, 1, 3} {
		if outcomes[i].Status != common.StatusFETCHED {
			t.Errorf("outcome %d: expected FETCHED, got %s", i, outcomes[i].Status)
		}
	}
	checkNoStaging(t, ws)
}

func TestFetchRetryTemporary(t *testing.T) {
	p := newFakeProvider()
	ws := newTestWorkspace(t)
	refs := testRefs(1)
	p.fail[refs[0].Name] = service.MakeTemporary(fmt.Errorf("connection reset"))

	f := &Fetcher{Providers: []provider.ObjectProvider{p}, Concurrency: 1, Tries: 3, RetryDelay: time.Microsecond}
	outcomes := f.Fetch(context.Background(), refs, ws)

	if outcomes[0].Status != common.StatusFETCHED {
		t.Fatalf("expected FETCHED after retry, got %s (%s)", outcomes[0].Status, outcomes[0].Error)
	}
	if p.calls[refs[0].Name] != 2 {
		t.Errorf("expected 2 tries, got %d", p.calls[refs[0].Name])
	}
	checkNoStaging(t, ws)
}

func TestFetchNoProvider(t *testing.T) {
	ws := newTestWorkspace(t)
	refs := []common.ObjectRef{{Address: "gopher://host/x.nc", Name: "x.nc"}}

	f := &Fetcher{Providers: []provider.ObjectProvider{newFakeProvider()}, Concurrency: 1}
	outcomes := f.Fetch(context.Background(), refs, ws)

	if outcomes[0].Status != common.StatusFAILED {
		t.Errorf("expected FAILED, got %s", outcomes[0].Status)
	}
}

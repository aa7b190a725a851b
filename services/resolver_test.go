package services

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeProber answers from a fixed table; unknown URLs are 404.
type fakeProber struct {
	mu       sync.Mutex
	statuses map[string]int
	errs     map[string]error
	calls    []string
	onProbe  func(url string)
}

func (f *fakeProber) Probe(ctx context.Context, url string) (int, error) {
	f.mu.Lock()
	f.calls = append(f.calls, url)
	hook := f.onProbe
	f.mu.Unlock()
	if hook != nil {
		hook(url)
	}
	if err, ok := f.errs[url]; ok {
		return 0, err
	}
	if s, ok := f.statuses[url]; ok {
		return s, nil
	}
	return http.StatusNotFound, nil
}

func (f *fakeProber) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

const testBase = "https://cdn.test/asics/"

func TestCandidateURLs_Order(t *testing.T) {
	r := NewImageResolver(testBase, &fakeProber{}, zap.NewNop())
	urls := r.CandidateURLs("SKU001")

	require.Len(t, urls, len(ImageSuffixes)*len(Disambiguators))
	assert.Equal(t, testBase+"SKU001_SR_RT_GLB?$zoom$", urls[0])
	assert.Equal(t, testBase+"SKU001_SR_RT_GLB-1?$zoom$", urls[1])
	assert.Equal(t, testBase+"SKU001_SR_RT_GLB-2?$zoom$", urls[2])
	assert.Equal(t, testBase+"SKU001_SB_FR_GLB?$zoom$", urls[3])
	assert.Equal(t, testBase+"SKU001_SB_BT_GLB-2?$zoom$", urls[len(urls)-1])
}

func TestNewImageResolver_NormalizesBase(t *testing.T) {
	r := NewImageResolver("https://cdn.test/asics", &fakeProber{}, zap.NewNop())
	assert.Equal(t, "https://cdn.test/asics/X_SR_RT_GLB?$zoom$", r.CandidateURL("X", "_SR_RT_GLB", ""))

	r = NewImageResolver("", &fakeProber{}, zap.NewNop())
	assert.Equal(t, DefaultCDNBaseURL+"X_SR_RT_GLB?$zoom$", r.CandidateURL("X", "_SR_RT_GLB", ""))
}

func TestResolve_FirstHitPerSuffix(t *testing.T) {
	r := NewImageResolver(testBase, nil, zap.NewNop())
	p := &fakeProber{statuses: map[string]int{
		r.CandidateURL("SKU001", "_SR_RT_GLB", "-1"): 200,
		r.CandidateURL("SKU001", "_SR_RT_GLB", "-2"): 200,
		r.CandidateURL("SKU001", "_SB_BK_GLB", ""):   200,
		r.CandidateURL("SKU001", "_SB_FR_GLB", ""):   301,
	}}
	r.prober = p

	urls, err := r.Resolve(context.Background(), "SKU001")
	require.NoError(t, err)
	assert.Equal(t, []string{
		r.CandidateURL("SKU001", "_SR_RT_GLB", "-1"),
		r.CandidateURL("SKU001", "_SB_BK_GLB", ""),
	}, urls)

	// -2 is never probed once -1 hit
	assert.NotContains(t, p.Calls(), r.CandidateURL("SKU001", "_SR_RT_GLB", "-2"))
	// 2 probes for the first suffix, 1 for _SB_BK_GLB, 3 each for the other five
	assert.Len(t, p.Calls(), 2+1+5*3)
}

func TestResolve_ProbeErrorsAreMisses(t *testing.T) {
	r := NewImageResolver(testBase, nil, zap.NewNop())
	r.prober = &fakeProber{
		errs:     map[string]error{r.CandidateURL("K", "_SR_RT_GLB", ""): errors.New("dial tcp: timeout")},
		statuses: map[string]int{r.CandidateURL("K", "_SR_RT_GLB", "-1"): 200},
	}

	urls, err := r.Resolve(context.Background(), "K")
	require.NoError(t, err)
	assert.Equal(t, []string{r.CandidateURL("K", "_SR_RT_GLB", "-1")}, urls)
}

func TestResolve_NothingFound(t *testing.T) {
	p := &fakeProber{}
	r := NewImageResolver(testBase, p, zap.NewNop())

	urls, err := r.Resolve(context.Background(), "NOPE")
	require.NoError(t, err)
	assert.Empty(t, urls)
	assert.Len(t, p.Calls(), 21)
}

func TestResolve_AtMostOnePerSuffix(t *testing.T) {
	r := NewImageResolver(testBase, nil, zap.NewNop())
	all := map[string]int{}
	for _, u := range r.CandidateURLs("K") {
		all[u] = 200
	}
	r.prober = &fakeProber{statuses: all}

	urls, err := r.Resolve(context.Background(), "K")
	require.NoError(t, err)
	require.Len(t, urls, len(ImageSuffixes))
	for i, suffix := range ImageSuffixes {
		assert.Equal(t, r.CandidateURL("K", suffix, ""), urls[i])
	}
}

func TestResolve_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := NewImageResolver(testBase, nil, zap.NewNop())
	p := &fakeProber{statuses: map[string]int{r.CandidateURL("K", "_SR_RT_GLB", ""): 200}}
	p.onProbe = func(url string) {
		if url == r.CandidateURL("K", "_SB_FR_GLB", "") {
			cancel()
		}
	}
	r.prober = p

	urls, err := r.Resolve(ctx, "K")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{r.CandidateURL("K", "_SR_RT_GLB", "")}, urls)
	assert.Len(t, p.Calls(), 2)
}

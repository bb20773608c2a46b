package proxy

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"mercator-hq/relay/pkg/accounts"
	"mercator-hq/relay/pkg/usage"
)

type fakeResult struct {
	resp *http.Response
	err  error
}

// fakeUpstream answers attempt i with results[i]; attempts beyond the slice
// decline.
type fakeUpstream struct {
	mu sync.Mutex

	results []fakeResult
	unauth  fakeResult

	accounts    []string
	attempts    []int
	bodies      [][]byte
	unauthCalls int
	unauthBody  []byte
}

func (f *fakeUpstream) ProxyWithAccount(ctx context.Context, r *http.Request, target *url.URL, account *accounts.Account, meta *RequestMetadata, body *BufferedBody, attempt int) (*http.Response, error) {
	data, _ := io.ReadAll(body.NewStream())

	f.mu.Lock()
	defer f.mu.Unlock()
	i := len(f.accounts)
	f.accounts = append(f.accounts, account.Name)
	f.attempts = append(f.attempts, attempt)
	f.bodies = append(f.bodies, data)
	if i < len(f.results) {
		return f.results[i].resp, f.results[i].err
	}
	return nil, nil
}

func (f *fakeUpstream) ProxyUnauthenticated(ctx context.Context, r *http.Request, target *url.URL, meta *RequestMetadata, body *BufferedBody) (*http.Response, error) {
	data, _ := io.ReadAll(body.NewStream())

	f.mu.Lock()
	defer f.mu.Unlock()
	f.unauthCalls++
	f.unauthBody = data
	return f.unauth.resp, f.unauth.err
}

func taggedResponse(tag string) *http.Response {
	return &http.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{"X-Tag": []string{tag}},
		Body:       io.NopCloser(strings.NewReader(tag)),
	}
}

type fakeSelector struct {
	candidates []*accounts.Account
	err        error

	calls     int
	seenAgent string
}

func (s *fakeSelector) SelectAccountsForRequest(ctx context.Context, meta *RequestMetadata) ([]*accounts.Account, error) {
	s.calls++
	s.seenAgent = meta.AgentUsed
	return s.candidates, s.err
}

type fakeInterceptor struct {
	result *InterceptResult
	err    error
}

func (i *fakeInterceptor) InterceptAndModifyRequest(ctx context.Context, body *BufferedBody) (*InterceptResult, error) {
	return i.result, i.err
}

type recordingPoster struct {
	mu   sync.Mutex
	msgs []usage.Message
}

func (p *recordingPoster) Post(msg usage.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, msg)
}

func (p *recordingPoster) messages() []usage.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]usage.Message(nil), p.msgs...)
}

func apiKeyAccounts(names ...string) []*accounts.Account {
	out := make([]*accounts.Account, len(names))
	for i, n := range names {
		out[i] = &accounts.Account{ID: "id-" + n, Name: n, APIKey: "key-" + n}
	}
	return out
}

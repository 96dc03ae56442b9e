package failover

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

type payload struct {
	Name string `json:"name"`
}

func getBuilder(ctx context.Context, endpoint string) (*http.Request, error) {
	return http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
}

func slowServer(t *testing.T, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			hits.Add(1)
		}
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func jsonServer(t *testing.T, status int, body string, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			hits.Add(1)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchFirstSuccessWins(t *testing.T) {
	var slowHits, okHits, lastHits atomic.Int32
	slow := slowServer(t, &slowHits)
	ok := jsonServer(t, http.StatusOK, `{"name":"mirror-2"}`, &okHits)
	last := jsonServer(t, http.StatusOK, `{"name":"mirror-3"}`, &lastHits)

	var observed []Attempt
	client := &Client{
		Timeout:   50 * time.Millisecond,
		OnAttempt: func(a Attempt) { observed = append(observed, a) },
	}

	result, err := Fetch[payload](context.Background(), client, []string{slow.URL, ok.URL, last.URL}, getBuilder, nil)
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Equal(t, "mirror-2", result.Payload.Name)
	assert.Equal(t, ok.URL, result.Source)
	assert.Equal(t, int32(1), slowHits.Load())
	assert.Equal(t, int32(1), okHits.Load())
	assert.Equal(t, int32(0), lastHits.Load(), "endpoints after the first success must not be contacted")

	require.Len(t, result.Attempts, 2)
	assert.Equal(t, KindTimeout, result.Attempts[0].Kind)
	assert.True(t, result.Attempts[1].Succeeded())
	assert.Equal(t, result.Attempts, observed)
}

func TestFetchExhausted(t *testing.T) {
	first := jsonServer(t, http.StatusTooManyRequests, "rate limited", nil)
	second := jsonServer(t, http.StatusGatewayTimeout, strings.Repeat("x", 2048), nil)

	_, err := Fetch[payload](context.Background(), &Client{Timeout: time.Second}, []string{first.URL, second.URL}, getBuilder, nil)
	require.Error(t, err)
	require.ErrorIs(t, err, ErrExhausted)
	assert.False(t, errors.Is(err, context.Canceled))

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, "2 of 2 endpoints attempted, all failed", exhausted.Error())
	require.Len(t, exhausted.Attempts, 2)

	assert.Equal(t, first.URL, exhausted.Attempts[0].Endpoint)
	assert.Equal(t, KindBadStatus, exhausted.Attempts[0].Kind)
	assert.Equal(t, http.StatusTooManyRequests, exhausted.Attempts[0].StatusCode)
	assert.Equal(t, "rate limited", exhausted.Attempts[0].Body)

	assert.Equal(t, second.URL, exhausted.Attempts[1].Endpoint)
	assert.Equal(t, KindBadStatus, exhausted.Attempts[1].Kind)
	assert.Equal(t, http.StatusGatewayTimeout, exhausted.Attempts[1].StatusCode)
	assert.Len(t, exhausted.Attempts[1].Body, DefaultBodySnippet)

	assert.Contains(t, exhausted.Detail(), "bad-status 429 (rate limited)")
}

func TestFetchDecodeErrorIsNotFatal(t *testing.T) {
	broken := jsonServer(t, http.StatusOK, "<html>maintenance</html>", nil)
	ok := jsonServer(t, http.StatusOK, `{"name":"good"}`, nil)

	result, err := Fetch[payload](context.Background(), &Client{Timeout: time.Second}, []string{broken.URL, ok.URL}, getBuilder, nil)
	require.NoError(t, err)
	assert.Equal(t, "good", result.Payload.Name)
	require.Len(t, result.Attempts, 2)
	assert.Equal(t, KindDecode, result.Attempts[0].Kind)
	assert.Equal(t, http.StatusOK, result.Attempts[0].StatusCode)
}

func TestFetchCustomDecoder(t *testing.T) {
	srv := jsonServer(t, http.StatusOK, `{"name":"x"}`, nil)

	strict := func(r io.Reader) (payload, error) {
		p, err := JSONDecoder[payload]()(r)
		if err != nil {
			return p, err
		}
		if p.Name != "expected" {
			return p, fmt.Errorf("unexpected name %q", p.Name)
		}
		return p, nil
	}

	_, err := Fetch[payload](context.Background(), &Client{Timeout: time.Second}, []string{srv.URL}, getBuilder, strict)
	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, KindDecode, exhausted.Attempts[0].Kind)
	assert.Contains(t, exhausted.Attempts[0].Err, "unexpected name")
}

func TestFetchTransportError(t *testing.T) {
	closed := httptest.NewServer(http.NotFoundHandler())
	closedURL := closed.URL
	closed.Close()

	ok := jsonServer(t, http.StatusOK, `{"name":"ok"}`, nil)

	result, err := Fetch[payload](context.Background(), &Client{Timeout: time.Second}, []string{closedURL, ok.URL}, getBuilder, nil)
	require.NoError(t, err)
	require.Len(t, result.Attempts, 2)
	assert.Equal(t, KindTransport, result.Attempts[0].Kind)
	assert.NotEmpty(t, result.Attempts[0].Err)
}

func TestFetchBuildErrorIsRecorded(t *testing.T) {
	ok := jsonServer(t, http.StatusOK, `{"name":"ok"}`, nil)

	build := func(ctx context.Context, endpoint string) (*http.Request, error) {
		if endpoint == "bad" {
			return nil, errors.New("malformed endpoint")
		}
		return getBuilder(ctx, endpoint)
	}

	result, err := Fetch[payload](context.Background(), &Client{Timeout: time.Second}, []string{"bad", ok.URL}, build, nil)
	require.NoError(t, err)
	assert.Equal(t, KindTransport, result.Attempts[0].Kind)
	assert.Contains(t, result.Attempts[0].Err, "malformed endpoint")
}

func TestFetchCancellationIsDistinct(t *testing.T) {
	var secondHits atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cancel()
		<-r.Context().Done()
	}))
	defer first.Close()
	second := jsonServer(t, http.StatusOK, `{"name":"never"}`, &secondHits)

	_, err := Fetch[payload](ctx, &Client{Timeout: time.Second}, []string{first.URL, second.URL}, getBuilder, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, errors.Is(err, ErrExhausted))

	var canceled *CanceledError
	require.ErrorAs(t, err, &canceled)
	assert.Equal(t, int32(0), secondHits.Load())
}

func TestFetchAlreadyCanceled(t *testing.T) {
	var hits atomic.Int32
	srv := jsonServer(t, http.StatusOK, `{"name":"x"}`, &hits)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Fetch[payload](ctx, nil, []string{srv.URL}, getBuilder, nil)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(0), hits.Load())
}

func TestFetchNoEndpoints(t *testing.T) {
	_, err := Fetch[payload](context.Background(), &Client{}, nil, getBuilder, nil)
	require.ErrorIs(t, err, ErrNoEndpoints)
	assert.False(t, errors.Is(err, ErrExhausted))
}

func TestFetchSequential(t *testing.T) {
	var inFlight, maxInFlight atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			cur := maxInFlight.Load()
			if n <= cur || maxInFlight.CompareAndSwap(cur, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		w.WriteHeader(http.StatusBadGateway)
	})

	var endpoints []string
	for i := 0; i < 4; i++ {
		srv := httptest.NewServer(handler)
		t.Cleanup(srv.Close)
		endpoints = append(endpoints, srv.URL)
	}

	_, err := Fetch[payload](context.Background(), &Client{Timeout: time.Second}, endpoints, getBuilder, nil)
	require.ErrorIs(t, err, ErrExhausted)
	assert.Equal(t, int32(1), maxInFlight.Load())
}

func TestFetchCircuitOpen(t *testing.T) {
	var badHits atomic.Int32
	bad := jsonServer(t, http.StatusServiceUnavailable, "down", &badHits)
	ok := jsonServer(t, http.StatusOK, `{"name":"ok"}`, nil)

	var transitions []string
	breakers := NewBreakers(BreakerConfig{
		MaxRequests: 1,
		Timeout:     time.Hour,
		Threshold:   2,
		OnStateChange: func(endpoint, from, to string) {
			transitions = append(transitions, from+"->"+to)
		},
	})
	client := &Client{Timeout: time.Second, Breakers: breakers}
	endpoints := []string{bad.URL, ok.URL}

	for i := 0; i < 2; i++ {
		result, err := Fetch[payload](context.Background(), client, endpoints, getBuilder, nil)
		require.NoError(t, err)
		assert.Equal(t, KindBadStatus, result.Attempts[0].Kind)
	}
	assert.True(t, breakers.IsOpen(bad.URL))
	assert.Equal(t, []string{"closed->open"}, transitions)

	result, err := Fetch[payload](context.Background(), client, endpoints, getBuilder, nil)
	require.NoError(t, err)
	assert.Equal(t, KindCircuitOpen, result.Attempts[0].Kind)
	assert.Equal(t, int32(2), badHits.Load())
	assert.Equal(t, "closed", breakers.State(ok.URL))
}

func TestFetchPacerCanceled(t *testing.T) {
	srv := jsonServer(t, http.StatusOK, `{"name":"x"}`, nil)

	pacer := rate.NewLimiter(rate.Every(time.Hour), 1)
	require.True(t, pacer.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := Fetch[payload](ctx, &Client{Pacer: pacer}, []string{srv.URL}, getBuilder, nil)
	var canceled *CanceledError
	require.ErrorAs(t, err, &canceled)
	assert.Empty(t, canceled.Attempts)
}

func TestAttemptString(t *testing.T) {
	assert.Equal(t, "a: ok", Attempt{Endpoint: "a"}.String())
	assert.Equal(t, "a: bad-status 502", Attempt{Endpoint: "a", Kind: KindBadStatus, StatusCode: 502}.String())
	assert.Equal(t, "a: timeout (deadline)", Attempt{Endpoint: "a", Kind: KindTimeout, Err: "deadline"}.String())
}

func TestAttemptsOf(t *testing.T) {
	trail := []Attempt{{Endpoint: "a", Kind: KindTimeout}}
	assert.Equal(t, trail, AttemptsOf(&ExhaustedError{Attempts: trail, Total: 1}))
	assert.Equal(t, trail, AttemptsOf(fmt.Errorf("wrapped: %w", &CanceledError{Attempts: trail, Cause: context.Canceled})))
	assert.Nil(t, AttemptsOf(errors.New("other")))
}

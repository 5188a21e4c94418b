package mockhttp_test

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ggoodman/mockstream-go/coordinator"
	"github.com/ggoodman/mockstream-go/gate"
	"github.com/ggoodman/mockstream-go/gate/memorygate"
	"github.com/ggoodman/mockstream-go/generation"
	"github.com/ggoodman/mockstream-go/internal/logtest"
	"github.com/ggoodman/mockstream-go/internal/metrics"
	"github.com/ggoodman/mockstream-go/mockhttp"
	"github.com/prometheus/client_golang/prometheus"
)

type errorBody struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func mustServer(t *testing.T, g gate.Gate, copts []coordinator.Option, hopts ...mockhttp.Option) *httptest.Server {
	t.Helper()
	log := logtest.Logger(t)
	coord, err := coordinator.New(g, append([]coordinator.Option{coordinator.WithLogger(log)}, copts...)...)
	if err != nil {
		t.Fatalf("coordinator.New: %v", err)
	}
	h := mockhttp.New(coord, append([]mockhttp.Option{mockhttp.WithLogger(log)}, hopts...)...)
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv
}

func get(t *testing.T, url string) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, r io.Reader, v any) {
	t.Helper()
	if err := json.NewDecoder(r).Decode(v); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

func TestGetTestComplete(t *testing.T) {
	srv := mustServer(t, memorygate.New(), []coordinator.Option{coordinator.WithLength(5)})

	resp := get(t, srv.URL+"/test?query=hello")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Fatalf("unexpected content type %q", ct)
	}
	if resp.Header.Get("X-Request-Id") == "" {
		t.Fatalf("missing request id")
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("missing or wrong ACAO: %q", got)
	}

	var res coordinator.Response
	decode(t, resp.Body, &res)
	if !res.Complete || res.Aborted {
		t.Fatalf("unexpected flags: %+v", res)
	}
	if !strings.HasPrefix(res.Response, "hello:\n") || len(res.Response) != len("hello:\n")+5 {
		t.Fatalf("unexpected response %q", res.Response)
	}
}

func TestGetTestRequestIDHonoured(t *testing.T) {
	srv := mustServer(t, memorygate.New(), []coordinator.Option{coordinator.WithLength(1)})

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/test?query=x", nil)
	req.Header.Set("X-Request-Id", "abc-123")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if got := resp.Header.Get("X-Request-Id"); got != "abc-123" {
		t.Fatalf("request id: want abc-123 got %q", got)
	}
}

func TestGetTestValidation(t *testing.T) {
	srv := mustServer(t, memorygate.New(), nil)

	for name, path := range map[string]string{
		"missing query":  "/test",
		"invalid stream": "/test?query=x&stream=maybe",
	} {
		t.Run(name, func(t *testing.T) {
			resp := get(t, srv.URL+path)
			if resp.StatusCode != http.StatusUnprocessableEntity {
				t.Fatalf("unexpected status: %d", resp.StatusCode)
			}
			var body errorBody
			decode(t, resp.Body, &body)
			if body.Error.Code != http.StatusUnprocessableEntity || body.Error.Message == "" {
				t.Fatalf("unexpected error body: %+v", body)
			}
		})
	}
}

func TestGetTestEmptyQueryAllowed(t *testing.T) {
	srv := mustServer(t, memorygate.New(), []coordinator.Option{coordinator.WithLength(3)})

	resp := get(t, srv.URL+"/test?query=&stream=FALSE")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
	var res coordinator.Response
	decode(t, resp.Body, &res)
	if !strings.HasPrefix(res.Response, ":\n") {
		t.Fatalf("unexpected response %q", res.Response)
	}
}

func TestGetTestStream(t *testing.T) {
	srv := mustServer(t, memorygate.New(), []coordinator.Option{coordinator.WithLength(4)})

	resp := get(t, srv.URL+"/test?query=ab&stream=true")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}

	sc := bufio.NewScanner(resp.Body)
	sc.Split(coordinator.ScanFrames)
	var frames []string
	for sc.Scan() {
		frames = append(frames, sc.Text())
	}
	if err := sc.Err(); err != nil {
		t.Fatalf("scan: %v", err)
	}

	// "ab:\n" plus four letters: seven partials and the final frame.
	if want, got := 8, len(frames); want != got {
		t.Fatalf("frame count: want %d got %d", want, got)
	}
	var joined strings.Builder
	for _, f := range frames[:7] {
		var s string
		if err := json.Unmarshal([]byte(f), &s); err != nil {
			t.Fatalf("partial frame %q: %v", f, err)
		}
		joined.WriteString(s)
	}
	var final coordinator.FinalFrame
	if err := json.Unmarshal([]byte(frames[7]), &final); err != nil {
		t.Fatalf("final frame %q: %v", frames[7], err)
	}
	if !final.Complete || final.Response[:7] != joined.String() {
		t.Fatalf("final frame %+v does not extend partials %q", final, joined.String())
	}
}

func TestGetTestClientDisconnectReleasesGate(t *testing.T) {
	for _, stream := range []string{"false", "true"} {
		t.Run("stream="+stream, func(t *testing.T) {
			g := memorygate.New()
			finished := make(chan struct{})
			srv := mustServer(t, g, []coordinator.Option{
				coordinator.WithLength(200),
				coordinator.WithDelay(10 * time.Millisecond),
				coordinator.WithGeneratorOptions(generation.WithCleanup(func() { close(finished) })),
			})

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/test?query=q&stream="+stream, nil)

			errc := make(chan error, 1)
			go func() {
				resp, err := http.DefaultClient.Do(req)
				if err == nil {
					_, err = io.Copy(io.Discard, resp.Body)
					resp.Body.Close()
				}
				errc <- err
			}()

			waitFor(t, func() bool {
				held, _ := g.Held(context.Background())
				return held
			})
			cancel()

			select {
			case <-finished:
			case <-time.After(2 * time.Second):
				t.Fatalf("generator was not stopped after disconnect")
			}
			<-errc

			waitFor(t, func() bool {
				held, _ := g.Held(context.Background())
				return !held
			})
		})
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestGetTestAcquireTimeout(t *testing.T) {
	g := memorygate.New()
	release, err := g.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer release()

	srv := mustServer(t, g, []coordinator.Option{coordinator.WithAcquireTimeout(20 * time.Millisecond)})

	for _, stream := range []string{"false", "true"} {
		resp := get(t, srv.URL+"/test?query=q&stream="+stream)
		if resp.StatusCode != http.StatusServiceUnavailable {
			t.Fatalf("stream=%s: unexpected status %d", stream, resp.StatusCode)
		}
		if got := resp.Header.Get("Retry-After"); got != "1" {
			t.Fatalf("stream=%s: Retry-After %q", stream, got)
		}
		var body errorBody
		decode(t, resp.Body, &body)
		if body.Error.Code != http.StatusServiceUnavailable {
			t.Fatalf("stream=%s: unexpected error body %+v", stream, body)
		}
	}
}

func TestHealthz(t *testing.T) {
	g := memorygate.New()
	srv := mustServer(t, g, nil)

	var body struct {
		Status   string `json:"status"`
		GateHeld bool   `json:"gate_held"`
	}
	decode(t, get(t, srv.URL+"/healthz").Body, &body)
	if body.Status != "ok" || body.GateHeld {
		t.Fatalf("unexpected idle health: %+v", body)
	}

	release, err := g.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer release()

	decode(t, get(t, srv.URL+"/healthz").Body, &body)
	if !body.GateHeld {
		t.Fatalf("expected gate_held while held: %+v", body)
	}
}

func TestSchema(t *testing.T) {
	srv := mustServer(t, gate.Noop(), nil)

	resp := get(t, srv.URL+"/schema")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
	var schemas map[string]json.RawMessage
	decode(t, resp.Body, &schemas)
	for _, name := range []string{"response", "stream_partial_frame", "stream_final_frame"} {
		if _, ok := schemas[name]; !ok {
			t.Fatalf("schema %q missing", name)
		}
	}
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	col := metrics.New("mockstream", reg)
	srv := mustServer(t, memorygate.New(),
		[]coordinator.Option{coordinator.WithLength(2), coordinator.WithObserver(col)},
		mockhttp.WithMetricsHandler(metrics.Handler(reg)),
	)

	get(t, srv.URL+"/test?query=q")

	resp := get(t, srv.URL+"/metrics")
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `mockstream_requests_total{mode="complete",outcome="completed"} 1`) {
		t.Fatalf("metrics output missing request counter:\n%s", body)
	}
}

func TestMetricsAbsentByDefault(t *testing.T) {
	srv := mustServer(t, gate.Noop(), nil)
	if resp := get(t, srv.URL+"/metrics"); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
}

func TestPreflight(t *testing.T) {
	srv := mustServer(t, gate.Noop(), nil)

	req, _ := http.NewRequest(http.MethodOptions, srv.URL+"/test", nil)
	req.Header.Set("Origin", "https://example.com")
	req.Header.Set("Access-Control-Request-Method", "GET")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("preflight request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("unexpected OPTIONS status: %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("missing or wrong ACAO on OPTIONS: %q", got)
	}
	if got := resp.Header.Get("Access-Control-Allow-Methods"); got == "" {
		t.Fatalf("missing ACAM on OPTIONS")
	}
}

func TestPanicRecovered(t *testing.T) {
	boom := http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") })
	srv := mustServer(t, gate.Noop(), nil, mockhttp.WithMetricsHandler(boom))

	resp := get(t, srv.URL+"/metrics")
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
	var body errorBody
	decode(t, resp.Body, &body)
	if body.Error.Code != http.StatusInternalServerError {
		t.Fatalf("unexpected error body %+v", body)
	}
}

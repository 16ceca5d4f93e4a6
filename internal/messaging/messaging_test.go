// File: internal/messaging/messaging_test.go
package messaging

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
	)
}

func TestDecodeVariants(t *testing.T) {
	reqs := []Request{
		GetStatus{}, ExpandElements{}, Restore{}, ShowScanner{}, HideScanner{},
		ShowBorderGlow{Variant: "success", DurationMs: 1500},
		EnterInteractiveMode{}, ExitInteractiveMode{}, GetLockedElements{},
		TriggerCapture{SiteID: 3, HeatmapID: 42},
		LockElement{Selector: "#hero"}, UnlockElement{Selector: "#hero"},
	}
	for _, req := range reqs {
		env, err := Encode("id-1", 7, req)
		require.NoError(t, err)
		assert.Equal(t, req.Action(), env.Action)

		raw, err := json.Marshal(env)
		require.NoError(t, err)
		var wire Envelope
		require.NoError(t, json.Unmarshal(raw, &wire))
		assert.Equal(t, 7, wire.TabID)

		got, err := Decode(wire)
		require.NoError(t, err)
		assert.Equal(t, req, got, string(req.Action()))
	}
}

func TestDecodeErrors(t *testing.T) {
	_, err := Decode(Envelope{Action: "selfDestruct"})
	assert.ErrorIs(t, err, ErrUnknownAction)

	_, err = Decode(Envelope{Action: ActionLockElement, Payload: []byte(`{"selector": 5}`)})
	assert.ErrorContains(t, err, "failed to decode lockElement payload")

	req, err := Decode(Envelope{Action: ActionExpandElements, Payload: []byte("null")})
	require.NoError(t, err)
	assert.Equal(t, ExpandElements{}, req)
}

func TestResponseErr(t *testing.T) {
	assert.NoError(t, OK().Err())
	assert.EqualError(t, Response{Error: "tab gone"}.Err(), "tab gone")
	assert.EqualError(t, Response{}.Err(), "request failed")
	assert.Equal(t, "unknown error", Fail(nil).Error)
}

func TestRouter(t *testing.T) {
	r := NewRouter(zaptest.NewLogger(t))
	ctx := context.Background()

	_, err := r.Send(ctx, 7, GetStatus{})
	assert.ErrorIs(t, err, ErrNoReceiver)

	first := r.Register(7, HandlerFunc(func(context.Context, Request) Response { return Response{Success: true, Count: 1} }))
	second := r.Register(7, HandlerFunc(func(_ context.Context, req Request) Response {
		if _, ok := req.(ExpandElements); ok {
			return Response{Success: true, Count: 2}
		}
		return Fail(nil)
	}))
	resp, err := r.Send(ctx, 7, ExpandElements{})
	require.NoError(t, err)
	assert.Equal(t, 2, resp.Count)

	first()
	assert.True(t, r.Has(7), "a replaced registration does not remove its successor")
	second()
	assert.False(t, r.Has(7))

	r.Register(9, HandlerFunc(func(context.Context, Request) Response { panic("page crashed") }))
	_, err = r.Send(ctx, 9, Restore{})
	assert.ErrorContains(t, err, "page crashed")
}

func TestBridgeRoundTrip(t *testing.T) {
	logger := zaptest.NewLogger(t)
	router := NewRouter(logger)
	bridge := NewBridge(router, logger)
	srv := httptest.NewServer(bridge)
	defer srv.Close()

	var seen atomic.Value
	peer, err := DialBridge(context.Background(), srv.URL, 7, HandlerFunc(func(_ context.Context, req Request) Response {
		seen.Store(req)
		switch r := req.(type) {
		case LockElement:
			return Response{Success: true, Locked: []LockedElement{{Selector: r.Selector}}}
		case TriggerCapture:
			return Response{Error: "capture service unreachable"}
		}
		return OK()
	}), logger)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return router.Has(7) }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, bridge.Connected())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := router.Send(ctx, 7, LockElement{Selector: ".promo"})
	require.NoError(t, err)
	require.True(t, resp.Success)
	assert.Equal(t, ".promo", resp.Locked[0].Selector)
	assert.Equal(t, LockElement{Selector: ".promo"}, seen.Load())

	resp, err = router.Send(ctx, 7, TriggerCapture{SiteID: 3, HeatmapID: 42})
	require.NoError(t, err)
	assert.EqualError(t, resp.Err(), "capture service unreachable")

	require.NoError(t, peer.Close())
	require.Eventually(t, func() bool { return !router.Has(7) }, 2*time.Second, 10*time.Millisecond)
	assert.Zero(t, bridge.Connected())
}

func TestBridgePendingRequestFailsOnClose(t *testing.T) {
	logger := zaptest.NewLogger(t)
	router := NewRouter(logger)
	bridge := NewBridge(router, logger)
	srv := httptest.NewServer(bridge)
	defer srv.Close()

	release := make(chan struct{})
	peer, err := DialBridge(context.Background(), srv.URL, 4, HandlerFunc(func(context.Context, Request) Response {
		<-release
		return OK()
	}), logger)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return router.Has(4) }, 2*time.Second, 10*time.Millisecond)

	done := make(chan Response, 1)
	go func() {
		resp, _ := router.Send(context.Background(), 4, ExpandElements{})
		done <- resp
	}()
	time.Sleep(50 * time.Millisecond)
	bridge.Close()

	select {
	case resp := <-done:
		assert.False(t, resp.Success)
		assert.Equal(t, ErrConnClosed.Error(), resp.Error)
	case <-time.After(2 * time.Second):
		t.Fatal("pending request was not failed")
	}
	close(release)
	<-peer.Done()
}

func TestBridgeRequiresTabID(t *testing.T) {
	srv := httptest.NewServer(NewBridge(NewRouter(nil), nil))
	defer srv.Close()

	_, err := DialBridge(context.Background(), strings.Replace(srv.URL, "http", "ws", 1), 0,
		HandlerFunc(func(context.Context, Request) Response { return OK() }), nil)
	assert.ErrorContains(t, err, "failed to dial bridge")
}

package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/go-zmtp/zmtp/internal/core"
	"github.com/stretchr/testify/require"
)

func msg(payload string) core.Delivery {
	return core.DeliveryFromMessage(core.Message{Payload: core.Payload(payload)})
}

func TestFairReceiverRoundRobin(t *testing.T) {
	fr := NewFairReceiver()
	_, peer1 := NewPipe(4)
	_, peer2 := NewPipe(4)
	fr.Insert(peer1)
	fr.Insert(peer2)

	peer1.Inbound <- msg("a1")
	peer2.Inbound <- msg("b1")
	peer1.Inbound <- msg("a2")
	peer2.Inbound <- msg("b2")

	ctx := context.Background()
	gotPayload := make([]string, 0, 4)
	gotRoute := make([]core.Route, 0, 4)
	for i := 0; i < 4; i++ {
		d, err := fr.Recv(ctx)
		require.NoError(t, err)
		gotPayload = append(gotPayload, string(d.Envelope().Bytes()))
		gotRoute = append(gotRoute, d.Envelope().Route())
	}
	require.Equal(t, []string{"a1", "b1", "a2", "b2"}, gotPayload)
	require.Equal(t, []core.Route{peer1.Route, peer2.Route, peer1.Route, peer2.Route}, gotRoute)
}

func TestFairReceiverBlocksUntilInsert(t *testing.T) {
	fr := NewFairReceiver()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan core.Delivery, 1)
	go func() {
		d, err := fr.Recv(ctx)
		require.NoError(t, err)
		done <- d
	}()

	time.Sleep(20 * time.Millisecond)
	_, peer := NewPipe(1)
	fr.Insert(peer)
	peer.Inbound <- msg("hello")

	select {
	case d := <-done:
		require.Equal(t, "hello", string(d.Envelope().Bytes()))
	case <-time.After(time.Second):
		t.Fatal("Recv never woke up after Insert")
	}
}

func TestFairReceiverRecvCtxCancel(t *testing.T) {
	fr := NewFairReceiver()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := fr.Recv(ctx)
	require.Error(t, err)
}

func TestFairSenderRoundRobin(t *testing.T) {
	fs := NewFairSender()
	pipe1, peer1 := NewPipe(2)
	pipe2, peer2 := NewPipe(2)
	fs.Insert(peer1)
	fs.Insert(peer2)

	ctx := context.Background()
	for _, p := range []string{"1", "2", "3", "4"} {
		require.NoError(t, fs.Send(ctx, msg(p)))
	}

	require.Len(t, pipe1.Outbound, 2)
	require.Len(t, pipe2.Outbound, 2)

	d := <-pipe1.Outbound
	require.Equal(t, "1", string(d.Envelope().Bytes()))
	d = <-pipe2.Outbound
	require.Equal(t, "2", string(d.Envelope().Bytes()))
	d = <-pipe1.Outbound
	require.Equal(t, "3", string(d.Envelope().Bytes()))
	d = <-pipe2.Outbound
	require.Equal(t, "4", string(d.Envelope().Bytes()))
}

func TestRouterRoutesToNamedPeer(t *testing.T) {
	r := NewRouter()
	pipe1, peer1 := NewPipe(2)
	_, peer2 := NewPipe(2)
	r.Insert(peer1)
	r.Insert(peer2)

	ctx := context.Background()
	require.NoError(t, r.Route(ctx, peer1.Route, msg("for-1")))

	d := <-pipe1.Outbound
	require.Equal(t, "for-1", string(d.Envelope().Bytes()))
}

func TestRouterUnknownRouteErrors(t *testing.T) {
	r := NewRouter()
	ctx := context.Background()
	err := r.Route(ctx, core.Route(12345), msg("nobody"))
	require.Error(t, err)
}

func TestPublisherFiltersByGroup(t *testing.T) {
	pub := NewPublisher()
	sports, err := core.NewGroup([]byte("sports"))
	require.NoError(t, err)
	weather, err := core.NewGroup([]byte("weather"))
	require.NoError(t, err)

	pipeSports, peerSports := NewPipe(2)
	peerSports.Groups.Join(sports)
	pipeWeather, peerWeather := NewPipe(2)
	peerWeather.Groups.Join(weather)

	pub.Insert(peerSports)
	pub.Insert(peerWeather)

	d := core.DeliveryFromMessage(core.Message{Group: sports, Payload: core.Payload("score")})
	delivered := pub.Publish(d)
	require.Equal(t, 1, delivered)

	require.Len(t, pipeSports.Outbound, 1)
	require.Len(t, pipeWeather.Outbound, 0)
}

func TestPublisherDropsOnFullQueue(t *testing.T) {
	pub := NewPublisher()
	g, _ := core.NewGroup([]byte("g"))
	pipe, peer := NewPipe(1)
	peer.Groups.Join(g)
	pub.Insert(peer)

	d := core.DeliveryFromMessage(core.Message{Group: g, Payload: core.Payload("1")})
	require.Equal(t, 1, pub.Publish(d))
	require.Equal(t, 0, pub.Publish(d))
	require.Len(t, pipe.Outbound, 1)
}

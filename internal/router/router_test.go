package router

import (
	"context"
	"testing"

	"github.com/guycipher/lsmstore/internal/command"
	"github.com/stretchr/testify/require"
)

func TestDispatchMemTableHit(t *testing.T) {
	toMemTable := make(chan command.Envelope, 1)
	toManager := make(chan command.Envelope, 1)
	r := New(toMemTable, toManager)

	go func() {
		env := <-toMemTable
		env.Reply <- command.Reply{Found: true, Value: []byte("v")}
	}()

	reply, err := r.Dispatch(context.Background(), command.NewGet([]byte("k")))
	require.NoError(t, err)
	require.True(t, reply.Found)
	require.Equal(t, []byte("v"), reply.Value)
}

func TestDispatchFallsBackToManagerOnGetMiss(t *testing.T) {
	toMemTable := make(chan command.Envelope, 1)
	toManager := make(chan command.Envelope, 1)
	r := New(toMemTable, toManager)

	go func() {
		env := <-toMemTable
		env.Reply <- command.Reply{Found: false}
	}()
	go func() {
		env := <-toManager
		env.Reply <- command.Reply{Found: true, Value: []byte("from-manager")}
	}()

	reply, err := r.Dispatch(context.Background(), command.NewGet([]byte("k")))
	require.NoError(t, err)
	require.True(t, reply.Found)
	require.Equal(t, []byte("from-manager"), reply.Value)
}

func TestDispatchPutNeverFallsBack(t *testing.T) {
	toMemTable := make(chan command.Envelope, 1)
	toManager := make(chan command.Envelope, 1)
	r := New(toMemTable, toManager)

	go func() {
		env := <-toMemTable
		env.Reply <- command.Reply{Found: false}
	}()

	reply, err := r.Dispatch(context.Background(), command.NewPut([]byte("k"), []byte("v")))
	require.NoError(t, err)
	require.False(t, reply.Found)

	select {
	case <-toManager:
		t.Fatal("router must not forward Put to manager")
	default:
	}
}

func TestDispatchContextCanceled(t *testing.T) {
	toMemTable := make(chan command.Envelope) // unbuffered, never drained
	toManager := make(chan command.Envelope)
	r := New(toMemTable, toManager)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Dispatch(ctx, command.NewGet([]byte("k")))
	require.Error(t, err)
}

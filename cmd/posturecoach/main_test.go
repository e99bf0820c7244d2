package main

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"sync/atomic"
	"testing"
	"time"
)

// TestServeWaitsForTasksAndHandlers checks that nothing serve started is
// still running when it returns, so resources closed after it are unused
func TestServeWaitsForTasksAndHandlers(t *testing.T) {

	ln, err := net.Listen("tcp", "127.0.0.1:0")

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var handlerDone, taskDone atomic.Bool
	entered := make(chan struct{})

	// behaves like the MJPEG stream, only ending with the request
	stream := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		close(entered)

		<-r.Context().Done()
		time.Sleep(20 * time.Millisecond)
		handlerDone.Store(true)
	})

	task := func(ctx context.Context) {
		<-ctx.Done()
		time.Sleep(20 * time.Millisecond)
		taskDone.Store(true)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() {
		done <- serve(ctx, ln, stream, task)
	}()

	go func() {
		resp, err := http.Get("http://" + ln.Addr().String() + "/stream")

		if err == nil {
			// hold the stream open until the server ends it
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}
	}()

	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatalf("stream handler never started")
	}

	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(shutdownTimeout):
		t.Fatalf("serve did not return")
	}

	if !handlerDone.Load() {
		t.Errorf("serve returned while a stream handler was still running")
	}

	if !taskDone.Load() {
		t.Errorf("serve returned while a task was still running")
	}
}

func TestServeStopsWhenTaskEnds(t *testing.T) {

	ln, err := net.Listen("tcp", "127.0.0.1:0")

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var otherDone atomic.Bool

	// a video file reaching its end stops everything else
	finished := func(ctx context.Context) {}

	other := func(ctx context.Context) {
		<-ctx.Done()
		otherDone.Store(true)
	}

	done := make(chan error, 1)

	go func() {
		done <- serve(context.Background(), ln, http.NotFoundHandler(), finished, other)
	}()

	select {
	case <-done:
	case <-time.After(shutdownTimeout):
		t.Fatalf("serve did not return after a task ended")
	}

	if !otherDone.Load() {
		t.Errorf("expected remaining task stopped before serve returned")
	}
}

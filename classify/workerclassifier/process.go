package workerclassifier

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os/exec"
	"time"
)

// stopTimeout is how long a worker is given to exit after its stdin closes
const stopTimeout = 2 * time.Second

// Worker is a running worker process with a Client attached to its pipes
type Worker struct {
	*Client

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	log    *log.Logger
	exited chan error
}

// Start launches command and connects a Client to it.  The worker's stderr
// is copied to the logger line by line.
func Start(ctx context.Context, command []string, logger *log.Logger) (*Worker, error) {

	if len(command) == 0 {
		return nil, errors.New("worker command is empty")
	}

	if logger == nil {
		logger = log.Default()
	}

	cmd := exec.CommandContext(ctx, command[0], command[1:]...)

	stdin, err := cmd.StdinPipe()

	if err != nil {
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	stdout, err := cmd.StdoutPipe()

	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}

	stderr, err := cmd.StderrPipe()

	if err != nil {
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start classifier worker: %w", err)
	}

	w := &Worker{
		Client: NewClient(stdin, stdout, logger),
		cmd:    cmd,
		stdin:  stdin,
		log:    logger,
		exited: make(chan error, 1),
	}

	go w.logStderr(stderr)

	go func() {
		// stdout must be drained before Wait closes the pipes
		<-w.Client.Done()
		w.exited <- cmd.Wait()
	}()

	return w, nil
}

func (w *Worker) logStderr(r io.Reader) {

	scanner := bufio.NewScanner(r)

	for scanner.Scan() {
		w.log.Printf("classifier worker: %s", scanner.Text())
	}
}

// Close asks the worker to exit by closing its stdin, killing it if it has
// not exited within a short grace period
func (w *Worker) Close() error {

	w.stdin.Close()

	select {
	case err := <-w.exited:
		return err

	case <-time.After(stopTimeout):
		w.log.Printf("classifier worker did not exit, killing pid %d", w.cmd.Process.Pid)

		if err := w.cmd.Process.Kill(); err != nil {
			return fmt.Errorf("failed to kill classifier worker: %w", err)
		}

		return <-w.exited
	}
}

// Package lifecycle owns process concerns: the supervision tree, the
// single-instance lock, startup maintenance, and orderly shutdown.
package lifecycle

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/thejerf/suture/v4"
)

// Exit codes.
const (
	ExitOK             = 0
	ExitFatal          = 1 // unrecoverable configuration or auth error
	ExitAlreadyRunning = 2
	ExitPortBind       = 3
)

// App is the assembled process: a pid lock plus the root supervisor
// running every long-lived service.
type App struct {
	logger *log.Logger
	root   *suture.Supervisor
	lock   *PIDLock
}

// NewApp acquires the single-instance lock and builds the supervision
// tree. Services are restarted individually on failure; the tree as a
// whole stops when the run context is cancelled.
func NewApp(dataRoot string, services ...suture.Service) (*App, error) {
	lock, err := AcquirePIDLock(dataRoot)
	if err != nil {
		return nil, err
	}

	logger := log.New(os.Stdout, "lyrebird: ", log.LstdFlags|log.Lmsgprefix)
	root := suture.New("lyrebird", suture.Spec{
		EventHook: func(ev suture.Event) {
			logger.Printf("supervisor: %s", ev)
		},
	})
	for _, svc := range services {
		root.Add(svc)
	}

	return &App{logger: logger, root: root, lock: lock}, nil
}

// Run blocks until SIGINT/SIGTERM or a fatal supervisor error, then shuts
// the tree down. Shutdown is bounded: services get a grace period before
// the process leaves anyway.
func (a *App) Run() error {
	defer a.lock.Release()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errc := a.root.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		a.logger.Println("shutting down")
		select {
		case <-errc:
		case <-time.After(3 * time.Second):
			a.logger.Println("shutdown grace period expired")
		}
		return nil
	case err := <-errc:
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	}
}

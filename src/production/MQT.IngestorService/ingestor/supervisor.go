package mqtingestor

import (
	"context"
	"errors"
	"fmt"

	logger "gitlab.com/maplesense1/mpt.hive_bridge/src/production/MQT.Logger"
	"golang.org/x/sync/errgroup"
)

var ErrUnitExited = errors.New("worker unit exited")

// Unit is one long-running part of the worker.
type Unit struct {
	Name string
	Run  func(ctx context.Context) error
}

// UnitExitError names the unit whose exit ended the worker.
type UnitExitError struct {
	Unit string
	Err  error
}

func (e *UnitExitError) Error() string {
	return fmt.Sprintf("unit %s exited: %v", e.Unit, e.Err)
}

func (e *UnitExitError) Unwrap() error { return e.Err }

func (e *UnitExitError) Is(target error) bool { return target == ErrUnitExited }

// Supervisor runs units concurrently. The first unit to return, with or
// without error, cancels the others; there is no per-unit restart.
type Supervisor struct {
	units  []Unit
	logger *logger.Logger
}

func NewSupervisor(log *logger.Logger, units ...Unit) *Supervisor {
	return &Supervisor{units: units, logger: log.WithComponent("supervisor")}
}

// Run blocks until every unit has returned and reports the first exit.
func (s *Supervisor) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	for _, u := range s.units {
		u := u
		g.Go(func() error {
			err := u.Run(gctx)
			if err == nil {
				err = errors.New("returned without error")
			}
			return &UnitExitError{Unit: u.Name, Err: err}
		})
	}

	err := g.Wait()
	var exit *UnitExitError
	if errors.As(err, &exit) {
		s.logger.WithField("unit", exit.Unit).WithError(exit.Err).Warn("worker stopped")
	}
	return err
}

// Package stop provides cooperative shutdown primitives shared by every
// long-running component of the tracker (frontends, storage drivers,
// periodic maintenance). Shutdown never forcibly aborts a handler; it signals
// intent and waits for the component to acknowledge.
package stop

// Stopper is anything that can be asked to shut down cleanly.
type Stopper interface {
	// Stop begins the stopping process and returns a Result that completes
	// once shutdown has finished.
	Stop() Result
}

// Channel is a channel of errors encountered while stopping, closed once
// shutdown has completed. It implements Result.
type Channel chan error

// Result reports the outcome of a Stop call.
type Result interface {
	// Wait blocks until shutdown completes and returns any errors
	// encountered.
	Wait() []error
}

type chanResult struct {
	c Channel
}

func (r chanResult) Wait() []error {
	var errs []error
	for err := range r.c {
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// Result adapts a Channel into a Result; the caller is responsible for
// closing c once all errors have been sent.
func (c Channel) Result() Result {
	return chanResult{c: c}
}

// AlreadyStopped is a Result that completes immediately with no errors, for
// Stoppers that have nothing to release.
var AlreadyStopped = func() Result {
	c := make(Channel)
	close(c)
	return c.Result()
}()

// Group manages the shutdown of a collection of Stoppers, stopping all of
// them concurrently and aggregating their errors.
type Group struct {
	stoppers []Stopper
}

// NewGroup creates an empty Group.
func NewGroup() *Group {
	return &Group{}
}

// Add registers a Stopper to be stopped when the Group is stopped.
func (g *Group) Add(s Stopper) {
	g.stoppers = append(g.stoppers, s)
}

// Stop concurrently stops every registered Stopper and returns a Result
// aggregating all of their errors.
func (g *Group) Stop() Result {
	out := make(Channel)
	go func() {
		defer close(out)
		results := make([]Result, len(g.stoppers))
		for i, s := range g.stoppers {
			results[i] = s.Stop()
		}
		for _, r := range results {
			for _, err := range r.Wait() {
				out <- err
			}
		}
	}()
	return out.Result()
}

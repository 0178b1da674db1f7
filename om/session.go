package om

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/canopy-network/generals/lib"
)

// Session holds everything one oral message run needs, from Setup to Cleanup
type Session struct {
	nGenerals   int    // number of generals
	nTraitors   int    // number of disloyal generals, the recursion depth
	reporterId  int    // the general whose tier-0 receipts form the trace
	commanderId int    // set by Broadcast before the first frame is enqueued
	traitors    []bool // traitors[i] is true if general i is a traitor

	barrier   *Barrier      // all-to-all rendezvous after the recursion
	done      chan struct{} // completion signal from general 0 to the broadcaster
	hierarchy *Hierarchy    // tier -> pathIndex -> channel
	trace     *Trace        // tier-0 values received on behalf of the reporter

	used   atomic.Bool // a session runs a single broadcast
	closed atomic.Bool // set by Cleanup

	errMu sync.Mutex
	errs  []lib.ErrorI // internal protocol errors recorded during the run

	metrics *lib.Metrics
	log     lib.LoggerI
}

// Setup() validates the fault tolerance bound and the memory budget, then allocates the barrier, the completion signal
// and the channel hierarchy. On failure nothing stays allocated.
func Setup(c lib.ProtocolConfig, m *lib.Metrics, l lib.LoggerI) (s *Session, err lib.ErrorI) {
	defer func() {
		if err != nil {
			l.Warnf("Setup rejected: %s", err.Error())
			m.UpdateSetup(false, 0, 0)
		}
	}()
	n := c.NumGenerals
	if n <= 0 {
		return nil, lib.ErrNoGenerals()
	}
	if len(c.Loyalty) != n {
		return nil, lib.ErrLoyaltyLength(n, len(c.Loyalty))
	}
	if c.ReporterId < 0 || c.ReporterId >= n {
		return nil, lib.ErrInvalidReporter(c.ReporterId, n)
	}
	budget, err := c.BufferBudget()
	if err != nil {
		return nil, err
	}
	s = &Session{
		nGenerals:   n,
		reporterId:  c.ReporterId,
		commanderId: NoSender,
		trace:       new(Trace),
		metrics:     m,
		log:         l,
	}
	// determine traitors
	s.traitors = make([]bool, n)
	for i, loyal := range c.Loyalty {
		s.traitors[i] = !loyal
		if !loyal {
			s.nTraitors++
		}
	}
	// n > 3m for the algorithm to work
	if n <= 3*s.nTraitors {
		s.traitors = nil
		return nil, lib.ErrFaultToleranceBound(n, s.nTraitors)
	}
	// refuse a hierarchy beyond the budget before anything is allocated
	channels, need := HierarchyBytes(n, s.nTraitors)
	if need > budget {
		s.traitors = nil
		return nil, lib.ErrAllocationBudget(need, budget)
	}
	s.done = make(chan struct{}, 1)
	s.barrier = NewBarrier(n)
	s.hierarchy = newHierarchy(n, s.nTraitors)
	for t := s.nTraitors; t >= 0; t-- {
		s.hierarchy.allocTier(t)
	}
	m.UpdateSetup(true, channels, need)
	l.Infof("Setup %d generals with %d traitor(s): %d channels, %d bytes", n, s.nTraitors, channels, need)
	return s, nil
}

// Cleanup() closes and drains every channel of the hierarchy, top tier last. A general still blocked on a channel
// wakes with an error. It is safe on a nil session and on repeated calls.
func (s *Session) Cleanup() {
	if s == nil || s.closed.Swap(true) {
		return
	}
	if s.hierarchy != nil {
		s.hierarchy.release()
	}
	s.metrics.UpdateCleanup()
}

// Broadcast() sends command from commanderId to every general and blocks until general 0 signals that the run
// completed. It returns the reporter's trace and the first internal protocol error recorded during the run.
func (s *Session) Broadcast(ctx context.Context, command Decision, commanderId int) (*Trace, lib.ErrorI) {
	if s.closed.Load() {
		return nil, ErrSessionClosed()
	}
	if !command.Valid() {
		return nil, ErrInvalidCommand(command.String())
	}
	if commanderId < 0 || commanderId >= s.nGenerals {
		return nil, ErrInvalidCommander(commanderId, s.nGenerals)
	}
	if s.used.Swap(true) {
		return nil, ErrSessionUsed()
	}
	start, done := time.Now(), s.done
	s.commanderId = commanderId
	top, err := s.hierarchy.Channel(s.nTraitors, 0)
	if err != nil {
		return nil, s.fail(s.log, err)
	}
	msg := NewMessage(s.nTraitors, command)
	msg.Stamp(s.nTraitors, commanderId)
	if s.traitors[commanderId] {
		s.log.Infof("Commander %d is a traitor and equivocates", commanderId)
	}
	// one frame per general goroutine, the commander's own copy is consumed and dropped by its goroutine
	for i := 0; i < s.nGenerals; i++ {
		if s.traitors[commanderId] {
			msg.Value = alternating(i)
		}
		if err = top.Put(msg); err != nil {
			return nil, s.fail(s.log, err)
		}
		s.metrics.UpdateRelay(s.nTraitors)
	}
	s.log.Debugf("Commander %d broadcast %s", commanderId, command.Name())
	// wait until all generals are finished processing
	select {
	case <-done:
	case <-ctx.Done():
		return nil, ErrContextDone(ctx.Err())
	}
	s.metrics.UpdateRun(start, s.trace.Len())
	return s.trace, s.firstError()
}

// General() is the body of general id's goroutine: run OM(nTraitors), meet everyone at the barrier, then general 0
// emits the trace and signals the broadcaster
func (s *Session) General(ctx context.Context, id int) lib.ErrorI {
	if s.closed.Load() {
		return ErrSessionClosed()
	}
	if id < 0 || id >= s.nGenerals {
		return ErrInvalidGeneral(id, s.nGenerals)
	}
	l := s.log.WithPrefix(fmt.Sprintf("general %d", id))
	s.oralMessage(ctx, l, s.nTraitors, id, 0, nil)
	if s.closed.Load() {
		return ErrSessionClosed()
	}
	if err := s.barrier.Wait(ctx, id); err != nil {
		l.Error(err.Error())
		return err
	}
	if id != 0 {
		return nil
	}
	l.Print(s.trace.String())
	select {
	case s.done <- struct{}{}:
	default:
		l.Warn("Completion already signalled")
	}
	return nil
}

// oralMessage() runs OM(tier) as general id on the channel at (tier, pathIndex).
// visited holds the generals already on this relay path; nil at the top where only the commander is.
// Errors are recorded and abort this branch only.
func (s *Session) oralMessage(ctx context.Context, l lib.LoggerI, tier, id, pathIndex int, visited idSet) {
	if tier == 0 {
		if id != s.reporterId {
			return
		}
		c, err := s.hierarchy.Channel(0, pathIndex)
		if err != nil {
			s.fail(l, err)
			return
		}
		msg, err := c.Get(ctx)
		if err != nil {
			s.fail(l, err)
			return
		}
		s.trace.Append(msg)
		return
	}
	c, err := s.hierarchy.Channel(tier, pathIndex)
	if err != nil {
		s.fail(l, err)
		return
	}
	msg, err := c.Get(ctx)
	if err != nil {
		s.fail(l, err)
		return
	}
	// the commander does not relay its own order
	if id == s.commanderId {
		return
	}
	if visited == nil {
		visited = newIdSet(s.nGenerals, s.commanderId)
	}
	if !visited.equals(msg.Relayers()) {
		s.fail(l, ErrProvenanceMismatch(tier, id, msg.Relayers()))
		return
	}
	msg.Stamp(tier-1, id)
	if s.traitors[id] {
		msg.Value = corrupted(id)
	}
	visited = visited.with(id)
	recipients := visited.complement()
	copies := s.nGenerals - 2 - s.nTraitors + tier
	if copies != len(recipients) {
		s.fail(l, ErrFanoutMismatch(tier, id, copies, len(recipients)))
		return
	}
	next := s.hierarchy.NextPathIndex(pathIndex, id)
	nc, err := s.hierarchy.Channel(tier-1, next)
	if err != nil {
		s.fail(l, err)
		return
	}
	for i := 0; i < copies; i++ {
		if err = nc.Put(msg); err != nil {
			s.fail(l, err)
			return
		}
		s.metrics.UpdateRelay(tier - 1)
	}
	l.Debugf("Relayed %s to (%d, %d) for %v", msg, tier-1, next, recipients)
	for _, r := range recipients {
		s.oralMessage(ctx, l, tier-1, r, next, visited)
	}
}

// fail() logs and records an internal protocol error
func (s *Session) fail(l lib.LoggerI, err lib.ErrorI) lib.ErrorI {
	l.Error(err.Error())
	s.metrics.UpdateProtocolError()
	s.errMu.Lock()
	defer s.errMu.Unlock()
	s.errs = append(s.errs, err)
	return err
}

func (s *Session) firstError() lib.ErrorI {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if len(s.errs) == 0 {
		return nil
	}
	return s.errs[0]
}

// Errors() returns every internal protocol error recorded so far
func (s *Session) Errors() []lib.ErrorI {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return append([]lib.ErrorI(nil), s.errs...)
}

func (s *Session) NumGenerals() int      { return s.nGenerals }
func (s *Session) NumTraitors() int      { return s.nTraitors }
func (s *Session) ReporterId() int       { return s.reporterId }
func (s *Session) IsTraitor(id int) bool { return s.traitors[id] }
func (s *Session) Hierarchy() *Hierarchy { return s.hierarchy }
func (s *Session) Trace() *Trace         { return s.trace }
func (s *Session) Closed() bool          { return s.closed.Load() }
func (s *Session) FrameWidth() int       { return FrameWidth(s.nTraitors) }

package supervisor

import "nudge/internal/logging"

// OnShutdown registers fn under name. Registering an existing name replaces
// its function without changing the run order.
func (s *Supervisor) OnShutdown(name string, fn func()) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.hooks[name]; !ok {
		s.hookOrder = append(s.hookOrder, name)
	}
	s.hooks[name] = fn
}

// Shutdown runs the registered hooks in registration order. Later calls are
// no-ops.
func (s *Supervisor) Shutdown() {
	s.mu.Lock()
	if s.shutdownDone {
		s.mu.Unlock()
		return
	}
	s.shutdownDone = true
	order := append([]string(nil), s.hookOrder...)
	hooks := make([]func(), 0, len(order))
	for _, name := range order {
		hooks = append(hooks, s.hooks[name])
	}
	s.mu.Unlock()

	for i, fn := range hooks {
		s.runHook(order[i], fn)
	}
}

func (s *Supervisor) runHook(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("shutdown hook panicked",
				logging.String("hook", name),
				logging.Any("panic", r),
			)
		}
	}()
	s.logger.Debug("running shutdown hook", logging.String("hook", name))
	fn()
}

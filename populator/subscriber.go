package populator

// Subscriber handles event subscriptions.
type Subscriber struct {
	done                  chan struct{}
	runStartedHandler     func(RunStarted)
	stageStartedHandler   func(StageStarted)
	stageCompletedHandler func(StageCompleted)
	recordSkippedHandler  func(RecordSkipped)
	runCompletedHandler   func(RunCompleted)
	runFailedHandler      func(RunFailed)
	runInterruptedHandler func(RunInterrupted)
}

// OnRunStarted sets the handler for RunStarted events
func OnRunStarted(fn func(RunStarted)) func(*Subscriber) {
	return func(s *Subscriber) { s.runStartedHandler = fn }
}

// OnStageStarted sets the handler for StageStarted events
func OnStageStarted(fn func(StageStarted)) func(*Subscriber) {
	return func(s *Subscriber) { s.stageStartedHandler = fn }
}

// OnStageCompleted sets the handler for StageCompleted events
func OnStageCompleted(fn func(StageCompleted)) func(*Subscriber) {
	return func(s *Subscriber) { s.stageCompletedHandler = fn }
}

// OnRecordSkipped sets the handler for RecordSkipped events
func OnRecordSkipped(fn func(RecordSkipped)) func(*Subscriber) {
	return func(s *Subscriber) { s.recordSkippedHandler = fn }
}

// OnRunCompleted sets the handler for RunCompleted events
func OnRunCompleted(fn func(RunCompleted)) func(*Subscriber) {
	return func(s *Subscriber) { s.runCompletedHandler = fn }
}

// OnRunFailed sets the handler for RunFailed events
func OnRunFailed(fn func(RunFailed)) func(*Subscriber) {
	return func(s *Subscriber) { s.runFailedHandler = fn }
}

// OnRunInterrupted sets the handler for RunInterrupted events
func OnRunInterrupted(fn func(RunInterrupted)) func(*Subscriber) {
	return func(s *Subscriber) { s.runInterruptedHandler = fn }
}

// NewSubscriber creates a Subscriber with the given options and starts the dispatch loop.
// Returns a closer function that waits until the events channel is drained.
//
// Example:
//
//	closer := populator.NewSubscriber(events,
//	  populator.OnRunCompleted(func(e populator.RunCompleted) { ... }),
//	)
//	defer closer()
func NewSubscriber(events <-chan Event, opts ...func(*Subscriber)) func() {
	s := &Subscriber{
		done:                  make(chan struct{}),
		runStartedHandler:     func(RunStarted) {},
		stageStartedHandler:   func(StageStarted) {},
		stageCompletedHandler: func(StageCompleted) {},
		recordSkippedHandler:  func(RecordSkipped) {},
		runCompletedHandler:   func(RunCompleted) {},
		runFailedHandler:      func(RunFailed) {},
		runInterruptedHandler: func(RunInterrupted) {},
	}

	for _, opt := range opts {
		opt(s)
	}

	go func() {
		defer close(s.done)
		for ev := range events {
			switch e := ev.(type) {
			case RunStarted:
				s.runStartedHandler(e)
			case StageStarted:
				s.stageStartedHandler(e)
			case StageCompleted:
				s.stageCompletedHandler(e)
			case RecordSkipped:
				s.recordSkippedHandler(e)
			case RunCompleted:
				s.runCompletedHandler(e)
			case RunFailed:
				s.runFailedHandler(e)
			case RunInterrupted:
				s.runInterruptedHandler(e)
			}
		}
	}()

	return func() {
		<-s.done
	}
}

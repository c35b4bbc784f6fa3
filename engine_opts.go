package approvalflow

import (
	"time"
)

type EngineOption func(engine *Engine)

func WithEngineTxManager(txManager TxManager) EngineOption {
	return func(engine *Engine) {
		engine.txManager = txManager
	}
}

func WithEngineAuthorizer(authorizer Authorizer) EngineOption {
	return func(engine *Engine) {
		engine.authorizer = authorizer
	}
}

func WithEngineNotifier(notifier Notifier) EngineOption {
	return func(engine *Engine) {
		engine.notifier = notifier
	}
}

// WithEngineClock overrides the time source. Tests use it to move an
// instance across its SLA deadline deterministically.
func WithEngineClock(now func() time.Time) EngineOption {
	return func(engine *Engine) {
		engine.now = now
	}
}

package bootready

// Logger defines the interface for monitor logging.
// The monitor uses structured logging with key-value pairs so that the
// hosting process controls how diagnostic output appears.
//
// The Logger interface uses variadic arguments in key-value pairs:
//
//	logger.Info("Waiting for modules", "pending", 3)
//
// This is compatible with log/slog, which is what the bootready CLI uses:
//
//	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
//	monitor, err := bootready.NewSystemMonitor(rt, bootready.WithLogger(logger))
type Logger interface {
	// Info logs progress of a wait, e.g. which entities are still pending.
	Info(msg string, args ...any)

	// Error logs terminal conditions and the inactive module dump.
	Error(msg string, args ...any)

	// Warn logs conditions that are unusual but do not fail an operation.
	Warn(msg string, args ...any)

	// Debug logs per-poll detail.
	Debug(msg string, args ...any)
}

// nopLogger discards everything. It is the default when no logger is supplied.
type nopLogger struct{}

func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Debug(string, ...any) {}

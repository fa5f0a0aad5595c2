// Package logger provides the structured logging interface used across igmutual.
//
// It wraps zerolog and adds:
//   - child loggers carrying fields (check_id, relation, component)
//   - colored console output, optionally mirrored to a file
//   - a global logger for the CLI
//   - a capturing TestLogger and a no-op logger for tests
//
// Basic usage:
//
//	if err := logger.Initialize(&cfg.Logging); err != nil {
//	    return err
//	}
//	log := logger.GetLogger().WithField("component", "dispatcher")
//	log.Info("Dispatcher started")
//	logger.LogCheckProgress(log, check.ID, "fetch_followers", 55)
package logger

// Package logger provides structured logging for the metrics pipeline,
// built on zerolog.
//
// Initialize the process-wide logger once at startup:
//
//	err := logger.Initialize(&cfg.Logging)
//
// then obtain it anywhere with logger.GetLogger(), or inject the Logger
// interface into components. Contextual fields bind with the With*
// methods:
//
//	log := logger.GetLogger().
//	    WithField("component", "queue").
//	    WithField("worker", id)
//
//	log.InfoWithFields("job finished", map[string]interface{}{
//	    "job_id":   job.ID,
//	    "attempts": job.Attempts,
//	    "duration": time.Since(start),
//	})
//
// Console output is pretty-printed. When LoggingConfig.File is set, JSON
// lines are additionally appended to that file.
//
// NewTestLogger returns an in-memory recorder for asserting on log
// output; NewNopLogger discards everything.
package logger

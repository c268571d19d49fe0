// Package corelog provides the event pipeline of a structured,
// multi-transport logging library: severity-gated channels, a
// TransportManager that fans out to heterogeneous destinations through
// filters and formatters, and a family of transports (buffered,
// throttled, rotating file, SQLite, framed-TCP remote, HTTP bulk upload)
// built on the same accept-queue/work-queue discipline.
//
// Basic Usage:
//
//	manager := corelog.NewTransportManager(false)
//	manager.AddTransport(corelog.NewBufferedTransport(256, corelog.NewJSONFormatter()))
//	log := corelog.New("payments", "webhook", corelog.Info, manager)
//
//	log.Info("started")
//	log.ErrorC().Write(corelog.Sprintf("charge failed: %v", err))
//
// A disabled severity returns a nil *Channel; Channel.Write on a nil
// receiver is a documented, allocation-free no-op, so gating a hot path on
// log.DebugC() costs a single pointer comparison when debug is off.
package corelog

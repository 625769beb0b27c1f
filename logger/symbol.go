package logger

import "go.uber.org/zap"

// Component tags identify which subsystem emitted a log line. They are
// attached as a structured field (FieldSymbol) rather than embedded in the
// message so logs stay queryable by component.
const (
	ComponentWire        = "wire"        // C1 wire client
	ComponentSupervisor  = "supervisor"  // C2 connection supervisor
	ComponentAdapter     = "adapter"     // C3 command adapter
	ComponentChangeGroup = "changegroup" // C4 change-group registry
	ComponentRingCache   = "ringcache"   // C5 event ring cache
	ComponentEventStore  = "eventstore"  // C6 SQLite event store
	ComponentTools       = "tools"       // C7 tool dispatcher
)

// AddSymbol returns a logger with the given component tag attached.
func AddSymbol(log *zap.SugaredLogger, component string) *zap.SugaredLogger {
	return log.With(FieldSymbol, component)
}

// AddWireSymbol tags a logger as belonging to the wire client.
func AddWireSymbol(log *zap.SugaredLogger) *zap.SugaredLogger {
	return AddSymbol(log, ComponentWire)
}

// AddSupervisorSymbol tags a logger as belonging to the connection supervisor.
func AddSupervisorSymbol(log *zap.SugaredLogger) *zap.SugaredLogger {
	return AddSymbol(log, ComponentSupervisor)
}

// AddAdapterSymbol tags a logger as belonging to the command adapter.
func AddAdapterSymbol(log *zap.SugaredLogger) *zap.SugaredLogger {
	return AddSymbol(log, ComponentAdapter)
}

// AddChangeGroupSymbol tags a logger as belonging to the change-group registry.
func AddChangeGroupSymbol(log *zap.SugaredLogger) *zap.SugaredLogger {
	return AddSymbol(log, ComponentChangeGroup)
}

// AddRingCacheSymbol tags a logger as belonging to the event ring cache.
func AddRingCacheSymbol(log *zap.SugaredLogger) *zap.SugaredLogger {
	return AddSymbol(log, ComponentRingCache)
}

// AddDBSymbol tags a logger as belonging to the SQLite event store.
func AddDBSymbol(log *zap.SugaredLogger) *zap.SugaredLogger {
	return AddSymbol(log, ComponentEventStore)
}

// AddToolsSymbol tags a logger as belonging to the tool dispatcher.
func AddToolsSymbol(log *zap.SugaredLogger) *zap.SugaredLogger {
	return AddSymbol(log, ComponentTools)
}

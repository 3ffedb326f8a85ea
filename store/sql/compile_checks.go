package sqlstore

import "github.com/goliatone/go-ingest/core"

var (
	_ core.EventStore             = (*EventStore)(nil)
	_ core.DispatchLedger         = (*DispatchStore)(nil)
	_ core.AuditTrail             = (*AuditStore)(nil)
	_ core.StoreProvider          = (*RepositoryFactory)(nil)
	_ core.RepositoryStoreFactory = (*RepositoryFactory)(nil)
)

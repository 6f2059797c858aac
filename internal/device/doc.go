// Package device keeps a local history of controller states.
//
// Every snapshot and delta the session decodes can be recorded with its
// raw register values, so the history stays valid if attribute transforms
// change. The table is pruned by age.
//
//	repo := device.NewSQLiteStateHistoryRepository(db.DB)
//	err := repo.RecordState(ctx, id.DeviceHex(), state, time.Now())
//
//	latest, err := repo.LatestSnapshot(ctx, id.DeviceHex())
//	if errors.Is(err, device.ErrHistoryNotFound) {
//	    // nothing recorded yet
//	}
package device

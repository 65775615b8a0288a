package domain

// SyncMetrics is the snapshot served by GET /v1/metrics/session.
type SyncMetrics struct {
	AuthEvents        map[string]int64 `json:"authEvents"`
	CustomerLoads     int64            `json:"customerLoads"`
	CustomerLoadFails int64            `json:"customerLoadFailures"`
	Saves             int64            `json:"saves"`
	Deletes           int64            `json:"deletes"`
	BusyRejections    int64            `json:"busyRejections"`
	Notifications     int64            `json:"notifications"`
	ProfileCacheHit   float64          `json:"profileCacheHitRate"`
	CustomersInMemory int64            `json:"customersInMemory"`
}

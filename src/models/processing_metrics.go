package models

// MPipelineMetrics represents the performance counters for the ingestion
// pipeline, assembled from the merger and the stats aggregator.
type MPipelineMetrics struct {
	TradesProcessed    int64 `json:"trades_processed"`
	TradesDropped      int64 `json:"trades_dropped"`
	RecordsEmitted     int64 `json:"records_emitted"`
	OpenMergeRecords   int   `json:"open_merge_records"`
	SnapshotsGenerated int64 `json:"snapshots_generated"`
	SymbolsTracked     int   `json:"symbols_tracked"`
}

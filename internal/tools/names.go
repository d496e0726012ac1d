package tools

// Name identifies a tool the runner dispatches.
type Name string

const (
	BatchOperations    Name = "fm_api_batch_operations"
	PaginatedQuery     Name = "fm_api_paginated_query"
	BulkImport         Name = "fm_api_bulk_import"
	BulkExport         Name = "fm_api_bulk_export"
	DataSync           Name = "fm_api_data_sync"
	PerformanceMonitor Name = "fm_api_performance_monitor"
	CacheManagement    Name = "fm_api_cache_management"
	RateLimitHandler   Name = "fm_api_rate_limit_handler"
)

// Names lists every tool in contract order.
func Names() []Name {
	return []Name{
		BatchOperations,
		PaginatedQuery,
		BulkImport,
		BulkExport,
		DataSync,
		PerformanceMonitor,
		CacheManagement,
		RateLimitHandler,
	}
}

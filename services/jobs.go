package services

// Job names shared by the scheduler, the metrics labels and the API.
const (
	JobDiscovery  = "discovery"
	JobEnrichment = "enrichment"
	JobRetention  = "retention"
)

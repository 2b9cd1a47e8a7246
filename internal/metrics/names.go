package metrics

const (
	SessionsTracked = "sessions_tracked"

	WebhookDeliveries       = "webhook_deliveries_total"
	WebhookFailures         = "webhook_failures_total"
	WebhookDeliveryDuration = "webhook_delivery_duration"

	AuthStoreCommits        = "authstore_commits_total"
	AuthStoreCommitRetries  = "authstore_commit_retries_total"
	AuthStoreCommitFailures = "authstore_commit_failures_total"
	AuthStoreCommitDuration = "authstore_commit_duration"

	MediaDownloads        = "media_downloads_total"
	MediaDownloadFailures = "media_download_failures_total"
	MediaCleanupRemoved   = "media_cleanup_removed_total"

	StreamDropped = "stream_dropped_total"

	HTTPRequests        = "http_requests_total"
	HTTPRequestDuration = "http_request_duration"
)

var descriptions = map[string]string{
	SessionsTracked:         "Sessions currently held by the registry",
	WebhookDeliveries:       "Webhook POST attempts",
	WebhookFailures:         "Webhook deliveries that failed or returned non-2xx",
	WebhookDeliveryDuration: "Webhook POST latency",
	AuthStoreCommits:        "Credential store transaction commits",
	AuthStoreCommitRetries:  "Credential store commit attempts that were retried",
	AuthStoreCommitFailures: "Credential store commits that exhausted retries",
	AuthStoreCommitDuration: "Credential store commit latency including retries",
	MediaDownloads:          "Media blobs downloaded",
	MediaDownloadFailures:   "Media downloads that failed",
	MediaCleanupRemoved:     "Media files removed by the cleanup job",
	StreamDropped:           "Envelopes dropped for slow stream subscribers",
	HTTPRequests:            "HTTP requests served",
	HTTPRequestDuration:     "HTTP request latency",
}

func describe(name string) string {
	return descriptions[name]
}

package api

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Snapshot is one engagement measurement in a transport-friendly format.
type Snapshot struct {
	CapturedAt string `json:"capturedAt"`
	Views      int64  `json:"views"`
	Likes      int64  `json:"likes"`
	Comments   int64  `json:"comments"`
	Shares     int64  `json:"shares"`
	Saves      int64  `json:"saves"`
	Followers  int64  `json:"authorFollowers"`
}

// Breakdown exposes the per-layer sub-scores behind a ranking.
type Breakdown struct {
	ViralLift  float64 `json:"viralLift"`
	Velocity   float64 `json:"velocity"`
	Retention  float64 `json:"retention"`
	Cascade    float64 `json:"cascade"`
	Saturation float64 `json:"saturation"`
	Stability  float64 `json:"stability"`
}

// TrendRecord describes a tracked video in a transport-friendly format.
type TrendRecord struct {
	ID             int64     `json:"id"`
	PlatformID     string    `json:"platformId"`
	URL            string    `json:"url,omitempty"`
	Description    string    `json:"description,omitempty"`
	AuthorUsername string    `json:"authorUsername,omitempty"`
	CoverURL       string    `json:"coverUrl,omitempty"`
	AudioTitle     string    `json:"audioTitle,omitempty"`
	Score          float64   `json:"score"`
	Breakdown      Breakdown `json:"breakdown"`
	CascadeCount   int       `json:"cascadeCount"`
	ClusterID      *int      `json:"clusterId,omitempty"`
	PointA         Snapshot  `json:"pointA"`
	PointB         *Snapshot `json:"pointB,omitempty"`
	Saved          bool      `json:"saved"`
	Pending        bool      `json:"pendingRescan"`
	ReconciledAt   string    `json:"reconciledAt,omitempty"`
	CreatedAt      string    `json:"createdAt,omitempty"`
}

// QuickHit is one non-persistent quick-scan result.
type QuickHit struct {
	PlatformID     string  `json:"platformId"`
	URL            string  `json:"url,omitempty"`
	Description    string  `json:"description,omitempty"`
	AuthorUsername string  `json:"authorUsername,omitempty"`
	Views          int64   `json:"views"`
	Score          float64 `json:"score"`
}

// Cluster summarizes one visual cluster from a deep scan.
type Cluster struct {
	ClusterID     int     `json:"clusterId"`
	Size          int     `json:"size"`
	TopPlatformID string  `json:"topPlatformId,omitempty"`
	TopScore      float64 `json:"topScore"`
	MeanScore     float64 `json:"meanScore"`
}

// SearchRequest is the payload for both scan endpoints.
type SearchRequest struct {
	Owner    string   `json:"owner"`
	Keywords []string `json:"keywords"`
}

// QuickScanResponse wraps quick-scan hits.
type QuickScanResponse struct {
	Hits []QuickHit `json:"hits"`
}

// DeepScanResponse wraps persisted deep-scan output.
type DeepScanResponse struct {
	BatchID  string        `json:"batchId,omitempty"`
	Records  []TrendRecord `json:"records"`
	Clusters []Cluster     `json:"clusters,omitempty"`
}

// ResultsResponse wraps a buffer read. Reconciled records in it have been
// consumed and will not appear again.
type ResultsResponse struct {
	Records []TrendRecord `json:"records"`
}

// SavedResponse wraps the persistent collection listing.
type SavedResponse struct {
	Records []TrendRecord `json:"records"`
}

// StatusResponse aggregates daemon runtime information for API consumers.
type StatusResponse struct {
	Running      bool           `json:"running"`
	PID          int            `json:"pid"`
	TrendDBPath  string         `json:"trendDbPath"`
	LockFilePath string         `json:"lockFilePath"`
	Records      RecordStats    `json:"records"`
	Batches      map[string]int `json:"batches"`
}

// RecordStats mirrors the ledger counters.
type RecordStats struct {
	Total      int `json:"total"`
	Saved      int `json:"saved"`
	Pending    int `json:"pending"`
	Reconciled int `json:"reconciled"`
}

package database

// Entry is one catalogued event with its severity ratings.
// Score fields are nil when the upstream annotation left them empty.
type Entry struct {
	EntryNumber      int      `json:"entry_number"`
	Title            string   `json:"title"`
	Synopsis         string   `json:"synopsis"`
	Category         string   `json:"category"`
	Subcategory      *string  `json:"subcategory"`
	Phase            string   `json:"phase"`
	Keywords         []string `json:"keywords"`
	DateStart        *string  `json:"date_start"`
	DateEnd          *string  `json:"date_end"`
	DurationDays     *int     `json:"duration_days"`
	Danger           *float64 `json:"danger"`
	Lawlessness      *float64 `json:"lawlessness"`
	Insanity         *float64 `json:"insanity"`
	Absurdity        *float64 `json:"absurdity"`
	Authoritarianism *float64 `json:"authoritarianism"`
	CredibilityRisk  *float64 `json:"credibility_risk"`
	RecencyIntensity *float64 `json:"recency_intensity"`
	ImpactScope      *float64 `json:"impact_scope"`
	// CompositeScore and CompositeRank are computed upstream and stored as-is.
	CompositeScore *float64 `json:"fucked_up_score"`
	CompositeRank  *int     `json:"fucked_up_rank"`
	RationaleShort *string  `json:"rationale_short"`
	Sources        []string `json:"sources,omitempty"`
}

// Source is a provenance link attached to an entry.
type Source struct {
	ID          int64   `json:"id"`
	EntryNumber int     `json:"entry_number"`
	URL         string  `json:"url"`
	Title       *string `json:"title"`
	SourceDate  *string `json:"source_date"`
	IsPrimary   bool    `json:"is_primary"`
	Fetched     bool    `json:"-"`
}

// Comment is a visitor comment awaiting or past moderation.
type Comment struct {
	ID          string `json:"id"`
	EntryNumber int    `json:"entry_number"`
	UserName    string `json:"user_name"`
	UserEmail   string `json:"-"`
	CommentText string `json:"comment_text"`
	IsApproved  bool   `json:"is_approved"`
	CreatedAt   string `json:"created_at"`
}

// UserScore is one visitor's rating of an entry. Dimensions left blank are nil.
type UserScore struct {
	ID               int64
	EntryNumber      int
	UserID           *string
	Danger           *float64
	Lawlessness      *float64
	Insanity         *float64
	Absurdity        *float64
	Authoritarianism *float64
	CredibilityRisk  *float64
	RecencyIntensity *float64
	ImpactScope      *float64
	CreatedAt        *string
}

// UserScoreSummary averages visitor ratings per dimension for one entry.
type UserScoreSummary struct {
	EntryNumber int                `json:"entry_number"`
	Averages    map[string]float64 `json:"averages"`
	TotalVotes  int                `json:"total_votes"`
}

// VoteStats summarises the single 1..10 vote per visitor for an entry.
type VoteStats struct {
	VoteCount int     `json:"voteCount"`
	AvgScore  float64 `json:"avgScore"`
}

// ImportError records an entry that failed to import.
type ImportError struct {
	ID           int64   `json:"id"`
	ErrorMessage string  `json:"error_message"`
	EntryData    string  `json:"entry_data"`
	CreatedAt    *string `json:"created_at"`
}

// Stats contains aggregate database statistics.
type Stats struct {
	TotalEntries    int     `json:"totalEntries"`
	TotalComments   int     `json:"totalComments"`
	PendingComments int     `json:"pendingComments"`
	TotalScores     int     `json:"totalScores"`
	TotalVotes      int     `json:"totalVotes"`
	TotalSources    int     `json:"totalSources"`
	ImportErrors    int     `json:"importErrors"`
	AvgDanger       float64 `json:"avgDanger"`
}

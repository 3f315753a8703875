package domain

// LoanRecord is the single loan slot for a user. The record is created
// once and reused across loan cycles; Repaid gates re-use.
type LoanRecord struct {
	Owner               Identity `json:"owner"`
	LoanAmount          uint64   `json:"loan_amount"`
	InterestRatePercent uint64   `json:"interest_rate_percent"`
	StartTime           int64    `json:"start_time"`
	EndTime             int64    `json:"end_time"`
	Repaid              bool     `json:"repaid"`
}

// NewLoanRecord returns a dormant, zero-valued loan record.
func NewLoanRecord(owner Identity) *LoanRecord {
	return &LoanRecord{
		Owner:  owner,
		Repaid: true,
	}
}

type LoanState string

const (
	LoanStateNone    LoanState = "none"
	LoanStateDormant LoanState = "dormant"
	LoanStateActive  LoanState = "active"
)

// LoanStateOf maps a loan record (possibly absent) to its lifecycle
// state: none -> dormant -> active -> dormant -> ...
func LoanStateOf(l *LoanRecord) LoanState {
	switch {
	case l == nil:
		return LoanStateNone
	case l.Repaid:
		return LoanStateDormant
	default:
		return LoanStateActive
	}
}

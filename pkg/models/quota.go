package models

// QuotaPeriod defines the time window for a quota policy.
type QuotaPeriod string

const (
	QuotaDaily   QuotaPeriod = "daily"
	QuotaMonthly QuotaPeriod = "monthly"
)

// QuotaPolicy caps the number of upstream requests sent to a provider per period.
// Provider "*" matches every provider.
type QuotaPolicy struct {
	Provider    string      `json:"provider" yaml:"provider" toml:"provider"`
	MaxRequests int64       `json:"max_requests" yaml:"max_requests" toml:"max_requests"`
	Period      QuotaPeriod `json:"period" yaml:"period" toml:"period"`
}

// QuotaStatus shows current usage against a policy.
type QuotaStatus struct {
	Policy      QuotaPolicy `json:"policy"`
	Used        int64       `json:"used"`
	Remaining   int64       `json:"remaining"`
	UsedPercent float64     `json:"used_percent"`
}

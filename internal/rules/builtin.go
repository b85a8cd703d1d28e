package rules

import "github.com/opensource-finance/kestrel/internal/domain"

// BuiltinSegments returns the global segment rules loaded when the store holds none.
func BuiltinSegments() []*domain.SegmentRule {
	return []*domain.SegmentRule{
		{
			ID:          "builtin-enterprise",
			TenantID:    GlobalTenantID,
			Name:        "Enterprise account",
			Description: "Companies with at least 1000 employees",
			Tag:         "enterprise",
			Expression:  "company_size_known && company_size >= 1000",
			Priority:    30,
			Enabled:     true,
		},
		{
			ID:          "builtin-engaged-cold",
			TenantID:    GlobalTenantID,
			Name:        "Engaged but cold",
			Description: "Clicked or downloaded recently but scores below warm",
			Tag:         "engaged-cold",
			Expression:  "(email_clicks > 0 || downloads > 0) && (temperature == 'cold' || temperature == 'frozen')",
			Priority:    20,
			Enabled:     true,
		},
		{
			ID:          "builtin-gone-quiet",
			TenantID:    GlobalTenantID,
			Name:        "Gone quiet",
			Description: "Previously warm or hot lead with no activity for 30 days",
			Tag:         "gone-quiet",
			Expression:  "has_activity && days_since_last_activity > 30 && score >= 40.0",
			Priority:    10,
			Enabled:     true,
		},
		{
			ID:          "builtin-data-gaps",
			TenantID:    GlobalTenantID,
			Name:        "Data gaps",
			Description: "Scored with default-substituted input",
			Tag:         "needs-enrichment",
			Expression:  "degraded",
			Priority:    0,
			Enabled:     true,
		},
	}
}

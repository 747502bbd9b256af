package types

import (
	"strconv"
	"time"
)

// Session is the authenticated customer's active session.
type Session struct {
	CustomerNumber int       `json:"customer_number"`
	CustomerName   string    `json:"customer_name"`
	Email          string    `json:"email"`
	CustomerStatus string    `json:"customer_status"`
	Services       []Service `json:"services"`
}

// Service is a supply point attached to the customer.
type Service struct {
	Service          string `json:"service"`
	Identifier       string `json:"identifier"`
	IsPrimaryService bool   `json:"is_primary_service"`
	ServiceStatus    string `json:"service_status"`
}

// ElectricityService returns the primary power service of the session, or the
// first power service if none is marked primary.
func (s Session) ElectricityService() (Service, bool) {
	var found *Service
	for i := range s.Services {
		svc := &s.Services[i]
		if svc.Service != "Power" {
			continue
		}
		if svc.IsPrimaryService {
			return *svc, true
		}
		if found == nil {
			found = svc
		}
	}
	if found == nil {
		return Service{}, false
	}
	return *found, true
}

// CustomerNumberString returns the customer number as used in URLs and IDs.
func (s Session) CustomerNumberString() string {
	return strconv.Itoa(s.CustomerNumber)
}

// AccountBalance is the running balance of a customer account.
type AccountBalance struct {
	Connections         []AccountConnection `json:"connections"`
	LastBilledAmount    string              `json:"last_billed_amount"`
	LastBilledDate      string              `json:"last_billed_date"`
	NextBillingDate     string              `json:"next_billing_date"`
	IsPrepay            string              `json:"is_prepay"`
	Summary             AccountSummary      `json:"summary"`
	TotalAccountBalance string              `json:"total_account_balance"`
	TotalBillingDays    int                 `json:"total_billing_days"`
	TotalRunningBalance string              `json:"total_running_balance"`
}

// AccountConnection is the per-connection part of an account balance.
type AccountConnection struct {
	ID             int    `json:"id"`
	HOPPercentage  string `json:"hop_percentage"`
	RunningBalance string `json:"running_balance"`
	StartDate      string `json:"start_date"`
	UnbilledDays   int    `json:"unbilled_days"`
}

// AccountSummary breaks the running balance down.
type AccountSummary struct {
	Credits         string `json:"credits"`
	ElectricityUsed string `json:"electricity_used"`
	OtherCharges    string `json:"other_charges"`
	Payments        string `json:"payments"`
}

// BillingDateLayout is the layout of NextBillingDate.
const BillingDateLayout = "2006-01-02"

// HOP is the customer's selected Hour of Power window.
type HOP struct {
	CustomerNumber int      `json:"customer_number"`
	ConnectionID   int      `json:"connection_id"`
	ServiceType    string   `json:"service_type"`
	StartDate      string   `json:"start_date"`
	Start          HOPStart `json:"start"`
	End            HOPEnd   `json:"end"`
}

// HOPStart is the start of the HOP window.
type HOPStart struct {
	StartTime string `json:"start_time"`
	Interval  string `json:"interval"`
}

// HOPEnd is the end of the HOP window.
type HOPEnd struct {
	EndTime  string `json:"end_time"`
	Interval string `json:"interval"`
}

// HOPIntervals lists every selectable HOP window keyed by interval id.
type HOPIntervals struct {
	HOPDuration string                 `json:"hop_duration"`
	Intervals   map[string]HOPInterval `json:"intervals"`
}

// HOPInterval is a single selectable HOP window.
type HOPInterval struct {
	Active    int    `json:"active"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

// Token is an OAuth2 token as stored in a config entry.
type Token struct {
	AccessToken  string    `json:"access_token"`
	TokenType    string    `json:"token_type,omitempty"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	Expiry       time.Time `json:"expiry,omitempty"`
	Scope        []string  `json:"scope,omitempty"`
}

// HasScope reports whether scope was granted.
func (t Token) HasScope(scope string) bool {
	for _, s := range t.Scope {
		if s == scope {
			return true
		}
	}
	return false
}

package domain

import "time"

// EmailRoute is one conditional routing rule on a form: when the named
// submission field matches, the submission's notification also goes to
// EmailTo. All matching rules fire.
type EmailRoute struct {
	ID       string        `json:"id"`
	Field    string        `json:"field"`
	Operator RouteOperator `json:"operator"`
	Value    string        `json:"value"`
	EmailTo  string        `json:"emailTo"`
}

// RouteOperator enumerates the comparison operators for email routing rules.
type RouteOperator string

const (
	RouteEquals     RouteOperator = "equals"
	RouteContains   RouteOperator = "contains"
	RouteStartsWith RouteOperator = "startsWith"
	RouteEndsWith   RouteOperator = "endsWith"
)

// Form is a tenant endpoint: an account-owned form with its own access key,
// settings, and quota (through the owner's plan).
//
// The access key is public and unguessable. It routes submissions to the
// form but is not a secret credential. It is globally unique and immutable
// after creation.
type Form struct {
	ID      string `json:"id" db:"id"`
	OwnerID string `json:"owner_id" db:"owner_id"`
	Name    string `json:"name" db:"name"`

	AccessKey string `json:"access_key" db:"access_key"`
	IsActive  bool   `json:"is_active" db:"is_active"`

	// AllowedDomains is the origin allowlist. Empty means only the
	// service's own canonical origin is allowed for browser requests.
	// A domain entry also matches its subdomains.
	AllowedDomains []string `json:"allowed_domains" db:"allowed_domains"`

	HoneypotField string `json:"honeypot_field" db:"honeypot_field"`
	AISpamFilter  bool   `json:"ai_spam_filter" db:"ai_spam_filter"`

	EmailTo       string       `json:"email_to" db:"email_to"`
	CustomSubject string       `json:"custom_subject" db:"custom_subject"`
	EmailRoutes   []EmailRoute `json:"email_routes" db:"email_routes"`

	WebhookURL    string `json:"webhook_url" db:"webhook_url"`
	WebhookSecret string `json:"-" db:"webhook_secret"`

	AutoResponse        bool   `json:"auto_response" db:"auto_response"`
	AutoResponseMessage string `json:"auto_response_message" db:"auto_response_message"`

	// OwnerPlan is denormalized onto the form at lookup time so the intake
	// path needs a single query.
	OwnerPlan Plan `json:"-" db:"owner_plan"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// MatchesDomain reports whether host is covered by the form's allowlist.
// "mysite.com" matches both "mysite.com" and "app.mysite.com".
func (f *Form) MatchesDomain(host string) bool {
	for _, d := range f.AllowedDomains {
		if host == d || hasDomainSuffix(host, d) {
			return true
		}
	}
	return false
}

func hasDomainSuffix(host, domain string) bool {
	n := len(host) - len(domain)
	return n > 0 && host[n-1] == '.' && host[n:] == domain
}

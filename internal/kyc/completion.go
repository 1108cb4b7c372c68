package kyc

// Importance tiers weigh a field in the completion percentage.
type Importance string

const (
	Required    Importance = "required"
	Recommended Importance = "recommended"
	Optional    Importance = "optional"
)

func (i Importance) weight() int {
	switch i {
	case Required:
		return 3
	case Recommended:
		return 2
	default:
		return 1
	}
}

// MissingField names one unfilled profile field.
type MissingField struct {
	Field      string     `json:"field"`
	Category   string     `json:"category"`
	Importance Importance `json:"importance"`
}

// Completion is derived from the profile fields and never stored as truth.
type Completion struct {
	Percentage    int            `json:"percentage"`
	MissingFields []MissingField `json:"missing_fields"`
}

type completionField struct {
	category   string
	field      string
	importance Importance
	filled     func(Profile) bool
}

func nonEmpty(get func(Profile) string) func(Profile) bool {
	return func(p Profile) bool { return get(p) != "" }
}

// completionFields is in declaration order; missing fields of one tier are
// reported in this order.
var completionFields = []completionField{
	{"personal", "first_name", Required, nonEmpty(func(p Profile) string { return p.Personal.FirstName })},
	{"personal", "last_name", Required, nonEmpty(func(p Profile) string { return p.Personal.LastName })},
	{"personal", "date_of_birth", Required, nonEmpty(func(p Profile) string { return p.Personal.DateOfBirth })},
	{"personal", "nationality", Recommended, nonEmpty(func(p Profile) string { return p.Personal.Nationality })},
	{"personal", "gender", Optional, nonEmpty(func(p Profile) string { return p.Personal.Gender })},

	{"contact", "email", Required, nonEmpty(func(p Profile) string { return p.Contact.Email })},
	{"contact", "phone", Required, nonEmpty(func(p Profile) string { return p.Contact.Phone })},
	{"contact", "country", Required, nonEmpty(func(p Profile) string { return p.Contact.Country })},
	{"contact", "city", Recommended, nonEmpty(func(p Profile) string { return p.Contact.City })},
	{"contact", "street", Recommended, nonEmpty(func(p Profile) string { return p.Contact.Street })},
	{"contact", "postal_code", Optional, nonEmpty(func(p Profile) string { return p.Contact.PostalCode })},

	{"employment", "status", Recommended, nonEmpty(func(p Profile) string { return p.Employment.Status })},
	{"employment", "employer", Optional, nonEmpty(func(p Profile) string { return p.Employment.Employer })},
	{"employment", "occupation", Optional, nonEmpty(func(p Profile) string { return p.Employment.Occupation })},

	{"financial", "annual_income", Recommended, nonEmpty(func(p Profile) string { return p.Financial.AnnualIncome })},
	{"financial", "source_of_funds", Recommended, nonEmpty(func(p Profile) string { return p.Financial.SourceOfFunds })},
	{"financial", "net_worth", Optional, nonEmpty(func(p Profile) string { return p.Financial.NetWorth })},

	{"documents", "identity_document", Required, func(p Profile) bool { return len(p.Documents) > 0 }},
}

// ComputeCompletion weighs filled fields. A profile missing any required
// field never reports more than 99.
func ComputeCompletion(p Profile) Completion {
	var total, filled int
	missing := map[Importance][]MissingField{}
	for _, f := range completionFields {
		w := f.importance.weight()
		total += w
		if f.filled(p) {
			filled += w
			continue
		}
		missing[f.importance] = append(missing[f.importance], MissingField{
			Field:      f.field,
			Category:   f.category,
			Importance: f.importance,
		})
	}

	pct := filled * 100 / total
	if len(missing[Required]) > 0 && pct > 99 {
		pct = 99
	}

	out := make([]MissingField, 0, len(missing[Required])+len(missing[Recommended])+len(missing[Optional]))
	out = append(out, missing[Required]...)
	out = append(out, missing[Recommended]...)
	out = append(out, missing[Optional]...)
	return Completion{Percentage: pct, MissingFields: out}
}

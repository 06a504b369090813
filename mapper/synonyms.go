package mapper

import (
	"sort"
	"strings"
)

// concepts groups names that denote the same profile attribute. Entries are
// written loosely and compared in Compact form.
var concepts = map[string][]string{
	"first_name":          {"first name", "given name", "forename", "fname", "first", "name first"},
	"middle_name":         {"middle name", "middle initial", "mname"},
	"last_name":           {"last name", "surname", "family name", "lname", "last", "name last"},
	"full_name":           {"full name", "name", "your name", "legal name", "complete name"},
	"preferred_name":      {"preferred name", "nickname", "preferred first name"},
	"email":               {"email", "e-mail", "email address", "mail", "e-mail address", "your email"},
	"phone":               {"phone", "phone number", "mobile", "mobile number", "mobile phone", "cell", "cell phone", "telephone", "tel", "contact number"},
	"address":             {"address", "street address", "address line 1", "address1", "street", "mailing address"},
	"address_line2":       {"address line 2", "address2", "apartment", "suite", "apt"},
	"city":                {"city", "town", "locality"},
	"state":               {"state", "province", "region", "state province", "county"},
	"zip":                 {"zip", "zip code", "zipcode", "postal code", "postcode", "post code", "zip postal code"},
	"country":             {"country", "country of residence", "nation"},
	"location":            {"location", "current location", "where are you based"},
	"linkedin":            {"linkedin", "linkedin profile", "linkedin url", "linked in"},
	"github":              {"github", "github profile", "github url"},
	"website":             {"website", "personal website", "portfolio", "portfolio url", "homepage", "url"},
	"resume":              {"resume", "cv", "curriculum vitae", "resume cv", "upload resume", "resume file"},
	"cover_letter":        {"cover letter", "motivation letter", "covering letter"},
	"date_of_birth":       {"date of birth", "dob", "birth date", "birthday", "birthdate"},
	"university":          {"university", "school", "college", "institution", "school name", "university name"},
	"degree":              {"degree", "qualification", "degree type", "highest degree"},
	"major":               {"major", "field of study", "discipline", "course of study", "subject"},
	"gpa":                 {"gpa", "grade point average", "grades"},
	"graduation_date":     {"graduation date", "graduation year", "grad date", "year of graduation", "end date education"},
	"company":             {"company", "current company", "employer", "current employer", "organization", "organisation"},
	"job_title":           {"job title", "title", "current title", "position", "role", "current position"},
	"years_of_experience": {"years of experience", "experience years", "total experience", "yoe", "years experience"},
	"salary":              {"salary", "expected salary", "salary expectation", "desired salary", "compensation", "expected compensation"},
	"start_date":          {"start date", "available from", "availability", "earliest start date", "notice period"},
	"visa_status":         {"visa status", "visa", "work authorization", "work authorisation", "sponsorship", "visa sponsorship", "require sponsorship", "authorized to work", "right to work"},
	"gender":              {"gender", "sex", "gender identity"},
	"pronouns":            {"pronouns", "preferred pronouns"},
	"ethnicity":           {"ethnicity", "race", "race ethnicity"},
	"veteran_status":      {"veteran status", "veteran", "protected veteran"},
	"disability_status":   {"disability status", "disability"},
	"relocate":            {"relocate", "willing to relocate", "relocation", "open to relocation"},
	"remote":              {"remote", "remote work", "work remotely", "open to remote"},
	"referral":            {"referral", "referred by", "how did you hear about us", "source", "referral source"},
	"skills":              {"skills", "key skills", "technical skills", "competencies"},
	"languages":           {"languages", "spoken languages", "language skills"},
}

// optionValues groups option labels that carry the same boolean meaning.
var optionValues = map[string][]string{
	"yes": {"yes", "y", "true", "1", "on", "checked", "agree", "i agree", "accept"},
	"no":  {"no", "n", "false", "0", "off", "unchecked", "disagree", "decline"},
}

var (
	conceptIndex = buildIndex(concepts)
	optionIndex  = buildIndex(optionValues)
)

// buildIndex visits concepts in order so a name listed twice always resolves
// to the same group.
func buildIndex(table map[string][]string) map[string]string {
	keys := make([]string, 0, len(table))
	for concept := range table {
		keys = append(keys, concept)
	}
	sort.Strings(keys)
	index := make(map[string]string)
	add := func(name, concept string) {
		if _, ok := index[name]; !ok {
			index[name] = concept
		}
	}
	for _, concept := range keys {
		add(Compact(concept), concept)
		for _, name := range table[concept] {
			add(Compact(name), concept)
		}
	}
	return index
}

// Concept returns the synonym group s belongs to, or "".
func Concept(s string) string {
	c := Compact(s)
	if concept, ok := conceptIndex[c]; ok {
		return concept
	}
	// "Your Email", "Please enter phone"
	for _, filler := range []string{"your", "enter", "pleaseenter", "please"} {
		if trimmed := strings.TrimPrefix(c, filler); trimmed != c && trimmed != "" {
			if concept, ok := conceptIndex[trimmed]; ok {
				return concept
			}
		}
	}
	return ""
}

func optionConcept(s string) string {
	return optionIndex[Compact(s)]
}

// Package e2e provides end-to-end tests that ingest a generated corpus of
// mixed file types and query it over the HTTP API.
package e2e

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// E2EDocument is a document entry in the corpus.
type E2EDocument struct {
	ID      string
	Title   string
	Content string
}

// QueryTestCase defines a query and the document that must be among its
// top-K passages.
type QueryTestCase struct {
	Query         string
	ExpectedDocID string
	Description   string
}

// Corpus holds documents and query test cases.
type Corpus struct {
	Documents []E2EDocument
	TestCases []QueryTestCase
}

// topics are company handbook sections. Each phrase appears in exactly one
// section.
var topics = []struct {
	title   string
	phrase  string
	content string
}{
	{"Annual Leave", "accrue annual leave", "Full-time employees accrue annual leave at two days per month. Unused annual leave carries over up to ten days."},
	{"Sick Leave", "sick note from a physician", "Absences longer than three days require a sick note from a physician submitted to human resources."},
	{"Parental Leave", "parental leave weeks", "Primary caregivers receive sixteen parental leave weeks at full salary, secondary caregivers receive six."},
	{"Expense Claims", "expense claims receipts", "Submit expense claims receipts within thirty days through the finance portal for reimbursement."},
	{"Business Travel", "economy class flights", "Book economy class flights for trips under six hours. Longer trips may use premium economy with approval."},
	{"Laptop Security", "full disk encryption", "Every laptop must enable full disk encryption and lock the screen after five minutes of inactivity."},
	{"Lost Devices", "lost devices helpdesk", "Report lost devices helpdesk staff within one hour so access tokens can be revoked remotely."},
	{"Remote Work", "remote work allowance", "Employees may work from home three days per week. The remote work allowance covers internet and a desk chair."},
	{"Payroll Schedule", "payroll last working day", "Salaries are paid through payroll last working day of each month by bank transfer."},
	{"Health Insurance", "dental insurance dependents", "The group plan includes medical coverage and dental insurance dependents can join at no extra cost."},
	{"Training Budget", "training budget conferences", "Each engineer has a yearly training budget conferences courses and books can be charged against it."},
	{"Parking Permits", "parking permits facilities", "Request parking permits facilities team issues them monthly for the basement garage."},
	{"Performance Reviews", "performance reviews twice", "Managers hold performance reviews twice a year, in March and September, with written goals."},
	{"Onboarding", "onboarding buddy", "Every new hire is paired with an onboarding buddy for the first ninety days."},
	{"Code of Conduct", "harassment reporting hotline", "Incidents can be raised anonymously through the harassment reporting hotline, which is staffed by an external firm."},
	{"Password Policy", "password manager vault", "Store credentials in the company password manager vault and never reuse passwords across services."},
	{"Office Hours", "core hours between", "Teams agree on core hours between ten and three when meetings may be scheduled."},
	{"Overtime", "overtime compensation time", "Hourly staff receive overtime compensation time at one and a half times the regular rate."},
	{"Relocation", "relocation package movers", "The relocation package movers temporary housing for one month and a flight for family members."},
	{"Pension Plan", "pension matching contributions", "The company offers pension matching contributions up to five percent of base salary."},
	{"Data Retention", "records retained seven years", "Customer records retained seven years after contract end, then deleted by the data team."},
	{"Visitor Access", "visitor badges reception", "Guests sign in and collect visitor badges reception desk staff escort them at all times."},
	{"Bicycle Scheme", "bicycle purchase scheme", "The bicycle purchase scheme lets staff buy a bike through salary sacrifice over twelve months."},
	{"Volunteering Days", "volunteering days charity", "Staff get two paid volunteering days charity work must be registered with the people team."},
}

// BuildCorpus returns one document per handbook topic and one query per document.
func BuildCorpus() *Corpus {
	c := &Corpus{}
	for i, t := range topics {
		id := fmt.Sprintf("handbook-%02d", i+1)
		d := E2EDocument{ID: id, Title: t.title, Content: t.content}
		c.Documents = append(c.Documents, d)
		c.TestCases = append(c.TestCases, QueryTestCase{
			Query:         t.phrase,
			ExpectedDocID: id,
			Description:   fmt.Sprintf("%s finds %s", t.phrase, id),
		})
	}
	return c
}

// WriteFiles writes every document into dir, cycling through exts, and
// returns the file name written for each document ID.
func (c *Corpus) WriteFiles(dir string, exts []string) (map[string]string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	names := make(map[string]string, len(c.Documents))
	for i, d := range c.Documents {
		ext := exts[i%len(exts)]
		name := d.ID + ext
		content, err := WriteMinimalFile(ext, d.Title+"\n\n"+d.Content)
		if err != nil {
			return nil, fmt.Errorf("build %s: %w", name, err)
		}
		if err := os.WriteFile(filepath.Join(dir, name), content, 0644); err != nil {
			return nil, err
		}
		names[d.ID] = name
	}
	return names, nil
}

func containsPhrase(d E2EDocument, phrase string) bool {
	return strings.Contains(d.Title, phrase) || strings.Contains(d.Content, phrase)
}

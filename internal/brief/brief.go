// Package brief renders a company profile as flat, section-tagged text for
// prompts and the knowledge index.
package brief

import (
	"fmt"
	"strings"

	"github.com/sells-group/diligence-cli/internal/model"
)

// Section names a block of the company profile.
type Section string

const (
	SectionCompany  Section = "company"
	SectionTeam     Section = "team"
	SectionProduct  Section = "product"
	SectionMarket   Section = "market"
	SectionTraction Section = "traction"
)

// AllSections lists every section in canonical render order.
var AllSections = []Section{
	SectionCompany,
	SectionTeam,
	SectionProduct,
	SectionMarket,
	SectionTraction,
}

// EmptySection is written under a header whose section has no data.
const EmptySection = "No data provided."

var titles = map[Section]string{
	SectionCompany:  "Company",
	SectionTeam:     "Team",
	SectionProduct:  "Product",
	SectionMarket:   "Market",
	SectionTraction: "Traction",
}

// ParseSection maps a loose section name onto a Section.
func ParseSection(s string) (Section, bool) {
	sec := Section(strings.ToLower(strings.TrimSpace(s)))
	_, ok := titles[sec]
	return sec, ok
}

// Build renders the requested sections of c in canonical order. Unknown and
// duplicate sections are ignored; no sections means all of them.
func Build(c model.Company, sections ...Section) string {
	want := make(map[Section]bool, len(sections))
	for _, s := range sections {
		if _, ok := titles[s]; ok {
			want[s] = true
		}
	}
	all := len(sections) == 0

	var blocks []string
	for _, s := range AllSections {
		if !all && !want[s] {
			continue
		}
		blocks = append(blocks, renderSection(c, s))
	}
	return strings.Join(blocks, "\n")
}

func renderSection(c model.Company, s Section) string {
	var lines []string
	switch s {
	case SectionCompany:
		lines = companyLines(c)
	case SectionTeam:
		lines = teamLines(c.Team)
	case SectionProduct:
		lines = productLines(c.Product)
	case SectionMarket:
		lines = marketLines(c.Market)
	case SectionTraction:
		lines = tractionLines(c.Traction)
	}

	var b strings.Builder
	b.WriteString("## " + titles[s] + "\n")
	if len(lines) == 0 {
		b.WriteString(EmptySection + "\n")
		return b.String()
	}
	for _, l := range lines {
		b.WriteString(l + "\n")
	}
	return b.String()
}

// field appends "Label: value" when value is non-blank.
func field(lines []string, label, value string) []string {
	value = strings.TrimSpace(value)
	if value == "" {
		return lines
	}
	return append(lines, label+": "+value)
}

// list appends "Label: a, b, c" when any item is non-blank.
func list(lines []string, label string, items []string) []string {
	var kept []string
	for _, it := range items {
		if it = strings.TrimSpace(it); it != "" {
			kept = append(kept, it)
		}
	}
	if len(kept) == 0 {
		return lines
	}
	return append(lines, label+": "+strings.Join(kept, ", "))
}

func companyLines(c model.Company) []string {
	var lines []string
	lines = field(lines, "Name", c.Name)
	lines = field(lines, "Sector", c.Sector)
	lines = field(lines, "Stage", c.Stage)
	lines = field(lines, "Ask", c.Ask)
	lines = field(lines, "Website", c.Website)
	lines = field(lines, "Location", c.Location)
	if c.FoundedYear > 0 {
		lines = append(lines, fmt.Sprintf("Founded: %d", c.FoundedYear))
	}
	lines = field(lines, "Description", c.Description)
	return lines
}

func teamLines(t model.Team) []string {
	var lines []string
	if t.Size > 0 {
		lines = append(lines, fmt.Sprintf("Size: %d", t.Size))
	}
	for _, f := range t.Founders {
		if strings.TrimSpace(f.Name) == "" {
			continue
		}
		line := "Founder: " + f.Name
		if f.Role != "" {
			line += " (" + f.Role + ")"
		}
		if f.Background != "" {
			line += " - " + f.Background
		}
		lines = append(lines, line)
	}
	lines = list(lines, "Advisors", t.Advisors)
	lines = field(lines, "Hiring plan", t.HiringPlan)
	return lines
}

func productLines(p model.Product) []string {
	var lines []string
	lines = field(lines, "Name", p.Name)
	lines = field(lines, "Description", p.Description)
	lines = field(lines, "Stage", p.Stage)
	lines = list(lines, "Tech stack", p.TechStack)
	lines = list(lines, "Differentiators", p.Differentiators)
	lines = field(lines, "IP", p.IP)
	return lines
}

func marketLines(m model.Market) []string {
	var lines []string
	lines = field(lines, "TAM", m.TAM)
	lines = field(lines, "SAM", m.SAM)
	lines = field(lines, "SOM", m.SOM)
	lines = list(lines, "Segments", m.Segments)
	lines = list(lines, "Competitors", m.Competitors)
	lines = field(lines, "Geography", m.Geography)
	lines = list(lines, "Trends", m.Trends)
	return lines
}

func tractionLines(t model.Traction) []string {
	var lines []string
	lines = field(lines, "Revenue", t.Revenue)
	lines = field(lines, "Growth rate", t.GrowthRate)
	if t.Customers > 0 {
		lines = append(lines, fmt.Sprintf("Customers: %d", t.Customers))
	}
	for _, km := range t.KeyMetrics {
		if strings.TrimSpace(km.Name) == "" {
			continue
		}
		lines = field(lines, "Metric "+km.Name, km.Value)
	}
	lines = list(lines, "Milestones", t.Milestones)
	lines = field(lines, "Funding raised", t.FundingRaised)
	return lines
}

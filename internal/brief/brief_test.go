package brief

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/diligence-cli/internal/model"
)

func sampleCompany() model.Company {
	return model.Company{
		ID:          "acme",
		Name:        "Acme Robotics",
		Sector:      "Robotics",
		Stage:       "Seed",
		Ask:         "$2M",
		FoundedYear: 2023,
		Team: model.Team{
			Size:     6,
			Founders: []model.Person{{Name: "Ada", Role: "CEO", Background: "ex-Boston Dynamics"}, {Name: ""}},
			Advisors: []string{"Grace", " "},
		},
		Product: model.Product{
			Name:      "Picker",
			TechStack: []string{"ROS", "Go"},
		},
		Traction: model.Traction{
			Revenue:    "$400k ARR",
			Customers:  12,
			KeyMetrics: []model.KeyMetric{{Name: "NRR", Value: "130%"}, {Name: "", Value: "x"}},
		},
	}
}

func TestBuild_AllSectionsCanonicalOrder(t *testing.T) {
	out := Build(sampleCompany())

	idx := func(h string) int { return strings.Index(out, h) }
	assert.True(t, idx("## Company") < idx("## Team"))
	assert.True(t, idx("## Team") < idx("## Product"))
	assert.True(t, idx("## Product") < idx("## Market"))
	assert.True(t, idx("## Market") < idx("## Traction"))

	assert.Contains(t, out, "Name: Acme Robotics\n")
	assert.Contains(t, out, "Founded: 2023\n")
	assert.Contains(t, out, "Founder: Ada (CEO) - ex-Boston Dynamics\n")
	assert.Contains(t, out, "Advisors: Grace\n")
	assert.Contains(t, out, "Tech stack: ROS, Go\n")
	assert.Contains(t, out, "Metric NRR: 130%\n")
	assert.Contains(t, out, "Customers: 12\n")
}

func TestBuild_EmptySection(t *testing.T) {
	out := Build(sampleCompany(), SectionMarket)
	assert.Equal(t, "## Market\nNo data provided.\n", out)
}

func TestBuild_OmitsAbsentFields(t *testing.T) {
	out := Build(sampleCompany(), SectionCompany)
	assert.NotContains(t, out, "Website")
	assert.NotContains(t, out, "Location")
	assert.NotContains(t, out, "Description")
}

func TestBuild_SubsetIgnoresUnknownAndDuplicates(t *testing.T) {
	out := Build(sampleCompany(), SectionTraction, Section("bogus"), SectionCompany, SectionTraction)

	assert.Equal(t, 1, strings.Count(out, "## Traction"))
	assert.NotContains(t, out, "## Team")
	assert.True(t, strings.Index(out, "## Company") < strings.Index(out, "## Traction"))
}

func TestBuild_OnlyUnknownSectionsRendersNothing(t *testing.T) {
	assert.Equal(t, "", Build(sampleCompany(), Section("bogus")))
}

func TestBuild_Deterministic(t *testing.T) {
	c := sampleCompany()
	assert.Equal(t, Build(c), Build(c))
}

func TestParseSection(t *testing.T) {
	s, ok := ParseSection(" Traction ")
	assert.True(t, ok)
	assert.Equal(t, SectionTraction, s)

	_, ok = ParseSection("finance")
	assert.False(t, ok)
}

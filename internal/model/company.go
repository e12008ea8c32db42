package model

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// Company is the profile record an analysis run reads. It is created and
// edited outside the pipeline; the pipeline only reads it.
type Company struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Sector      string    `json:"sector,omitempty"`
	Stage       string    `json:"stage,omitempty"`
	Ask         string    `json:"ask,omitempty"`
	Website     string    `json:"website,omitempty"`
	Location    string    `json:"location,omitempty"`
	FoundedYear int       `json:"founded_year,omitempty"`
	Description string    `json:"description,omitempty"`
	Team        Team      `json:"team"`
	Product     Product   `json:"product"`
	Market      Market    `json:"market"`
	Traction    Traction  `json:"traction"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Person is a founder or key hire.
type Person struct {
	Name       string `json:"name"`
	Role       string `json:"role,omitempty"`
	Background string `json:"background,omitempty"`
}

// Team describes the people behind the company.
type Team struct {
	Size       int      `json:"size,omitempty"`
	Founders   []Person `json:"founders,omitempty"`
	Advisors   []string `json:"advisors,omitempty"`
	HiringPlan string   `json:"hiring_plan,omitempty"`
}

// Product describes what the company sells.
type Product struct {
	Name            string   `json:"name,omitempty"`
	Description     string   `json:"description,omitempty"`
	Stage           string   `json:"stage,omitempty"`
	TechStack       []string `json:"tech_stack,omitempty"`
	Differentiators []string `json:"differentiators,omitempty"`
	IP              string   `json:"ip,omitempty"`
}

// Market describes the addressable market and competitive landscape.
type Market struct {
	TAM         string   `json:"tam,omitempty"`
	SAM         string   `json:"sam,omitempty"`
	SOM         string   `json:"som,omitempty"`
	Segments    []string `json:"segments,omitempty"`
	Competitors []string `json:"competitors,omitempty"`
	Geography   string   `json:"geography,omitempty"`
	Trends      []string `json:"trends,omitempty"`
}

// KeyMetric is a free-form named traction metric.
type KeyMetric struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Traction captures commercial progress to date.
type Traction struct {
	Revenue       string      `json:"revenue,omitempty"`
	GrowthRate    string      `json:"growth_rate,omitempty"`
	Customers     int         `json:"customers,omitempty"`
	KeyMetrics    []KeyMetric `json:"key_metrics,omitempty"`
	Milestones    []string    `json:"milestones,omitempty"`
	FundingRaised string      `json:"funding_raised,omitempty"`
}

// Validate checks the fields the pipeline cannot work without.
func (c Company) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return eris.New("company: id is required")
	}
	if strings.TrimSpace(c.Name) == "" {
		return eris.Errorf("company %s: name is required", c.ID)
	}
	return nil
}

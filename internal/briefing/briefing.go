// Package briefing summarizes the fleet for the start of a working session.
package briefing

import (
	"context"
	"fmt"
	"time"

	"github.com/loykin/workshop/internal/incident"
)

// RecentWindow is how many of the newest incidents are scanned for escalations.
const RecentWindow = 5

// Counter reports fleet size.
type Counter interface {
	RunningCount() int
	TotalCount() int
}

// IncidentSource lists incidents newest first.
type IncidentSource interface {
	GetIncidents(ctx context.Context, q incident.Query) []incident.Incident
}

type Warning struct {
	ID        string         `json:"id"`
	App       string         `json:"app"`
	Event     incident.Event `json:"event"`
	Timestamp time.Time      `json:"timestamp"`
}

type Briefing struct {
	Timestamp       time.Time `json:"timestamp"`
	Greeting        string    `json:"greeting"`
	Summary         string    `json:"summary"`
	ServicesRunning int       `json:"services_running"`
	ServicesTotal   int       `json:"services_total"`
	Warnings        []Warning `json:"warnings"`
}

type Generator struct {
	counts    Counter
	incidents IncidentSource
	name      string
	loc       *time.Location
}

// New builds a generator. name personalizes the greeting and may be empty.
func New(counts Counter, incidents IncidentSource, name string, loc *time.Location) *Generator {
	if loc == nil {
		loc = time.Local
	}
	return &Generator{counts: counts, incidents: incidents, name: name, loc: loc}
}

func (g *Generator) Generate(ctx context.Context, now time.Time) Briefing {
	now = now.In(g.loc)
	running, total := g.counts.RunningCount(), g.counts.TotalCount()
	b := Briefing{
		Timestamp:       now,
		Greeting:        Greeting(now, g.name),
		Summary:         Summary(running, total),
		ServicesRunning: running,
		ServicesTotal:   total,
		Warnings:        []Warning{},
	}
	for _, inc := range g.incidents.GetIncidents(ctx, incident.Query{Limit: RecentWindow}) {
		if inc.Outcome == incident.OutcomeEscalated {
			b.Warnings = append(b.Warnings, Warning{ID: inc.ID, App: inc.AppID, Event: inc.Event, Timestamp: inc.Timestamp})
		}
	}
	return b
}

func Greeting(now time.Time, name string) string {
	part := "evening"
	switch h := now.Hour(); {
	case h < 12:
		part = "morning"
	case h < 17:
		part = "afternoon"
	}
	if name == "" {
		return fmt.Sprintf("Good %s.", part)
	}
	return fmt.Sprintf("Good %s, %s.", part, name)
}

func Summary(running, total int) string {
	switch {
	case running == 0:
		return "No services are running yet. Let's get started."
	case running == total:
		return fmt.Sprintf("All %d services are running. Everything looks good.", total)
	default:
		return fmt.Sprintf("%d of %d services are running.", running, total)
	}
}

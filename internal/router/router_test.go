package router

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/wardenhq/warden/internal/facts"
	"github.com/wardenhq/warden/internal/llm"
	"github.com/wardenhq/warden/pkg/models"
)

func testAgents() []Descriptor {
	return []Descriptor{
		{Name: "docker", Description: "Container management, docker-compose, images, volumes"},
		{Name: "config", Description: "YAML, JSON, configuration files, Home Assistant config"},
		{Name: "homeassistant", Description: "Home Assistant integrations, entities, automations, services"},
		{Name: "consulting", Description: "Analysis, comparison, recommendations, questions"},
		{Name: "design", Description: "System design from scratch with clarifying questions"},
		{Name: "general", Description: "Anything that fits nowhere else"},
	}
}

func TestAnalyzeLLMStructured(t *testing.T) {
	t.Parallel()

	p := llm.NewScriptedProvider(`{
		"task_type": "execution",
		"primary_agent": "docker",
		"secondary_agents": ["config"],
		"complexity": "medium",
		"needs_clarification": false,
		"clarification_question": null,
		"confidence": 0.9,
		"reasoning": "container restart"
	}`)
	r := New(p, testAgents())

	d := r.Analyze(context.Background(), "restart the grafana container")
	if d.Primary != "docker" {
		t.Fatalf("Primary = %q, want docker", d.Primary)
	}
	if len(d.Secondaries) != 1 || d.Secondaries[0] != "config" {
		t.Fatalf("Secondaries = %v, want [config]", d.Secondaries)
	}
	if d.Confidence != 0.9 {
		t.Fatalf("Confidence = %v, want 0.9", d.Confidence)
	}
	if p.Calls() != 1 {
		t.Fatalf("Calls = %d, want 1", p.Calls())
	}

	req := p.RequestAt(0)
	if !strings.Contains(req.System, "docker:") || !strings.Contains(req.System, "consulting") {
		t.Errorf("routing prompt missing agent list:\n%s", req.System)
	}
}

func TestAnalyzeParsesJSONInProse(t *testing.T) {
	t.Parallel()

	p := llm.NewScriptedProvider("Here is my decision:\n```json\n" +
		`{"primary_agent": "homeassistant", "complexity": "simple", "confidence": 0.8}` +
		"\n```\nLet me know.")
	r := New(p, testAgents())

	d := r.Analyze(context.Background(), "fix the zigbee integration")
	if d.Primary != "homeassistant" {
		t.Fatalf("Primary = %q, want homeassistant", d.Primary)
	}
}

func TestAnalyzeFallsBackOnLLMError(t *testing.T) {
	t.Parallel()

	p := llm.NewScriptedProvider()
	p.AddError(errors.New("model unavailable"))
	r := New(p, testAgents())

	d := r.Analyze(context.Background(), "restart the docker container for grafana")
	if d.Primary != "docker" {
		t.Fatalf("Primary = %q, want docker via semantic fallback", d.Primary)
	}
	if d.Reasoning != "semantic match" {
		t.Errorf("Reasoning = %q", d.Reasoning)
	}
}

func TestAnalyzeFallsBackOnBadJSON(t *testing.T) {
	t.Parallel()

	p := llm.NewScriptedProvider("I think docker is the right choice.")
	r := New(p, testAgents())

	d := r.Analyze(context.Background(), "restart the docker container")
	if d.Primary != "docker" {
		t.Fatalf("Primary = %q, want docker via semantic fallback", d.Primary)
	}
}

func TestAnalyzeUnknownPrimaryUsesFallback(t *testing.T) {
	t.Parallel()

	p := llm.NewScriptedProvider(`{"primary_agent": "kubernetes", "complexity": "simple", "confidence": 0.9}`)
	r := New(p, testAgents())

	d := r.Analyze(context.Background(), "do something")
	if d.Primary != "general" {
		t.Fatalf("Primary = %q, want general fallback", d.Primary)
	}
}

func TestSemanticNoMatchLandsOnFallback(t *testing.T) {
	t.Parallel()

	r := New(nil, testAgents())

	d := r.Analyze(context.Background(), "xyzzy plugh")
	if d.Primary != "general" {
		t.Fatalf("Primary = %q, want general", d.Primary)
	}
	if d.Confidence != 0 {
		t.Errorf("Confidence = %v, want 0", d.Confidence)
	}
	if d.Complexity != models.ComplexitySimple {
		t.Errorf("Complexity = %q, want simple", d.Complexity)
	}
}

func TestSemanticOnlySkipsProvider(t *testing.T) {
	t.Parallel()

	p := llm.NewScriptedProvider(`{"primary_agent": "docker"}`)
	r := New(p, testAgents(), WithSemanticOnly())

	r.Analyze(context.Background(), "restart the docker container")
	if p.Calls() != 0 {
		t.Fatalf("Calls = %d, want 0 with semantic-only routing", p.Calls())
	}
}

func TestDesignClarification(t *testing.T) {
	t.Parallel()

	r := New(nil, testAgents())

	d := r.Analyze(context.Background(), "build a kubernetes cluster for my homelab")
	if d.Primary != "design" {
		t.Fatalf("Primary = %q, want design", d.Primary)
	}
	if !d.NeedsClarify {
		t.Fatal("NeedsClarify = false, want true for sizing-free build request")
	}
	if !strings.Contains(d.ClarifyQuestion, "availability") {
		t.Errorf("ClarifyQuestion = %q, want essentials question", d.ClarifyQuestion)
	}
	if len(d.Secondaries) != 0 {
		t.Errorf("Secondaries = %v, want none alongside clarification", d.Secondaries)
	}
}

func TestDesignWithEssentialsSkipsClarification(t *testing.T) {
	t.Parallel()

	r := New(nil, testAgents())

	d := r.Analyze(context.Background(), "build a monitoring system for 200 users with 99.9% availability on 3 nodes")
	if d.Primary != "design" {
		t.Fatalf("Primary = %q, want design", d.Primary)
	}
	if d.NeedsClarify {
		t.Fatal("NeedsClarify = true, want false when essentials are given")
	}
}

func TestClarificationExcludesSecondaries(t *testing.T) {
	t.Parallel()

	p := llm.NewScriptedProvider(`{
		"primary_agent": "design",
		"secondary_agents": ["docker", "config"],
		"needs_clarification": true,
		"clarification_question": "",
		"confidence": 0.7
	}`)
	r := New(p, testAgents())

	d := r.Analyze(context.Background(), "build something")
	if !d.NeedsClarify {
		t.Fatal("NeedsClarify = false")
	}
	if len(d.Secondaries) != 0 {
		t.Fatalf("Secondaries = %v, want dropped", d.Secondaries)
	}
	if d.ClarifyQuestion == "" {
		t.Fatal("ClarifyQuestion empty, want default essentials question")
	}
}

func TestNormalizeBoundsAndDedupe(t *testing.T) {
	t.Parallel()

	p := llm.NewScriptedProvider(`{
		"primary_agent": "Docker",
		"secondary_agents": ["docker", "config", "config", "nonexistent"],
		"complexity": "extreme",
		"confidence": 3.5
	}`)
	r := New(p, testAgents())

	d := r.Analyze(context.Background(), "restart stuff")
	if d.Primary != "docker" {
		t.Fatalf("Primary = %q, want docker (case-normalized)", d.Primary)
	}
	if len(d.Secondaries) != 1 || d.Secondaries[0] != "config" {
		t.Fatalf("Secondaries = %v, want [config]", d.Secondaries)
	}
	if d.Complexity != models.ComplexityMedium {
		t.Errorf("Complexity = %q, want medium default", d.Complexity)
	}
	if d.Confidence != 1 {
		t.Errorf("Confidence = %v, want clamped to 1", d.Confidence)
	}
}

func TestTieBreakUsesSuccessRate(t *testing.T) {
	t.Parallel()

	ledger := facts.Open(filepath.Join(t.TempDir(), "ledger.json"))
	ledger.RecordRouting("alpha", false)
	ledger.RecordRouting("alpha", false)
	ledger.RecordRouting("beta", true)
	ledger.RecordRouting("beta", true)

	agents := []Descriptor{
		{Name: "alpha", Description: "database backup restore postgres"},
		{Name: "beta", Description: "database backup restore mysql"},
	}
	r := New(nil, agents, WithLedger(ledger))

	d := r.Analyze(context.Background(), "backup the database")
	if d.Primary != "beta" {
		t.Fatalf("Primary = %q, want beta (higher success rate)", d.Primary)
	}

	// Without history the raw ranking order holds.
	plain := New(nil, agents)
	if d := plain.Analyze(context.Background(), "backup the database"); d.Primary != "alpha" {
		t.Fatalf("Primary = %q, want alpha without history", d.Primary)
	}
}

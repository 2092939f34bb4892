package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/purushoth411/postmanback/domain"
)

type catalogWriter interface {
	SaveMilestone(ctx context.Context, m domain.Milestone) error
	SaveAdmin(ctx context.Context, id domain.ActorID, first, last string) error
}

type adminSeed struct {
	ID        domain.ActorID `yaml:"id"`
	FirstName string         `yaml:"first_name"`
	LastName  string         `yaml:"last_name"`
}

// seedFile is the MILESTONES_SEED document. A bare YAML list is read as
// milestones only.
type seedFile struct {
	Milestones []domain.Milestone `yaml:"milestones"`
	Admins     []adminSeed        `yaml:"admins"`
}

func readSeed(path string) (*seedFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return parseSeed(raw)
}

func parseSeed(raw []byte) (*seedFile, error) {
	var node yaml.Node
	if err := yaml.Unmarshal(raw, &node); err != nil {
		return nil, err
	}
	var out seedFile
	if len(node.Content) == 0 {
		return &out, nil
	}
	root := node.Content[0]
	var err error
	if root.Kind == yaml.SequenceNode {
		err = root.Decode(&out.Milestones)
	} else {
		err = root.Decode(&out)
	}
	if err != nil {
		return nil, err
	}

	seen := make(map[domain.MilestoneID]struct{}, len(out.Milestones))
	for i := range out.Milestones {
		m := &out.Milestones[i]
		if m.ID <= 0 || strings.TrimSpace(m.Name) == "" || m.Weight < 0 {
			return nil, fmt.Errorf("milestone %d: id, name and non-negative weight are required", i)
		}
		if _, dup := seen[m.ID]; dup {
			return nil, fmt.Errorf("milestone %d: duplicate id %d", i, m.ID)
		}
		seen[m.ID] = struct{}{}
		if m.Status == "" {
			m.Status = domain.CatalogActive
		}
	}
	for i, a := range out.Admins {
		if a.ID <= 0 {
			return nil, fmt.Errorf("admin %d: id is required", i)
		}
	}
	return &out, nil
}

func applySeed(ctx context.Context, w catalogWriter, seed *seedFile) error {
	for _, m := range seed.Milestones {
		if err := w.SaveMilestone(ctx, m); err != nil {
			return fmt.Errorf("milestone %d: %w", m.ID, err)
		}
	}
	for _, a := range seed.Admins {
		if err := w.SaveAdmin(ctx, a.ID, a.FirstName, a.LastName); err != nil {
			return fmt.Errorf("admin %d: %w", a.ID, err)
		}
	}
	return nil
}

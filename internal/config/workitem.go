package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// WorkItem is one requirement to implement: a task statement plus its
// acceptance criteria and the dependencies between them.
type WorkItem struct {
	ID       string      `yaml:"id"`
	Task     string      `yaml:"task"`
	Criteria []Criterion `yaml:"criteria"`
}

// Criterion is one acceptance criterion. In YAML it is either a bare string
// or a mapping with optional dependencies on other criteria.
type Criterion struct {
	Text string   `yaml:"text"`
	Deps []string `yaml:"deps"`
}

func (c *Criterion) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		return value.Decode(&c.Text)
	}
	type plain Criterion
	var p plain
	if err := value.Decode(&p); err != nil {
		return err
	}
	*c = Criterion(p)
	return nil
}

// LoadWorkItem reads and validates a work-item YAML file.
func LoadWorkItem(path string) (*WorkItem, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading work item file: %w", err)
	}

	var item WorkItem
	if err := yaml.Unmarshal(data, &item); err != nil {
		return nil, fmt.Errorf("parsing work item YAML: %w", err)
	}

	if item.ID == "" {
		return nil, fmt.Errorf("work item %s: id is required", path)
	}
	if item.Task == "" {
		return nil, fmt.Errorf("work item %s: task is required", path)
	}
	if len(item.Criteria) == 0 {
		return nil, fmt.Errorf("work item %s: at least one criterion is required", path)
	}
	for i, c := range item.Criteria {
		if c.Text == "" {
			return nil, fmt.Errorf("work item %s: criterion %d has no text", path, i+1)
		}
	}
	return &item, nil
}

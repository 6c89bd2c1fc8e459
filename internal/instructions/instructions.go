package instructions

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/Sh00ty/fleet-upgrader/internal/models"
)

const (
	RollingRulesKey     = "rolling_rules"
	GroupMappingsKey    = "group_mappings"
	RoleDependenciesKey = "role_dependencies"
)

var (
	ErrUnknownInstruction = errors.New("unexpected instruction key")
	ErrInvalidInstruction = errors.New("invalid instruction")
)

// Parse decodes instructions given as a JSON or YAML object. Only
// rolling_rules, group_mappings and role_dependencies are accepted.
// group_mappings keep their document order.
func Parse(data []byte) (models.Instructions, error) {
	var (
		result models.Instructions
		doc    yaml.Node
	)
	err := yaml.Unmarshal(data, &doc)
	if err != nil {
		return result, fmt.Errorf("%w: %w", ErrInvalidInstruction, err)
	}
	if len(doc.Content) == 0 || isNull(doc.Content[0]) {
		return result, nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return result, fmt.Errorf("%w: instructions must be an object", ErrInvalidInstruction)
	}
	for i := 0; i+1 < len(root.Content); i += 2 {
		key, value := root.Content[i].Value, root.Content[i+1]
		switch key {
		case RollingRulesKey:
			result.RollingRules, err = parseRollingRules(value)
		case GroupMappingsKey:
			result.GroupMappings, err = parseGroupMappings(value)
		case RoleDependenciesKey:
			result.RoleDependencies, err = parseDependencies(value)
		default:
			return models.Instructions{}, fmt.Errorf("%w %s", ErrUnknownInstruction, key)
		}
		if err != nil {
			return models.Instructions{}, fmt.Errorf("%w %s: %w", ErrInvalidInstruction, key, err)
		}
	}
	return result, nil
}

// Load reads instructions from a file. A missing file yields empty instructions.
func Load(filename string) (models.Instructions, error) {
	data, err := os.ReadFile(filename)
	if errors.Is(err, os.ErrNotExist) {
		return models.Instructions{}, nil
	}
	if err != nil {
		return models.Instructions{}, fmt.Errorf("failed to read instructions file: %w", err)
	}
	instr, err := Parse(data)
	if err != nil {
		return models.Instructions{}, fmt.Errorf("file %s: %w", filename, err)
	}
	return instr, nil
}

func isNull(node *yaml.Node) bool {
	return node.Kind == yaml.ScalarNode && node.Tag == "!!null"
}

// quota accepts 3, 3.0 and "3", older instruction files quote numbers.
type quota int

func (q *quota) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("quota must be a number, got %q", node.Value)
	}
	num, err := strconv.Atoi(node.Value)
	if err != nil {
		f, ferr := strconv.ParseFloat(node.Value, 64)
		if ferr != nil || f != math.Trunc(f) || math.Abs(f) > math.MaxInt32 {
			return fmt.Errorf("quota must be a whole number, got %q", node.Value)
		}
		num = int(f)
	}
	if num < 0 {
		return fmt.Errorf("quota must not be negative, got %d", num)
	}
	*q = quota(num)
	return nil
}

type rollingRulesDto struct {
	Global *quota            `yaml:"global"`
	Roles  map[string]*quota `yaml:"roles"`
}

func parseRollingRules(node *yaml.Node) (*models.RollingRules, error) {
	if isNull(node) {
		return nil, nil
	}
	var dto rollingRulesDto
	err := node.Decode(&dto)
	if err != nil {
		return nil, err
	}
	rules := &models.RollingRules{
		Roles: make(map[string]int, len(dto.Roles)),
	}
	if dto.Global != nil {
		global := int(*dto.Global)
		rules.Global = &global
	}
	for role, num := range dto.Roles {
		// a role without a value falls back to global
		if num == nil {
			continue
		}
		rules.Roles[role] = int(*num)
	}
	return rules, nil
}

// stringList accepts a single string in place of a list.
type stringList []string

func (l *stringList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		if isNull(node) {
			*l = nil
			return nil
		}
		*l = stringList{node.Value}
		return nil
	case yaml.SequenceNode:
		var list []string
		err := node.Decode(&list)
		if err != nil {
			return err
		}
		*l = list
		return nil
	}
	return fmt.Errorf("expected a string or a list of strings at line %d", node.Line)
}

func parseGroupMappings(node *yaml.Node) (models.GroupMappings, error) {
	if isNull(node) {
		return nil, nil
	}
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("expected an object at line %d", node.Line)
	}
	result := make(models.GroupMappings, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		var patterns stringList
		err := node.Content[i+1].Decode(&patterns)
		if err != nil {
			return nil, err
		}
		group := models.Group(node.Content[i].Value)
		mapping, err := models.NewGroupMapping(group, patterns...)
		if err != nil {
			return nil, fmt.Errorf("group %s: %w", group, err)
		}
		result = append(result, mapping)
	}
	return result, nil
}

func parseDependencies(node *yaml.Node) (models.Dependencies, error) {
	if isNull(node) {
		return nil, nil
	}
	var deps map[string]stringList
	err := node.Decode(&deps)
	if err != nil {
		return nil, err
	}
	result := make(models.Dependencies, len(deps))
	for name, list := range deps {
		result[name] = list
	}
	return result, nil
}

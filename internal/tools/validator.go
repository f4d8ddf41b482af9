package tools

import (
	"errors"
	"fmt"
	"strings"
)

// ValidateCall performs minimal validation of tool call arguments.
func ValidateCall(reg *Registry, name string, args map[string]interface{}) error {
	if reg == nil {
		return errors.New("tool registry unavailable")
	}
	schema, ok := reg.Schema(name)
	if !ok {
		return fmt.Errorf("unknown tool %q", name)
	}
	if err := validateAgainstSchema(schema, args); err != nil {
		return err
	}
	switch name {
	case ToolRead, ToolWrite, ToolEdit, ToolGrep:
		if reg.FS == nil {
			return fmt.Errorf("filesystem tools unavailable")
		}
		if name != ToolGrep && strings.TrimSpace(args["file_path"].(string)) == "" {
			return fmt.Errorf("file_path must not be empty")
		}
		if (name == ToolWrite || name == ToolEdit) && !reg.FS.allowWrite {
			return fmt.Errorf("write operations are disabled by configuration")
		}
	case ToolBash:
		if reg.Terminal == nil || !reg.Terminal.AllowExecution {
			return fmt.Errorf("exec disabled by configuration")
		}
		if timeout, ok := args["timeout"].(float64); ok && timeout < 0 {
			return fmt.Errorf("timeout must be >= 0")
		}
	}
	return nil
}

func validateAgainstSchema(schema Schema, args map[string]interface{}) error {
	for _, field := range schema.Parameters {
		val, exists := args[field.Name]
		if field.Required && !exists {
			return fmt.Errorf("%s is required", field.Name)
		}
		if !exists {
			continue
		}
		switch field.Type {
		case "string":
			if _, ok := val.(string); !ok {
				return fmt.Errorf("%s must be string", field.Name)
			}
		case "boolean":
			if _, ok := val.(bool); !ok {
				return fmt.Errorf("%s must be boolean", field.Name)
			}
		case "array":
			if _, ok := val.([]interface{}); !ok {
				return fmt.Errorf("%s must be array", field.Name)
			}
		case "integer":
			switch val.(type) {
			case float64, int, int64:
			default:
				return fmt.Errorf("%s must be integer", field.Name)
			}
		}
		if len(field.Enum) > 0 {
			s, _ := val.(string)
			valid := false
			for _, allowed := range field.Enum {
				if s == allowed {
					valid = true
					break
				}
			}
			if !valid {
				return fmt.Errorf("%s must be one of %v", field.Name, field.Enum)
			}
		}
	}
	return nil
}

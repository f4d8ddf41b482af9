package tools

// Schema describes a tool for JSON schema/tool-calling.
type Schema struct {
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Parameters  []SchemaField `json:"parameters"`
}

// SchemaField describes a single parameter.
type SchemaField struct {
	Name        string         `json:"name"`
	Type        string         `json:"type"`
	Description string         `json:"description"`
	Required    bool           `json:"required"`
	Enum        []string       `json:"enum,omitempty"`
	Items       map[string]any `json:"items,omitempty"` // element schema for arrays
}

// Tool names understood by the runner.
const (
	ToolRead      = "Read"
	ToolWrite     = "Write"
	ToolEdit      = "Edit"
	ToolBash      = "Bash"
	ToolGrep      = "Grep"
	ToolTodoWrite = "TodoWrite"
)

var todoItemSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"content": map[string]any{"type": "string"},
		"status": map[string]any{
			"type": "string",
			"enum": []string{"pending", "in_progress", "completed", "blocked"},
		},
		"note": map[string]any{"type": "string"},
	},
	"required": []string{"content", "status"},
}

// Schemas provides descriptors for the available tools.
func (r *Registry) Schemas() []Schema {
	return []Schema{
		{
			Name:        ToolRead,
			Description: "Read a file. Output lines are numbered. Relative paths resolve against the workspace.",
			Parameters: []SchemaField{
				{Name: "file_path", Type: "string", Description: "File to read", Required: true},
				{Name: "offset", Type: "integer", Description: "First line to read (1-based)"},
				{Name: "limit", Type: "integer", Description: "Number of lines to read"},
			},
		},
		{
			Name:        ToolWrite,
			Description: "Create or overwrite a file with the given content",
			Parameters: []SchemaField{
				{Name: "file_path", Type: "string", Description: "File to write", Required: true},
				{Name: "content", Type: "string", Description: "Full file content", Required: true},
			},
		},
		{
			Name:        ToolEdit,
			Description: "Replace an exact string in a file. old_string must be unique unless replace_all is set.",
			Parameters: []SchemaField{
				{Name: "file_path", Type: "string", Description: "File to edit", Required: true},
				{Name: "old_string", Type: "string", Description: "Text to replace", Required: true},
				{Name: "new_string", Type: "string", Description: "Replacement text", Required: true},
				{Name: "replace_all", Type: "boolean", Description: "Replace every occurrence"},
			},
		},
		{
			Name:        ToolBash,
			Description: "Run a shell command in the workspace with sh -c",
			Parameters: []SchemaField{
				{Name: "command", Type: "string", Description: "Command line", Required: true},
				{Name: "description", Type: "string", Description: "What the command does"},
				{Name: "timeout", Type: "integer", Description: "Timeout in milliseconds"},
			},
		},
		{
			Name:        ToolGrep,
			Description: "Find lines containing a literal pattern in workspace files",
			Parameters: []SchemaField{
				{Name: "pattern", Type: "string", Description: "Literal text to find", Required: true},
				{Name: "path", Type: "string", Description: "Directory to search, relative to the workspace"},
				{Name: "max_results", Type: "integer", Description: "Maximum matches to return"},
			},
		},
		{
			Name:        ToolTodoWrite,
			Description: "Replace the task list for the current request",
			Parameters: []SchemaField{
				{Name: "todos", Type: "array", Description: "Complete list of todo items", Required: true, Items: todoItemSchema},
			},
		},
	}
}

// InputSchema renders s as JSON schema properties and the required field names.
func (s Schema) InputSchema() (map[string]any, []string) {
	props := make(map[string]any, len(s.Parameters))
	var required []string
	for _, field := range s.Parameters {
		prop := map[string]any{"type": field.Type}
		if field.Description != "" {
			prop["description"] = field.Description
		}
		if len(field.Enum) > 0 {
			prop["enum"] = field.Enum
		}
		if field.Items != nil {
			prop["items"] = field.Items
		}
		props[field.Name] = prop
		if field.Required {
			required = append(required, field.Name)
		}
	}
	return props, required
}

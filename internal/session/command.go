package session

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"golang.org/x/text/unicode/norm"

	"github.com/Finding-Finance-Association/website-sub000/internal/progress"
)

// Command types.
const (
	CmdSignIn          = "sign_in"
	CmdSignOut         = "sign_out"
	CmdOpenCourse      = "open_course"
	CmdSetActiveModule = "set_active_module"
	CmdSetActiveTab    = "set_active_tab"
	CmdToggleModule    = "toggle_module"
	CmdSetUserInput    = "set_user_input"
	CmdClearCourse     = "clear_course"
	CmdGetProgress     = "get_progress"
)

// Response types.
const (
	RespIdentity = "identity"
	RespProgress = "progress"
	RespCleared  = "cleared"
	RespError    = "error"
)

// Command is one client request.
type Command struct {
	ID       string `json:"id,omitempty"`
	Type     string `json:"type"`
	UserID   string `json:"user_id,omitempty"`
	CourseID string `json:"course_id,omitempty"`
	Module   int    `json:"module,omitempty"`
	Tab      string `json:"tab,omitempty"`
	BlockID  string `json:"block_id,omitempty"`
	Text     string `json:"text,omitempty"`
}

// Response answers one Command. ID echoes the command ID.
type Response struct {
	ID       string        `json:"id,omitempty"`
	Type     string        `json:"type"`
	Error    string        `json:"error,omitempty"`
	Identity *IdentityView `json:"identity,omitempty"`
	Progress *ProgressView `json:"progress,omitempty"`
}

type IdentityView struct {
	UserID   string `json:"user_id"`
	LoggedIn bool   `json:"logged_in"`
}

// ProgressView is the client-facing progress of one course.
type ProgressView struct {
	CourseID         string            `json:"course_id"`
	CompletedModules []int             `json:"completed_modules"`
	ActiveModule     int               `json:"active_module"`
	ActiveTab        progress.Tab      `json:"active_tab"`
	UserInputs       map[string]string `json:"user_inputs"`
	TotalModules     int               `json:"total_modules"`
	Percentage       int               `json:"percentage"`
	LastUpdated      int64             `json:"last_updated"`
}

const commandSchema = `{
  "type": "object",
  "required": ["type"],
  "properties": {
    "id":        {"type": "string", "maxLength": 64},
    "type":      {"enum": ["sign_in", "sign_out", "open_course", "set_active_module", "set_active_tab",
                           "toggle_module", "set_user_input", "clear_course", "get_progress"]},
    "user_id":   {"type": "string", "minLength": 1, "maxLength": 128, "pattern": "^[^/]+$"},
    "course_id": {"type": "string", "minLength": 1, "maxLength": 128, "pattern": "^[^/]+$"},
    "module":    {"type": "integer", "minimum": 0},
    "tab":       {"enum": ["lesson", "quiz"]},
    "block_id":  {"type": "string", "minLength": 1, "maxLength": 128},
    "text":      {"type": "string", "maxLength": 20000}
  },
  "allOf": [
    {"if": {"properties": {"type": {"const": "sign_in"}}},
     "then": {"required": ["user_id"]}},
    {"if": {"properties": {"type": {"enum": ["open_course", "clear_course", "get_progress"]}}},
     "then": {"required": ["course_id"]}},
    {"if": {"properties": {"type": {"enum": ["set_active_module", "toggle_module"]}}},
     "then": {"required": ["course_id", "module"]}},
    {"if": {"properties": {"type": {"const": "set_active_tab"}}},
     "then": {"required": ["course_id", "tab"]}},
    {"if": {"properties": {"type": {"const": "set_user_input"}}},
     "then": {"required": ["course_id", "block_id", "text"]}}
  ]
}`

var commandValidator = mustSchema(commandSchema)

func mustSchema(src string) *gojsonschema.Schema {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
	if err != nil {
		panic(fmt.Sprintf("compile schema: %v", err))
	}
	return s
}

// DecodeCommand validates and parses a raw command. Free text is
// normalised to NFC.
func DecodeCommand(data []byte) (Command, error) {
	res, err := commandValidator.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return Command{}, fmt.Errorf("invalid command: %w", err)
	}
	if !res.Valid() {
		msgs := make([]string, 0, len(res.Errors()))
		for _, e := range res.Errors() {
			msgs = append(msgs, e.String())
		}
		return Command{}, fmt.Errorf("invalid command: %s", strings.Join(msgs, "; "))
	}

	var cmd Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		return Command{}, fmt.Errorf("invalid command: %w", err)
	}
	cmd.UserID = norm.NFC.String(cmd.UserID)
	cmd.BlockID = norm.NFC.String(cmd.BlockID)
	cmd.Text = norm.NFC.String(cmd.Text)
	return cmd, nil
}

func errorResponse(id string, err error) Response {
	return Response{ID: id, Type: RespError, Error: err.Error()}
}

package tools

// Kind enumerates the tools the agent can call. The set is closed:
// dispatch switches over it exhaustively.
type Kind int

const (
	KindRunCommand Kind = iota
	KindReadFile
	KindWriteFile
	KindFinishCycle
)

// Name returns the wire name the model uses to call the tool.
func (k Kind) Name() string {
	switch k {
	case KindRunCommand:
		return "bash"
	case KindReadFile:
		return "read_file"
	case KindWriteFile:
		return "write_file"
	case KindFinishCycle:
		return "done_for_now"
	default:
		return ""
	}
}

func (k Kind) String() string { return k.Name() }

// RunCommandArgs are the arguments of the bash tool.
type RunCommandArgs struct {
	Cmd string `json:"cmd"`
}

// ReadFileArgs are the arguments of read_file.
type ReadFileArgs struct {
	Path string `json:"path"`
}

// WriteFileArgs are the arguments of write_file.
type WriteFileArgs struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// FinishCycleArgs are the arguments of done_for_now.
type FinishCycleArgs struct {
	Summary string `json:"summary"`
}

package agent

import "fmt"

// StatusMessage is the user-facing line for a stage start, or for a tool
// call when stage is tool_execute and detail names the tool. Stages with
// nothing worth showing return "".
func StatusMessage(stage, detail string) string {
	switch stage {
	case StageToolExecute:
		if detail == "" {
			return ""
		}
		return toolStatus(detail)
	case StageDirectoryLookup:
		return "🔍 Searching iFixit for device..."
	case StageWebFallback:
		return "🌐 Searching the web for information..."
	case StageAssembleContext:
		return "📋 Loading repair guides..."
	case StageStreamResponse, StageModelInvoke:
		return "✍️ Writing response..."
	}
	return ""
}

func toolStatus(name string) string {
	switch name {
	case ToolFindDevice:
		return "🔍 Searching iFixit for device..."
	case ToolListGuides:
		return "📋 Loading repair guides..."
	case ToolGetGuide:
		return "📖 Fetching repair instructions..."
	case ToolWebSearch:
		return "🌐 Searching the web for information..."
	}
	return fmt.Sprintf("⚙️ Running %s...", name)
}

package assistant

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// DefaultSystemPrompt is used when no prompt file is configured or readable.
const DefaultSystemPrompt = `You are Lepak Driver, a friendly Singapore transit assistant who speaks casual Singlish.

You help with:
- Real-time bus arrivals, by bus stop code or by place name
- Carpark lot availability, by carpark ID or area

Rules:
- When the user gives a place name instead of a 5-digit stop code, use get_bus_arrivals_by_location or find_bus_stops_by_location first.
- Only state arrival times and lot counts that come from tool results. Never make them up.
- If a tool reports an error, explain it simply and suggest what the user can try.
- Keep replies short and easy to read on a phone. Use **bold** for bus numbers and times.`

// LoadSystemPrompt reads the system prompt from path. An empty path, a
// missing file or an empty file yields DefaultSystemPrompt.
func LoadSystemPrompt(path string, logger zerolog.Logger) string {
	if path == "" {
		return DefaultSystemPrompt
	}

	data, err := os.ReadFile(path)
	if err != nil {
		logger.Warn().Err(err).Str("path", path).Msg("system prompt not readable, using default")
		return DefaultSystemPrompt
	}

	prompt := strings.TrimSpace(string(data))
	if prompt == "" {
		logger.Warn().Str("path", path).Msg("system prompt file is empty, using default")
		return DefaultSystemPrompt
	}
	return prompt
}

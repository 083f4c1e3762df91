package ptysup

import (
	"os"
	"sort"
	"strings"
)

// BuildCommandEnv builds a child process environment from the host
// environment with overrides applied left to right. Overrides win on key
// collision; later overrides win over earlier ones. Variables prefixed
// COPILOT_ configure this daemon itself (listen address, idle timeouts,
// host-key policy) and are stripped before the AI CLI child ever sees a
// base environment to override.
func BuildCommandEnv(overrides ...map[string]string) []string {
	envMap := make(map[string]string)
	for _, kv := range os.Environ() {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			continue
		}
		if strings.HasPrefix(parts[0], "COPILOT_") {
			continue
		}
		envMap[parts[0]] = parts[1]
	}

	for _, override := range overrides {
		for key, value := range override {
			if strings.TrimSpace(key) == "" {
				continue
			}
			envMap[key] = value
		}
	}

	keys := make([]string, 0, len(envMap))
	for key := range envMap {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	result := make([]string, 0, len(keys))
	for _, key := range keys {
		result = append(result, key+"="+envMap[key])
	}
	return result
}

package supervisor

import (
	"sort"
	"strings"
)

// childEnv copies base without the scrubbed keys and with extra applied on
// top, in deterministic order.
func childEnv(base []string, scrub []string, extra map[string]string) []string {
	drop := make(map[string]bool, len(scrub))
	for _, k := range scrub {
		drop[k] = true
	}

	envMap := make(map[string]string, len(base)+len(extra))
	for _, kv := range base {
		idx := strings.Index(kv, "=")
		if idx <= 0 {
			continue
		}
		if drop[kv[:idx]] {
			continue
		}
		envMap[kv[:idx]] = kv[idx+1:]
	}
	for k, v := range extra {
		envMap[k] = v
	}

	keys := make([]string, 0, len(envMap))
	for k := range envMap {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	env := make([]string, 0, len(keys))
	for _, k := range keys {
		env = append(env, k+"="+envMap[k])
	}
	return env
}

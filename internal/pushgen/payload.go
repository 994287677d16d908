package pushgen

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"pushramp/internal/config"
)

// LoadPayloads reads the payload file for every job into memory.
func LoadPayloads(dir string, jobs []config.PushJob) (map[string][]byte, error) {
	payloads := make(map[string][]byte, len(jobs))
	for _, job := range jobs {
		path := filepath.Join(dir, job.PayloadFile)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("load payload for %s: %w", job.Name, err)
		}
		payloads[job.Name] = data
	}
	return payloads, nil
}

// InflatePodPayload replicates the payload's series lines with unique
// namespace and pod names per batch, multiplying the series count without
// changing metric names. Comment lines are kept once.
func InflatePodPayload(payload []byte, multiplier int) []byte {
	if multiplier <= 1 {
		return payload
	}
	lines := strings.Split(strings.TrimSpace(string(payload)), "\n")
	var inflated []string
	for m := 0; m < multiplier; m++ {
		batch := fmt.Sprintf("%03d", m)
		for _, line := range lines {
			if strings.HasPrefix(line, "#") || strings.TrimSpace(line) == "" {
				if m == 0 {
					inflated = append(inflated, line)
				}
				continue
			}
			out := strings.ReplaceAll(line,
				`namespace="oci-gpu-scanner-plugin"`,
				`namespace="ns-batch-`+batch+`"`)
			out = strings.ReplaceAll(out, `pod="`, `pod="inflated-`+batch+`-`)
			inflated = append(inflated, out)
		}
	}
	return []byte(strings.Join(inflated, "\n"))
}
